package entity

import (
	"time"

	"github.com/google/uuid"
)

// CustomSchema holds a user's extra extraction fields. Only one per owner is active.
type CustomSchema struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Name      string        `json:"name"`
	Fields    []CustomField `json:"fields"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CustomField is one user-defined field. Type is one of string|text|number|integer|date|boolean|select|array.
type CustomField struct {
	Name         string   `json:"name"`
	Label        string   `json:"label,omitempty"`
	Type         string   `json:"type"`
	Required     bool     `json:"required"`
	Description  string   `json:"description,omitempty"`
	Options      []string `json:"options,omitempty"`
	DefaultValue any      `json:"default_value,omitempty"`
}
