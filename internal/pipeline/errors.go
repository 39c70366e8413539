package pipeline

import (
	"context"
	"errors"
	"net"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/staging"
)

var (
	// ErrNoValidRecords means the backend answered but flagged every candidate invalid.
	ErrNoValidRecords = errors.New("pipeline: no valid records extracted")
	// ErrNoText means there was no text to send to the LLM.
	ErrNoText = errors.New("pipeline: no text available for extraction")
	// ErrUnsupportedKind is returned for documents of an unknown kind.
	ErrUnsupportedKind = errors.New("pipeline: unsupported document kind")
	// ErrImageTooLarge is returned for images above constants.MaxImageBytes.
	ErrImageTooLarge = errors.New("pipeline: image too large for multimodal extraction")

	errStorage = errors.New("storage")
)

// Kind classifies err for the error_type metadata key.
func Kind(err error) constants.ErrorKind {
	var netErr net.Error
	switch {
	case errors.Is(err, staging.ErrLeaseExpired):
		return constants.ErrKindLeaseExpired
	case errors.Is(err, ErrNoValidRecords):
		return constants.ErrKindNoValidRecords
	case errors.Is(err, common.ErrValidation):
		return constants.ErrKindValidation
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return constants.ErrKindBackendTimeout
	case errors.Is(err, errStorage),
		errors.Is(err, common.ErrDatabase),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrConflict):
		return constants.ErrKindStorage
	default:
		return constants.ErrKindBackend
	}
}
