// Package dedup detects re-submitted files by content hash, per owner.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

// AttachmentFinder is the storage lookup the detector needs.
type AttachmentFinder interface {
	FindByHash(ctx context.Context, ownerID uuid.UUID, contentHash string) (*entity.Attachment, error)
}

type Detector struct {
	finder AttachmentFinder
	logger *slog.Logger
}

func NewDetector(finder AttachmentFinder, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{finder: finder, logger: logger}
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// CheckDuplicate has no side effects. Lookup errors are returned unchanged in meaning:
// callers must abort ingestion rather than risk a silent duplicate.
func (d *Detector) CheckDuplicate(ctx context.Context, contentHash string, ownerID uuid.UUID) (entity.DuplicateResult, error) {
	if contentHash == "" || ownerID == uuid.Nil {
		return entity.DuplicateResult{}, common.NewAppError("INVALID_INPUT", "content hash and owner are required", common.ErrInvalidInput)
	}

	att, err := d.finder.FindByHash(ctx, ownerID, contentHash)
	if errors.Is(err, common.ErrNotFound) {
		return entity.DuplicateResult{IsDuplicate: false}, nil
	}
	if err != nil {
		return entity.DuplicateResult{}, fmt.Errorf("check duplicate: %w", err)
	}

	id := att.ID
	res := entity.DuplicateResult{
		IsDuplicate:          true,
		ExistingAttachmentID: &id,
		ExistingFilename:     att.Filename,
	}
	if att.ManualUploadID != nil {
		upload := *att.ManualUploadID
		res.ExistingManualUploadID = &upload
	}
	d.logger.Info("dedup.hit", "owner_id", ownerID, "attachment_id", att.ID, "filename", att.Filename)
	return res, nil
}
