package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/blob"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/repository"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// memStore stands in for the attachment and staging repositories.
type memStore struct {
	mu       sync.Mutex
	staged   []repository.StageParams
	stageErr error
	lookErr  error
	// racer is committed by the next Stage call, which then reports a unique violation.
	racer *repository.StageParams
}

func (m *memStore) Stage(_ context.Context, p repository.StageParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stageErr != nil {
		return m.stageErr
	}
	if m.racer != nil {
		m.staged = append(m.staged, *m.racer)
		m.racer = nil
		return fmt.Errorf("duplicate row: %w", common.ErrConflict)
	}
	m.staged = append(m.staged, p)
	return nil
}

func (m *memStore) CheckDuplicate(_ context.Context, hash string, owner uuid.UUID) (entity.DuplicateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookErr != nil {
		return entity.DuplicateResult{}, m.lookErr
	}
	for _, p := range m.staged {
		if a := p.Attachment; a != nil && a.OwnerID == owner && a.ContentHash == hash {
			id := a.ID
			return entity.DuplicateResult{IsDuplicate: true, ExistingAttachmentID: &id, ExistingFilename: a.Filename}, nil
		}
	}
	return entity.DuplicateResult{}, nil
}

func (m *memStore) GetBySource(_ context.Context, source uuid.UUID) (*entity.StagedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.staged {
		if p.Document.SourceID == source {
			return p.Document, nil
		}
	}
	return nil, common.ErrNotFound
}

type stubText struct{ text string }

func (s stubText) PDFText(context.Context, []byte) (string, error) { return s.text, nil }

type dupCounter struct{ n int }

func (d *dupCounter) RecordDuplicate(constants.DocumentKind) { d.n++ }

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memStore, *blob.DirStore) {
	t.Helper()
	store := &memStore{}
	blobs, err := blob.NewDirStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(store, store, store, blobs, 3, quiet,
		WithTextExtractor(stubText{text: "Invoice total 100"}),
		WithClock(func() time.Time { return fixedNow }))
	return svc, store, blobs
}

func TestIngestFile_StagesPendingDocument(t *testing.T) {
	svc, store, blobs := newService(t)
	owner := uuid.New()

	res, err := svc.IngestFile(context.Background(), FileRequest{
		OwnerID:      owner,
		Filename:     "march.pdf",
		Data:         []byte("%PDF-1.4 not really"),
		DocumentType: "invoice",
		Metadata:     map[string]any{"folder": "bills", constants.MetaProcessingMethod: "forged"},
	})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, constants.KindPDF, res.Kind)
	require.NotNil(t, res.ManualUploadID)

	require.Len(t, store.staged, 1)
	p := store.staged[0]
	doc := p.Document
	assert.Equal(t, constants.StatusPending, doc.Status)
	assert.Equal(t, 0, doc.Attempts)
	assert.Equal(t, 3, doc.MaxAttempts)
	assert.Equal(t, p.Attachment.ID, doc.SourceID)
	assert.Equal(t, constants.SourceManual, doc.SourceKind)
	assert.Equal(t, "application/pdf", doc.MIMEType)
	assert.Equal(t, "Invoice total 100", doc.TextContent)
	assert.Equal(t, fixedNow, doc.CreatedAt)
	assert.Equal(t, "bills", doc.Metadata["folder"])
	assert.NotContains(t, doc.Metadata, constants.MetaProcessingMethod)
	assert.Equal(t, *res.ManualUploadID, *p.Attachment.ManualUploadID)
	assert.Equal(t, p.Upload.ID, *res.ManualUploadID)

	stored, err := blobs.Get(context.Background(), doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 not really"), stored)
}

func TestIngestFile_DuplicateShortCircuits(t *testing.T) {
	svc, store, _ := newService(t)
	counter := &dupCounter{}
	svc.recorder = counter
	owner := uuid.New()
	req := FileRequest{OwnerID: owner, Filename: "r.png", Data: []byte{1, 2, 3}}

	first, err := svc.IngestFile(context.Background(), req)
	require.NoError(t, err)
	req.Filename = "renamed.png"
	second, err := svc.IngestFile(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.AttachmentID, *second.Duplicate.ExistingAttachmentID)
	assert.Equal(t, "r.png", second.Duplicate.ExistingFilename)
	assert.Len(t, store.staged, 1)
	assert.Equal(t, 1, counter.n)

	// another owner may submit the same bytes
	other, err := svc.IngestFile(context.Background(), FileRequest{OwnerID: uuid.New(), Filename: "r.png", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.False(t, other.Deduplicated)
}

func TestIngestFile_UnsupportedType(t *testing.T) {
	svc, store, _ := newService(t)
	_, err := svc.IngestFile(context.Background(), FileRequest{OwnerID: uuid.New(), Filename: "notes.docx", Data: []byte("x")})
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, store.staged)
}

func TestIngestFile_LookupErrorAborts(t *testing.T) {
	svc, store, _ := newService(t)
	store.lookErr = fmt.Errorf("query: %w", common.ErrDatabase)
	_, err := svc.IngestFile(context.Background(), FileRequest{OwnerID: uuid.New(), Filename: "a.pdf", Data: []byte("x")})
	require.ErrorIs(t, err, common.ErrDatabase)
	assert.Empty(t, store.staged)
}

func TestIngestFile_StageFailureRemovesBlob(t *testing.T) {
	svc, store, blobs := newService(t)
	store.stageErr = errors.New("tx aborted")
	owner := uuid.New()
	data := []byte("hello")

	_, err := svc.IngestFile(context.Background(), FileRequest{OwnerID: owner, Filename: "a.txt", Data: data})
	require.Error(t, err)

	hash := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	_, err = blobs.Get(context.Background(), blob.Key(owner, hash, "txt"))
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestIngestFile_ConcurrentStageReportsDuplicate(t *testing.T) {
	svc, store, blobs := newService(t)
	counter := &dupCounter{}
	svc.recorder = counter
	owner := uuid.New()
	data := []byte("hello")
	hash := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	winner := &entity.Attachment{ID: uuid.New(), OwnerID: owner, ContentHash: hash, Filename: "first.txt"}
	store.racer = &repository.StageParams{
		Attachment: winner,
		Document:   &entity.StagedDocument{ID: uuid.New(), OwnerID: owner, SourceID: winner.ID},
	}

	res, err := svc.IngestFile(context.Background(), FileRequest{OwnerID: owner, Filename: "a.txt", Data: data})
	require.NoError(t, err)

	assert.True(t, res.Deduplicated)
	assert.True(t, res.Duplicate.IsDuplicate)
	require.NotNil(t, res.Duplicate.ExistingAttachmentID)
	assert.Equal(t, winner.ID, *res.Duplicate.ExistingAttachmentID)
	assert.Equal(t, "first.txt", res.Duplicate.ExistingFilename)
	assert.Equal(t, 1, counter.n)
	assert.Len(t, store.staged, 1)

	_, err = blobs.Get(context.Background(), blob.Key(owner, hash, "txt"))
	assert.NoError(t, err, "blob shared with the winning row is kept")
}

func TestIngestFile_RequiresOwnerAndData(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.IngestFile(context.Background(), FileRequest{Filename: "a.pdf", Data: []byte("x")})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = svc.IngestFile(context.Background(), FileRequest{OwnerID: uuid.New(), Filename: "a.pdf"})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestIngestFile_RejectsBadFields(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.IngestFile(context.Background(), FileRequest{
		OwnerID:    uuid.New(),
		Filename:   "a.pdf",
		Data:       []byte("x"),
		SourceKind: "fax",
		Priority:   -1,
	})
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Contains(t, err.Error(), "source_kind")
	assert.Contains(t, err.Error(), "priority")
}

func TestIngestEmailBody(t *testing.T) {
	svc, store, _ := newService(t)
	owner, email := uuid.New(), uuid.New()
	req := EmailBodyRequest{
		OwnerID: owner,
		EmailID: email,
		Subject: "Your Uber receipt: Friday",
		Body:    "<html><body><p>Total ₹ 240</p></body></html>",
	}

	res, err := svc.IngestEmailBody(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, store.staged, 1)
	doc := store.staged[0].Document
	assert.Nil(t, store.staged[0].Attachment)
	assert.Equal(t, res.StagedID, doc.ID)
	assert.Equal(t, email, doc.SourceID)
	assert.Equal(t, constants.KindText, doc.Kind)
	assert.Equal(t, constants.SourceEmail, doc.SourceKind)
	assert.Equal(t, "text/html", doc.MIMEType)
	assert.Equal(t, "Your_Uber_receipt_Friday.html", doc.Filename)
	assert.Equal(t, "Your Uber receipt: Friday", doc.Metadata["subject"])

	again, err := svc.IngestEmailBody(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, doc.ID, again.StagedID)
	assert.Len(t, store.staged, 1)
}

func TestIngestEmailBody_BlankBody(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.IngestEmailBody(context.Background(), EmailBodyRequest{OwnerID: uuid.New(), EmailID: uuid.New(), Body: "  \n"})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestIngestDirectory(t *testing.T) {
	svc, store, _ := newService(t)
	root := t.TempDir()
	write := func(rel string, data string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
	write("a.pdf", "%PDF a")
	write("b.png", "png bytes")
	write("copy-of-b.png", "png bytes")
	write("sub/c.txt", "plain receipt")
	write(".hidden.pdf", "%PDF hidden")
	write(".cache/d.pdf", "%PDF cached")
	write("notes.docx", "ignored")

	results, stats, err := svc.IngestDirectory(context.Background(), uuid.New(), root, DirOptions{SkipHidden: true, Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stats.Matched)
	assert.Equal(t, uint32(4), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Deduplicated)
	assert.Equal(t, uint32(0), stats.Failed)
	assert.Len(t, results, 4)
	assert.Len(t, store.staged, 3)
	for _, r := range results {
		assert.Empty(t, r.Err, r.Path)
	}
}

func TestCleanMetadata(t *testing.T) {
	in := map[string]any{"a": 1}
	for _, k := range constants.ReservedMetadataKeys {
		in[k] = "x"
	}
	out := CleanMetadata(in)
	assert.Equal(t, map[string]any{"a": 1}, out)
	assert.Len(t, in, 1+len(constants.ReservedMetadataKeys), "input untouched")
	assert.NotNil(t, CleanMetadata(nil))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.lock("a")()
	}()
	select {
	case <-done:
		t.Fatal("second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
	assert.Empty(t, k.keys)
}
