package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

type mockFinder struct {
	mock.Mock
}

func (m *mockFinder) FindByHash(ctx context.Context, ownerID uuid.UUID, contentHash string) (*entity.Attachment, error) {
	args := m.Called(ctx, ownerID, contentHash)
	att, _ := args.Get(0).(*entity.Attachment)
	return att, args.Error(1)
}

func TestHash(t *testing.T) {
	a := Hash([]byte("invoice body"))
	b := Hash([]byte("invoice body"))
	c := Hash([]byte("invoice body "))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	streamed, n, err := HashReader(strings.NewReader("invoice body"))
	require.NoError(t, err)
	assert.Equal(t, a, streamed)
	assert.Equal(t, int64(12), n)
}

func TestCheckDuplicate_Found(t *testing.T) {
	owner := uuid.New()
	uploadID := uuid.New()
	att := &entity.Attachment{ID: uuid.New(), OwnerID: owner, Filename: "bill.pdf", ManualUploadID: &uploadID}

	finder := new(mockFinder)
	finder.On("FindByHash", mock.Anything, owner, "h1").Return(att, nil)

	res, err := NewDetector(finder, nil).CheckDuplicate(context.Background(), "h1", owner)

	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, att.ID, *res.ExistingAttachmentID)
	assert.Equal(t, "bill.pdf", res.ExistingFilename)
	assert.Equal(t, uploadID, *res.ExistingManualUploadID)
	finder.AssertExpectations(t)
}

func TestCheckDuplicate_EmailAttachmentHasNoUpload(t *testing.T) {
	owner := uuid.New()
	finder := new(mockFinder)
	finder.On("FindByHash", mock.Anything, owner, "h1").Return(&entity.Attachment{ID: uuid.New(), Filename: "a.pdf"}, nil)

	res, err := NewDetector(finder, nil).CheckDuplicate(context.Background(), "h1", owner)

	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Nil(t, res.ExistingManualUploadID)
}

func TestCheckDuplicate_NotFound(t *testing.T) {
	owner := uuid.New()
	finder := new(mockFinder)
	finder.On("FindByHash", mock.Anything, owner, "h2").Return(nil, common.ErrNotFound)

	res, err := NewDetector(finder, nil).CheckDuplicate(context.Background(), "h2", owner)

	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Nil(t, res.ExistingAttachmentID)
}

func TestCheckDuplicate_LookupErrorPropagates(t *testing.T) {
	owner := uuid.New()
	finder := new(mockFinder)
	finder.On("FindByHash", mock.Anything, owner, "h3").Return(nil, common.ErrDatabase)

	_, err := NewDetector(finder, nil).CheckDuplicate(context.Background(), "h3", owner)

	assert.True(t, errors.Is(err, common.ErrDatabase))
}

func TestCheckDuplicate_InvalidInput(t *testing.T) {
	_, err := NewDetector(new(mockFinder), nil).CheckDuplicate(context.Background(), "", uuid.New())
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
