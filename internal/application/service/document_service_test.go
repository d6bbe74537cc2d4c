package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/club-treasury/internal/application/dedup"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

func upload(name, content string) entity.Upload {
	return entity.Upload{FileName: name, MimeType: "application/pdf", Content: []byte(content)}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAddAll, p)

	p, err = ParsePolicy("skip_duplicates")
	require.NoError(t, err)
	assert.Equal(t, PolicySkipDuplicates, p)

	_, err = ParsePolicy("replace")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDocumentService_AttachStoresDigest(t *testing.T) {
	e := newEnv(t, 0)
	claim := e.submittedClaim(t, "12", "Tape")

	result, err := e.docs.AttachDocuments(context.Background(), claim.ID, requester, []entity.Upload{upload("scans/receipt.pdf", "tape receipt")}, PolicyAddAll)
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Empty(t, result.Warnings)

	asset := result.Added[0]
	assert.Equal(t, "receipt.pdf", asset.OriginalName)
	assert.Equal(t, "receipt", asset.DisplayName)
	assert.Equal(t, int64(len("tape receipt")), asset.Size)
	require.NotNil(t, asset.Digest)
	assert.Equal(t, dedup.Hash([]byte("tape receipt")), *asset.Digest)
	assert.Equal(t, "/files/"+asset.Handle, asset.URL)

	stored, err := e.blobs.Download(context.Background(), asset.Handle)
	require.NoError(t, err)
	assert.Equal(t, "tape receipt", string(stored))
	assert.Len(t, e.reload(t, claim.ID).Documents, 1)
}

func TestDocumentService_DuplicatePolicies(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	original := e.submittedClaim(t, "12", "Tape")
	_, err := e.docs.AttachDocuments(ctx, original.ID, requester, []entity.Upload{upload("a.pdf", "same bytes")}, PolicyAddAll)
	require.NoError(t, err)

	target := e.submittedClaim(t, "30", "Chalk")

	t.Run("add_all attaches and warns", func(t *testing.T) {
		result, err := e.docs.AttachDocuments(ctx, target.ID, requester, []entity.Upload{upload("b.pdf", "same bytes")}, PolicyAddAll)
		require.NoError(t, err)
		assert.Len(t, result.Added, 1)
		require.Len(t, result.Warnings, 1)
		w := result.Warnings[0]
		assert.Equal(t, original.ID, w.ClaimID)
		assert.Equal(t, "a.pdf", w.ExistingName)
		assert.Equal(t, "Tape", w.ClaimDescription)
		assert.False(t, w.Skipped)
	})

	t.Run("skip_duplicates leaves the file out", func(t *testing.T) {
		result, err := e.docs.AttachDocuments(ctx, target.ID, requester, []entity.Upload{
			upload("c.pdf", "same bytes"),
			upload("d.pdf", "fresh bytes"),
		}, PolicySkipDuplicates)
		require.NoError(t, err)
		require.Len(t, result.Added, 1)
		assert.Equal(t, "d.pdf", result.Added[0].OriginalName)
		require.NotEmpty(t, result.Warnings)
		for _, w := range result.Warnings {
			assert.True(t, w.Skipped)
			assert.Equal(t, "c.pdf", w.FileName)
		}
	})

	assert.Contains(t, e.events.types(), event.TypeDuplicateDetected)
}

func TestDocumentService_DeletedClaimsAreIgnored(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	old := e.submittedClaim(t, "12", "Tape")
	_, err := e.docs.AttachDocuments(ctx, old.ID, requester, []entity.Upload{upload("a.pdf", "same bytes")}, PolicyAddAll)
	require.NoError(t, err)
	_, err = e.approvals.Delete(ctx, old.ID, requester)
	require.NoError(t, err)

	warnings, err := e.docs.FindDuplicates(ctx, []entity.Upload{upload("b.pdf", "same bytes")})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	_, err = e.docs.AttachDocuments(ctx, old.ID, requester, []entity.Upload{upload("c.pdf", "x")}, PolicyAddAll)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDocumentService_ImportScreensWithinBatch(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	result, err := e.docs.ImportDocuments(ctx, requester, []entity.Upload{
		upload("2025-00001.pdf", "first"),
		upload("2025-00002.pdf", "second"),
		upload("copy-of-first.pdf", "first"),
	}, PolicySkipDuplicates)
	require.NoError(t, err)

	require.Len(t, result.Created, 2)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "copy-of-first.pdf", result.Warnings[0].FileName)
	assert.Equal(t, result.Created[0].ID, result.Warnings[0].ClaimID)

	draft := e.reload(t, result.Created[0].ID)
	assert.Equal(t, entity.StatusDraft, draft.Status)
	assert.Equal(t, "2025-00001", draft.Description)
	assert.True(t, draft.Amount.IsZero())
	require.Len(t, draft.Documents, 1)
	assert.True(t, draft.Documents[0].HasDigest())
}

func TestDocumentService_ValidatesUploads(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	_, err := e.docs.FindDuplicates(ctx, []entity.Upload{upload("", "x")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.docs.ImportDocuments(ctx, requester, []entity.Upload{upload("empty.pdf", "")}, PolicyAddAll)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.docs.ImportDocuments(ctx, "", []entity.Upload{upload("a.pdf", "x")}, PolicyAddAll)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDocumentService_BackfillDigests(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	legacy := &entity.ExpenseClaim{
		ID:          "legacy",
		RequesterID: requester,
		Description: "Old receipts",
		Status:      entity.StatusDraft,
		Documents: []entity.DocumentAsset{
			{ID: "doc-readable", Handle: "legacy/a.pdf", OriginalName: "a.pdf"},
			{ID: "doc-missing", Handle: "legacy/gone.pdf", OriginalName: "gone.pdf"},
		},
	}
	require.NoError(t, e.store.Claims().Create(ctx, legacy))
	_, err := e.blobs.Upload(ctx, []byte("legacy content"), "legacy/a.pdf")
	require.NoError(t, err)

	result, err := e.docs.BackfillDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, []string{"doc-missing"}, result.Unreadable)

	docs := e.reload(t, "legacy").Documents
	for _, d := range docs {
		if d.ID == "doc-readable" {
			require.NotNil(t, d.Digest)
			assert.Equal(t, dedup.Hash([]byte("legacy content")), *d.Digest)
		} else {
			assert.Nil(t, d.Digest)
		}
	}

	again, err := e.docs.BackfillDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Scanned)
	assert.Zero(t, again.Updated)

	warnings, err := e.docs.FindDuplicates(ctx, []entity.Upload{upload("new.pdf", "legacy content")})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "legacy", warnings[0].ClaimID)
}

// flakyBlobs refuses uploads whose path contains "bad"
type flakyBlobs struct {
	*memBlobs
}

func (b flakyBlobs) Upload(ctx context.Context, content []byte, path string) (string, error) {
	if strings.Contains(path, "bad") {
		return "", errors.New("storage unavailable")
	}
	return b.memBlobs.Upload(ctx, content, path)
}

func TestDocumentService_ImportRetryAfterFailedChunk(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	blobs := flakyBlobs{memBlobs: e.blobs}
	docs := NewDocumentService(e.store.Claims(), blobs, e.store, e.runner, e.events, nopLogger{})

	result, err := docs.ImportDocuments(ctx, requester, []entity.Upload{
		upload("receipt.pdf", "club dinner"),
		upload("bad.pdf", "unreadable scan"),
		upload("receipt-retry.pdf", "club dinner"),
	}, PolicySkipDuplicates)

	var partial *domain.PartialBatchFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []int{0}, result.FailedChunks)

	require.Len(t, result.Created, 1)
	assert.Equal(t, "receipt-retry", result.Created[0].Description)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Warnings)

	stored := e.reload(t, result.Created[0].ID)
	require.Len(t, stored.Documents, 1)
	assert.Equal(t, "receipt-retry.pdf", stored.Documents[0].OriginalName)

	claims, err := e.store.Claims().List(ctx, port.ClaimFilter{})
	require.NoError(t, err)
	assert.Len(t, claims, 1)
	assert.Equal(t, 1, e.blobs.count(), "content of the rolled back chunk is removed")
}

func TestDocumentService_AttachRemovesContentWhenStoringFails(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	claim := e.submittedClaim(t, "40", "Balls")
	docs := NewDocumentService(e.store.Claims(), flakyBlobs{memBlobs: e.blobs}, e.store, e.runner, e.events, nopLogger{})

	_, err := docs.AttachDocuments(ctx, claim.ID, requester, []entity.Upload{
		upload("invoice.pdf", "balls invoice"),
		upload("bad.pdf", "torn scan"),
	}, PolicyAddAll)
	require.Error(t, err)

	assert.Zero(t, e.blobs.count())
	assert.Empty(t, e.reload(t, claim.ID).Documents)
}

// traceLog records blob and repository calls in order
type traceLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *traceLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

type tracedBlobs struct {
	*memBlobs
	log *traceLog
}

func (b tracedBlobs) Download(ctx context.Context, handle string) ([]byte, error) {
	b.log.add("download " + handle)
	return b.memBlobs.Download(ctx, handle)
}

type tracedClaims struct {
	port.ClaimRepository
	log *traceLog
}

func (r tracedClaims) SetDocumentDigest(ctx context.Context, documentID, digest string) (bool, error) {
	r.log.add("digest " + documentID)
	return r.ClaimRepository.SetDocumentDigest(ctx, documentID, digest)
}

func TestDocumentService_BackfillReadsContentBeforeWriting(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	log := &traceLog{}
	docs := NewDocumentService(tracedClaims{ClaimRepository: e.store.Claims(), log: log}, tracedBlobs{memBlobs: e.blobs, log: log}, e.store, e.runner, e.events, nopLogger{})

	legacy := &entity.ExpenseClaim{
		ID:          "legacy",
		RequesterID: requester,
		Description: "Old receipts",
		Status:      entity.StatusDraft,
		Documents: []entity.DocumentAsset{
			{ID: "doc-a", Handle: "legacy/a.pdf", OriginalName: "a.pdf"},
			{ID: "doc-b", Handle: "legacy/b.pdf", OriginalName: "b.pdf"},
		},
	}
	require.NoError(t, e.store.Claims().Create(ctx, legacy))
	for _, h := range []string{"legacy/a.pdf", "legacy/b.pdf"} {
		_, err := e.blobs.Upload(ctx, []byte(h), h)
		require.NoError(t, err)
	}

	result, err := docs.BackfillDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)

	require.Len(t, log.calls, 4)
	for _, c := range log.calls[:2] {
		assert.True(t, strings.HasPrefix(c, "download "), c)
	}
	for _, c := range log.calls[2:] {
		assert.True(t, strings.HasPrefix(c, "digest "), c)
	}
}

func TestDocumentService_BackfillStopsWhenCancelled(t *testing.T) {
	e := newEnv(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, e.store.Claims().Create(ctx, &entity.ExpenseClaim{
		ID:          "legacy",
		RequesterID: requester,
		Description: "Old receipts",
		Status:      entity.StatusDraft,
		Documents:   []entity.DocumentAsset{{ID: "doc-a", Handle: "legacy/a.pdf", OriginalName: "a.pdf"}},
	}))
	cancel()

	_, err := e.docs.BackfillDigests(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, e.reload(t, "legacy").Documents[0].Digest)
}
