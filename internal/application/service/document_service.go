package service

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/dedup"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

// AttachPolicy decides what happens to a file whose content is already on file
type AttachPolicy string

const (
	// PolicyAddAll attaches duplicates anyway and only warns
	PolicyAddAll AttachPolicy = "add_all"
	// PolicySkipDuplicates leaves duplicates out
	PolicySkipDuplicates AttachPolicy = "skip_duplicates"
)

// ParsePolicy maps a request value to a policy, defaulting to PolicyAddAll
func ParsePolicy(s string) (AttachPolicy, error) {
	switch AttachPolicy(s) {
	case "", PolicyAddAll:
		return PolicyAddAll, nil
	case PolicySkipDuplicates:
		return PolicySkipDuplicates, nil
	default:
		return "", &domain.ValidationError{Field: "policy", Reason: "must be add_all or skip_duplicates"}
	}
}

// AttachResult lists what was stored and which files were duplicates
type AttachResult struct {
	Claim    *entity.ExpenseClaim               `json:"claim"`
	Added    []entity.DocumentAsset             `json:"added"`
	Warnings []*domain.DuplicateDocumentWarning `json:"warnings"`
}

// ImportResult reports a batch document import
type ImportResult struct {
	Created      []*entity.ExpenseClaim             `json:"created"`
	Warnings     []*domain.DuplicateDocumentWarning `json:"warnings"`
	Skipped      int                                `json:"skipped"`
	FailedChunks []int                              `json:"failed_chunks,omitempty"`
}

// BackfillResult reports a digest backfill
type BackfillResult struct {
	Scanned    int      `json:"scanned"`
	Updated    int      `json:"updated"`
	AlreadySet int      `json:"already_set"`
	Unreadable []string `json:"unreadable,omitempty"`
}

// DocumentService attaches documents and guards against duplicate content
type DocumentService interface {
	FindDuplicates(ctx context.Context, uploads []entity.Upload) ([]*domain.DuplicateDocumentWarning, error)
	AttachDocuments(ctx context.Context, claimID, actor string, uploads []entity.Upload, policy AttachPolicy) (*AttachResult, error)
	ImportDocuments(ctx context.Context, requester string, uploads []entity.Upload, policy AttachPolicy) (*ImportResult, error)
	BackfillDigests(ctx context.Context) (*BackfillResult, error)
}

type documentServiceImpl struct {
	claimRepo port.ClaimRepository
	blobs     port.BlobStore
	txManager port.TransactionManager
	runner    *batch.Runner
	publisher port.EventPublisher
	logger    Logger
	now       func() time.Time
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	claimRepo port.ClaimRepository,
	blobs port.BlobStore,
	txManager port.TransactionManager,
	runner *batch.Runner,
	publisher port.EventPublisher,
	logger Logger,
) DocumentService {
	return &documentServiceImpl{
		claimRepo: claimRepo,
		blobs:     blobs,
		txManager: txManager,
		runner:    runner,
		publisher: publisher,
		logger:    logger,
		now:       utcNow,
	}
}

// hashed is an upload with its digest
type hashed struct {
	upload entity.Upload
	digest string
}

func hashAll(uploads []entity.Upload) ([]hashed, error) {
	out := make([]hashed, 0, len(uploads))
	for i, u := range uploads {
		if strings.TrimSpace(u.FileName) == "" {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("uploads[%d].file_name", i), Reason: "is required"}
		}
		if len(u.Content) == 0 {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("uploads[%d].content", i), Reason: "is empty"}
		}
		out = append(out, hashed{upload: u, digest: dedup.Hash(u.Content)})
	}
	return out, nil
}

func (s *documentServiceImpl) corpus(ctx context.Context) (*dedup.Index, error) {
	claims, err := s.claimRepo.List(ctx, port.ClaimFilter{})
	if err != nil {
		return nil, fmt.Errorf("load claims for duplicate screening: %w", err)
	}
	return dedup.NewIndex(claims), nil
}

// FindDuplicates screens uploads against every non-deleted claim without storing anything
func (s *documentServiceImpl) FindDuplicates(ctx context.Context, uploads []entity.Upload) ([]*domain.DuplicateDocumentWarning, error) {
	files, err := hashAll(uploads)
	if err != nil {
		return nil, err
	}
	claims, err := s.claimRepo.List(ctx, port.ClaimFilter{})
	if err != nil {
		return nil, fmt.Errorf("load claims for duplicate screening: %w", err)
	}

	candidates := make([]dedup.Candidate, 0, len(files))
	for _, f := range files {
		candidates = append(candidates, dedup.Candidate{FileName: f.upload.FileName, Digest: f.digest})
	}

	dups := dedup.FindDuplicates(candidates, claims)
	warnings := make([]*domain.DuplicateDocumentWarning, 0, len(dups))
	for _, d := range dups {
		warnings = append(warnings, d.Warning(false))
	}
	return warnings, nil
}

// screen decides whether a file is kept under policy and returns its warnings.
// Every index is searched, in order.
func screen(f hashed, policy AttachPolicy, indexes ...*dedup.Index) (bool, []*domain.DuplicateDocumentWarning) {
	candidate := dedup.Candidate{FileName: f.upload.FileName, Digest: f.digest}
	var dups []dedup.Duplicate
	for _, idx := range indexes {
		dups = append(dups, idx.Lookup(candidate)...)
	}
	skip := len(dups) > 0 && policy == PolicySkipDuplicates

	warnings := make([]*domain.DuplicateDocumentWarning, 0, len(dups))
	for _, d := range dups {
		warnings = append(warnings, d.Warning(skip))
	}
	return !skip, warnings
}

// store uploads the content and builds the asset record
func (s *documentServiceImpl) store(ctx context.Context, claimID, actor string, f hashed) (entity.DocumentAsset, error) {
	id := uuid.NewString()
	name := filepath.Base(f.upload.FileName)
	handle, err := s.blobs.Upload(ctx, f.upload.Content, path.Join("claims", claimID, id+"-"+name))
	if err != nil {
		return entity.DocumentAsset{}, fmt.Errorf("upload %s: %w", name, err)
	}

	digest := f.digest
	return entity.DocumentAsset{
		ID:           id,
		ClaimID:      claimID,
		Handle:       handle,
		URL:          s.blobs.PublicURL(handle),
		OriginalName: name,
		DisplayName:  strings.TrimSuffix(name, filepath.Ext(name)),
		MimeType:     f.upload.MimeType,
		Size:         f.upload.Size(),
		Digest:       &digest,
		UploadedBy:   actor,
		UploadedAt:   s.now(),
	}, nil
}

// discard removes uploaded content whose records were never committed
func (s *documentServiceImpl) discard(ctx context.Context, handles []string) {
	ctx = context.WithoutCancel(ctx)
	for _, h := range handles {
		if err := s.blobs.Delete(ctx, h); err != nil {
			s.logger.Error("Failed to remove orphaned document", "handle", h, "error", err)
		}
	}
}

// AttachDocuments uploads files to an existing claim. Duplicates are reported as
// warnings; under PolicySkipDuplicates they are not attached.
func (s *documentServiceImpl) AttachDocuments(ctx context.Context, claimID, actor string, uploads []entity.Upload, policy AttachPolicy) (*AttachResult, error) {
	if actor == "" {
		return nil, &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	files, err := hashAll(uploads)
	if err != nil {
		return nil, err
	}
	claim, err := s.claimRepo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.IsDeleted() {
		return nil, &domain.InvalidTransitionError{ClaimID: claimID, From: claim.Status, Action: "attach documents"}
	}

	idx, err := s.corpus(ctx)
	if err != nil {
		return nil, err
	}

	result := &AttachResult{Claim: claim, Warnings: []*domain.DuplicateDocumentWarning{}}
	var handles []string
	for _, f := range files {
		keep, warnings := screen(f, policy, idx)
		result.Warnings = append(result.Warnings, warnings...)
		if !keep {
			continue
		}
		asset, err := s.store(ctx, claimID, actor, f)
		if err != nil {
			s.logger.Error("Failed to store document", "claim_id", claimID, "file", f.upload.FileName, "error", err)
			s.discard(ctx, handles)
			return nil, err
		}
		handles = append(handles, asset.Handle)
		idx.Add(claim, asset)
		result.Added = append(result.Added, asset)
	}

	if len(result.Added) > 0 {
		if err := s.claimRepo.AddDocuments(ctx, claimID, result.Added); err != nil {
			s.logger.Error("Failed to record documents", "claim_id", claimID, "error", err)
			s.discard(ctx, handles)
			return nil, err
		}
		claim.Documents = append(claim.Documents, result.Added...)
	}

	s.logger.Info("Documents attached",
		"claim_id", claimID,
		"added", len(result.Added),
		"duplicates", len(result.Warnings),
	)
	s.publishDuplicates(ctx, claimID, actor, result.Warnings)
	return result, nil
}

// ImportDocuments creates one draft claim per file. Files are screened against
// the club's documents and against earlier files of the same batch. A chunk's
// files join the screening index only once the chunk has committed; the content
// uploaded by a rolled back chunk is removed.
func (s *documentServiceImpl) ImportDocuments(ctx context.Context, requester string, uploads []entity.Upload, policy AttachPolicy) (*ImportResult, error) {
	if requester == "" {
		return nil, &domain.ValidationError{Field: "requester", Reason: "is required"}
	}
	files, err := hashAll(uploads)
	if err != nil {
		return nil, err
	}
	idx, err := s.corpus(ctx)
	if err != nil {
		return nil, err
	}

	type chunkResult struct {
		created  []*entity.ExpenseClaim
		handles  []string
		warnings []*domain.DuplicateDocumentWarning
		skipped  int
	}
	results := make(map[int]*chunkResult)

	run := func(ctx context.Context, index int, chunk []hashed) error {
		r := &chunkResult{}
		results[index] = r
		pending := dedup.NewIndex(nil)
		for _, f := range chunk {
			name := filepath.Base(f.upload.FileName)
			claim := &entity.ExpenseClaim{
				ID:          uuid.NewString(),
				RequesterID: requester,
				Description: strings.TrimSuffix(name, filepath.Ext(name)),
				Amount:      decimal.Zero,
				Currency:    entity.DefaultCurrency,
				ExpenseDate: s.now().Truncate(24 * time.Hour),
				Status:      entity.StatusDraft,
			}

			keep, warnings := screen(f, policy, idx, pending)
			r.warnings = append(r.warnings, warnings...)
			if !keep {
				r.skipped++
				continue
			}

			asset, err := s.store(ctx, claim.ID, requester, f)
			if err != nil {
				return err
			}
			r.handles = append(r.handles, asset.Handle)
			claim.Documents = []entity.DocumentAsset{asset}
			if err := s.claimRepo.Create(ctx, claim); err != nil {
				return fmt.Errorf("create draft for %s: %w", name, err)
			}
			pending.Add(claim, asset)
			r.created = append(r.created, claim)
		}
		return nil
	}

	settle := func(index int, err error) {
		r := results[index]
		if r == nil {
			return
		}
		if err != nil {
			s.discard(ctx, r.handles)
			return
		}
		for _, claim := range r.created {
			for _, asset := range claim.Documents {
				idx.Add(claim, asset)
			}
		}
	}

	report := batch.RunIndexed(ctx, s.runner, "import_documents", files, run, settle)

	result := &ImportResult{Warnings: []*domain.DuplicateDocumentWarning{}}
	for i := 0; i < report.Chunks; i++ {
		r := results[i]
		if r == nil || !report.Succeeded(i) {
			continue
		}
		result.Created = append(result.Created, r.created...)
		result.Warnings = append(result.Warnings, r.warnings...)
		result.Skipped += r.skipped
	}
	for _, f := range report.Failures {
		result.FailedChunks = append(result.FailedChunks, f.Index)
	}

	s.logger.Info("Documents imported",
		"requester", requester,
		"created", len(result.Created),
		"skipped", result.Skipped,
		"duplicates", len(result.Warnings),
		"failed_chunks", len(result.FailedChunks),
	)
	s.publishDuplicates(ctx, "", requester, result.Warnings)
	return result, report.Err()
}

// BackfillDigests hashes legacy documents that have no digest yet. Content is
// downloaded and hashed before any store transaction opens; only the digest
// writes run in chunks. Content that cannot be downloaded is reported and left
// without digest.
func (s *documentServiceImpl) BackfillDigests(ctx context.Context) (*BackfillResult, error) {
	docs, err := s.claimRepo.ListMissingDigests(ctx, 0)
	if err != nil {
		s.logger.Error("Failed to list documents without digest", "error", err)
		return nil, err
	}

	result := &BackfillResult{Scanned: len(docs)}

	type digested struct {
		documentID string
		digest     string
	}
	pending := make([]digested, 0, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("digest backfill stopped after %d of %d downloads: %w", i, len(docs), err)
		}
		content, err := s.blobs.Download(ctx, doc.Handle)
		if err != nil {
			s.logger.Error("Cannot read document content", "document_id", doc.ID, "handle", doc.Handle, "error", err)
			result.Unreadable = append(result.Unreadable, doc.ID)
			continue
		}
		pending = append(pending, digested{documentID: doc.ID, digest: dedup.Hash(content)})
	}

	type counts struct {
		updated, already int
	}
	results := make(map[int]*counts)

	report := batch.RunIndexed(ctx, s.runner, "backfill_digests", pending, func(ctx context.Context, index int, chunk []digested) error {
		c := &counts{}
		results[index] = c
		for _, d := range chunk {
			updated, err := s.claimRepo.SetDocumentDigest(ctx, d.documentID, d.digest)
			if err != nil {
				return err
			}
			if updated {
				c.updated++
			} else {
				c.already++
			}
		}
		return nil
	}, nil)

	for i := 0; i < report.Chunks; i++ {
		c := results[i]
		if c == nil || !report.Succeeded(i) {
			continue
		}
		result.Updated += c.updated
		result.AlreadySet += c.already
	}

	s.logger.Info("Digest backfill finished",
		"scanned", result.Scanned,
		"updated", result.Updated,
		"already_set", result.AlreadySet,
		"unreadable", len(result.Unreadable),
	)
	return result, report.Err()
}

func (s *documentServiceImpl) publishDuplicates(ctx context.Context, claimID, actor string, warnings []*domain.DuplicateDocumentWarning) {
	for _, w := range warnings {
		publish(ctx, s.publisher, s.logger, event.NewEvent(event.TypeDuplicateDetected, entity.EntityTypeClaim, w.ClaimID, actor, map[string]interface{}{
			"file_name":       w.FileName,
			"digest":          w.Digest,
			"target_claim_id": claimID,
			"skipped":         w.Skipped,
		}))
	}
}
