// Package memory is an in-process store implementing the repository ports.
// Writes are serialised like a single-writer database: WithTransaction holds the
// write lock for its whole callback and restores a snapshot when it fails.
// Readers outside the transaction may observe uncommitted writes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

type txKey struct{}

// Store keeps claims, transactions and settings in maps
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	claims       map[string]*entity.ExpenseClaim
	transactions map[string]*entity.BankTransaction
	threshold    *entity.ApprovalThreshold

	now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		claims:       make(map[string]*entity.ExpenseClaim),
		transactions: make(map[string]*entity.BankTransaction),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithTransaction implements port.TransactionManager
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshot := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snapshot)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

type state struct {
	claims       map[string]*entity.ExpenseClaim
	transactions map[string]*entity.BankTransaction
	threshold    *entity.ApprovalThreshold
}

func (s *Store) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := state{
		claims:       make(map[string]*entity.ExpenseClaim, len(s.claims)),
		transactions: make(map[string]*entity.BankTransaction, len(s.transactions)),
	}
	for id, c := range s.claims {
		st.claims[id] = c.Clone()
	}
	for id, t := range s.transactions {
		st.transactions[id] = t.Clone()
	}
	if s.threshold != nil {
		th := *s.threshold
		st.threshold = &th
	}
	return st
}

func (s *Store) restore(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = st.claims
	s.transactions = st.transactions
	s.threshold = st.threshold
}

// write runs fn under the write locks unless ctx already holds them
func (s *Store) write(ctx context.Context, fn func() error) error {
	if ctx.Value(txKey{}) == nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// CreateClaim backs ClaimRepository.Create
func (s *Store) CreateClaim(ctx context.Context, claim *entity.ExpenseClaim) error {
	return s.write(ctx, func() error {
		if _, exists := s.claims[claim.ID]; exists {
			return &domain.ValidationError{Field: "id", Reason: "already exists"}
		}
		now := s.now()
		claim.Version = 1
		claim.CreatedAt = now
		claim.UpdatedAt = now
		for i := range claim.Documents {
			claim.Documents[i].ClaimID = claim.ID
		}
		s.claims[claim.ID] = claim.Clone()
		return nil
	})
}

// GetClaim backs the claim repository
func (s *Store) GetClaim(ctx context.Context, id string) (*entity.ExpenseClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "claim", ID: id}
	}
	return c.Clone(), nil
}

// ListClaims backs the claim repository
func (s *Store) ListClaims(ctx context.Context, filter port.ClaimFilter) ([]*entity.ExpenseClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	out := make([]*entity.ExpenseClaim, 0)
	for _, c := range s.claims {
		if !filter.IncludeDeleted && c.IsDeleted() && !statuses[entity.StatusDeleted] {
			continue
		}
		if len(statuses) > 0 && !statuses[c.Status] {
			continue
		}
		if filter.RequesterID != "" && c.RequesterID != filter.RequesterID {
			continue
		}
		if filter.ActivityID != "" && c.ActivityID != filter.ActivityID {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Offset, filter.Limit), nil
}

// UpdateClaim backs the claim repository
func (s *Store) UpdateClaim(ctx context.Context, claim *entity.ExpenseClaim, expectedVersion int64) error {
	return s.write(ctx, func() error {
		stored, ok := s.claims[claim.ID]
		if !ok {
			return &domain.NotFoundError{Kind: "claim", ID: claim.ID}
		}
		if stored.Version != expectedVersion {
			return &domain.ConcurrentModificationError{Kind: "claim", ID: claim.ID}
		}
		next := claim.Clone()
		next.Documents = stored.Documents
		next.CreatedAt = stored.CreatedAt
		next.Version = expectedVersion + 1
		next.UpdatedAt = s.now()
		s.claims[claim.ID] = next

		claim.Version = next.Version
		claim.UpdatedAt = next.UpdatedAt
		return nil
	})
}

// AddDocuments backs the claim repository
func (s *Store) AddDocuments(ctx context.Context, claimID string, docs []entity.DocumentAsset) error {
	return s.write(ctx, func() error {
		stored, ok := s.claims[claimID]
		if !ok {
			return &domain.NotFoundError{Kind: "claim", ID: claimID}
		}
		for _, d := range docs {
			d = d.Clone()
			d.ClaimID = claimID
			stored.Documents = append(stored.Documents, d)
		}
		return nil
	})
}

// ListMissingDigests backs the claim repository
func (s *Store) ListMissingDigests(ctx context.Context, limit int) ([]entity.DocumentAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entity.DocumentAsset
	for _, c := range s.claims {
		for _, d := range c.Documents {
			if d.Digest == nil {
				out = append(out, d.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.Before(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, 0, limit), nil
}

// SetDocumentDigest backs the claim repository
func (s *Store) SetDocumentDigest(ctx context.Context, documentID, digest string) (bool, error) {
	updated := false
	err := s.write(ctx, func() error {
		for _, c := range s.claims {
			for i := range c.Documents {
				if c.Documents[i].ID != documentID {
					continue
				}
				if c.Documents[i].Digest == nil {
					d := digest
					c.Documents[i].Digest = &d
					updated = true
				}
				return nil
			}
		}
		return &domain.NotFoundError{Kind: "document", ID: documentID}
	})
	return updated, err
}

// CreateTransaction backs the transaction repository
func (s *Store) CreateTransaction(ctx context.Context, tx *entity.BankTransaction) error {
	return s.write(ctx, func() error {
		if _, exists := s.transactions[tx.ID]; exists {
			return &domain.ValidationError{Field: "id", Reason: "already exists"}
		}
		now := s.now()
		tx.Version = 1
		tx.Links = nil
		tx.Reconciled = false
		tx.CreatedAt = now
		tx.UpdatedAt = now
		s.transactions[tx.ID] = tx.Clone()
		return nil
	})
}

// GetTransaction backs the transaction repository
func (s *Store) GetTransaction(ctx context.Context, id string) (*entity.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "transaction", ID: id}
	}
	return t.Clone(), nil
}

// ListTransactions backs the transaction repository
func (s *Store) ListTransactions(ctx context.Context, filter port.TransactionFilter) ([]*entity.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.BankTransaction, 0)
	for _, t := range s.transactions {
		if filter.Reconciled != nil && t.Reconciled != *filter.Reconciled {
			continue
		}
		if filter.WithoutClaimLink {
			if _, linked := t.ClaimLink(); linked {
				continue
			}
		}
		if filter.From != nil && t.ExecutionDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.ExecutionDate.After(*filter.To) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutionDate.Equal(out[j].ExecutionDate) {
			return out[i].ExecutionDate.Before(out[j].ExecutionDate)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Offset, filter.Limit), nil
}

// FindByEntity backs the transaction repository
func (s *Store) FindByEntity(ctx context.Context, ref entity.EntityRef) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, t := range s.transactions {
		if t.FindLink(ref) >= 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveLinks backs the transaction repository
func (s *Store) SaveLinks(ctx context.Context, tx *entity.BankTransaction, expectedVersion int64) error {
	return s.write(ctx, func() error {
		stored, ok := s.transactions[tx.ID]
		if !ok {
			return &domain.NotFoundError{Kind: "transaction", ID: tx.ID}
		}
		if stored.Version != expectedVersion {
			return &domain.ConcurrentModificationError{Kind: "transaction", ID: tx.ID}
		}
		next := stored.Clone()
		next.Links = append([]entity.LinkRecord(nil), tx.Links...)
		next.RecomputeReconciled()
		next.Version = expectedVersion + 1
		next.UpdatedAt = s.now()
		s.transactions[tx.ID] = next

		tx.Reconciled = next.Reconciled
		tx.Version = next.Version
		tx.UpdatedAt = next.UpdatedAt
		return nil
	})
}

// Exists backs the transaction repository
func (s *Store) Exists(ctx context.Context, executionDate time.Time, amount decimal.Decimal, communication string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, m, d := executionDate.Date()
	for _, t := range s.transactions {
		ty, tm, td := t.ExecutionDate.Date()
		if ty == y && tm == m && td == d && t.Amount.Equal(amount) && t.Communication == communication {
			return true, nil
		}
	}
	return false, nil
}

// GetApprovalThreshold implements port.SettingsRepository. It returns nil when unset.
func (s *Store) GetApprovalThreshold(ctx context.Context) (*entity.ApprovalThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.threshold == nil {
		return nil, nil
	}
	th := *s.threshold
	return &th, nil
}

// SaveApprovalThreshold implements port.SettingsRepository
func (s *Store) SaveApprovalThreshold(ctx context.Context, threshold entity.ApprovalThreshold) error {
	return s.write(ctx, func() error {
		threshold.UpdatedAt = s.now()
		s.threshold = &threshold
		return nil
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ port.TransactionManager = (*Store)(nil)
