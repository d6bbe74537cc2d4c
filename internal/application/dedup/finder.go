package dedup

import (
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// Candidate is a file about to be attached
type Candidate struct {
	FileName string
	Digest   string
}

// Duplicate pairs a candidate with an existing asset holding the same content
type Duplicate struct {
	Candidate Candidate
	Claim     *entity.ExpenseClaim
	Asset     entity.DocumentAsset
}

// Warning renders the duplicate as the non-fatal warning returned to callers
func (d Duplicate) Warning(skipped bool) *domain.DuplicateDocumentWarning {
	return &domain.DuplicateDocumentWarning{
		FileName:         d.Candidate.FileName,
		Digest:           d.Candidate.Digest,
		ClaimID:          d.Claim.ID,
		ClaimDescription: d.Claim.Description,
		ClaimAmount:      d.Claim.Amount,
		ExistingName:     d.Asset.OriginalName,
		Skipped:          skipped,
	}
}

type entry struct {
	claim *entity.ExpenseClaim
	asset entity.DocumentAsset
}

// Index maps digests to the assets carrying them
type Index struct {
	byDigest map[string][]entry
}

// NewIndex indexes every hashed asset of the non-deleted claims in corpus
func NewIndex(corpus []*entity.ExpenseClaim) *Index {
	idx := &Index{byDigest: make(map[string][]entry)}
	for _, claim := range corpus {
		if claim == nil || claim.IsDeleted() {
			continue
		}
		for _, asset := range claim.Documents {
			idx.Add(claim, asset)
		}
	}
	return idx
}

// Add indexes one asset. Assets without digest are ignored.
func (i *Index) Add(claim *entity.ExpenseClaim, asset entity.DocumentAsset) {
	if !asset.HasDigest() {
		return
	}
	i.byDigest[*asset.Digest] = append(i.byDigest[*asset.Digest], entry{claim: claim, asset: asset})
}

// Lookup returns every duplicate of the candidate in insertion order
func (i *Index) Lookup(c Candidate) []Duplicate {
	if c.Digest == "" {
		return nil
	}
	entries := i.byDigest[c.Digest]
	out := make([]Duplicate, 0, len(entries))
	for _, e := range entries {
		out = append(out, Duplicate{Candidate: c, Claim: e.claim, Asset: e.asset})
	}
	return out
}

// FindDuplicates returns every (candidate, claim, asset) triple whose digests are equal.
// It has no side effects.
func FindDuplicates(candidates []Candidate, corpus []*entity.ExpenseClaim) []Duplicate {
	idx := NewIndex(corpus)
	var out []Duplicate
	for _, c := range candidates {
		out = append(out, idx.Lookup(c)...)
	}
	return out
}
