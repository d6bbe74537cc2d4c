package matching

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// Kind tells how a proposal was found
type Kind string

const (
	KindExact Kind = "exact"
	KindFuzzy Kind = "fuzzy"
)

// Proposal is a candidate link between one transaction and one claim
type Proposal struct {
	TransactionID string `json:"transaction_id"`
	ClaimID       string `json:"claim_id"`
	Kind          Kind   `json:"kind"`
	Score         Score  `json:"score"`
	Confidence    int    `json:"confidence"`
	Reference     string `json:"reference,omitempty"`
	Ambiguous     bool   `json:"ambiguous"`
	Reason        string `json:"reason"`
}

// Plan splits proposals into links to apply and a manual review queue.
// Review is sorted by score, highest first.
type Plan struct {
	AutoLinks []Proposal `json:"auto_links"`
	Review    []Proposal `json:"review"`
}

// Planner runs exact matching then fuzzy scoring
type Planner struct {
	cfg       Config
	extractor *ReferenceExtractor
	scorer    *Scorer
}

// NewPlanner validates cfg and builds a planner
func NewPlanner(cfg Config) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching config: %w", err)
	}
	extractor, err := NewReferenceExtractor(cfg.ReferencePattern)
	if err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg, extractor: extractor, scorer: NewScorer(cfg)}, nil
}

// Scorer exposes the planner's scorer
func (p *Planner) Scorer() *Scorer {
	return p.scorer
}

// Plan proposes links between transactions without a claim link and approved claims.
// Callers pass only claims with no settling link; other inputs are filtered out here.
func (p *Planner) Plan(transactions []*entity.BankTransaction, claims []*entity.ExpenseClaim) Plan {
	txs := make([]*entity.BankTransaction, 0, len(transactions))
	for _, tx := range transactions {
		if _, linked := tx.ClaimLink(); !linked {
			txs = append(txs, tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })

	eligible := make([]*entity.ExpenseClaim, 0, len(claims))
	for _, c := range claims {
		if c.Status == entity.StatusApproved {
			eligible = append(eligible, c)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	var plan Plan
	usedTx := make(map[string]bool)
	usedClaim := make(map[string]bool)

	p.planExact(txs, eligible, &plan, usedTx, usedClaim)
	p.planFuzzy(txs, eligible, &plan, usedTx, usedClaim)

	sort.SliceStable(plan.Review, func(i, j int) bool {
		return plan.Review[i].Score.Total > plan.Review[j].Score.Total
	})
	return plan
}

func (p *Planner) planExact(txs []*entity.BankTransaction, claims []*entity.ExpenseClaim, plan *Plan, usedTx, usedClaim map[string]bool) {
	bySequence := make(map[string][]*entity.BankTransaction)
	for _, tx := range txs {
		if seq := p.extractor.TransactionSequence(tx); seq != "" {
			bySequence[seq] = append(bySequence[seq], tx)
		}
	}

	type hit struct {
		tx  *entity.BankTransaction
		seq string
	}
	claimHits := make(map[string][]hit)
	txClaims := make(map[string]int)
	for _, claim := range claims {
		seen := make(map[string]bool)
		for _, seq := range p.extractor.ClaimSequences(claim) {
			for _, tx := range bySequence[seq] {
				if seen[tx.ID] {
					continue
				}
				seen[tx.ID] = true
				claimHits[claim.ID] = append(claimHits[claim.ID], hit{tx: tx, seq: seq})
				txClaims[tx.ID]++
			}
		}
	}

	exact := Score{Total: float64(entity.MaxConfidence)}
	for _, claim := range claims {
		hits := claimHits[claim.ID]
		if len(hits) == 0 {
			continue
		}
		usedClaim[claim.ID] = true

		if len(hits) == 1 && txClaims[hits[0].tx.ID] == 1 {
			usedTx[hits[0].tx.ID] = true
			plan.AutoLinks = append(plan.AutoLinks, Proposal{
				TransactionID: hits[0].tx.ID,
				ClaimID:       claim.ID,
				Kind:          KindExact,
				Score:         exact,
				Confidence:    entity.MaxConfidence,
				Reference:     hits[0].seq,
				Reason:        "reference " + hits[0].seq,
			})
			continue
		}

		for _, h := range hits {
			usedTx[h.tx.ID] = true
			plan.Review = append(plan.Review, Proposal{
				TransactionID: h.tx.ID,
				ClaimID:       claim.ID,
				Kind:          KindExact,
				Score:         exact,
				Confidence:    entity.MaxConfidence,
				Reference:     h.seq,
				Ambiguous:     true,
				Reason:        "reference " + h.seq + " matches several records",
			})
		}
	}
}

type scoredPair struct {
	tx    *entity.BankTransaction
	claim *entity.ExpenseClaim
	score Score
}

func (p *Planner) planFuzzy(txs []*entity.BankTransaction, claims []*entity.ExpenseClaim, plan *Plan, usedTx, usedClaim map[string]bool) {
	var pairs []scoredPair
	for _, tx := range txs {
		if usedTx[tx.ID] {
			continue
		}
		for _, claim := range claims {
			if usedClaim[claim.ID] {
				continue
			}
			sc := p.scorer.Score(tx, claim)
			if sc.Total >= p.cfg.ReviewScore {
				pairs = append(pairs, scoredPair{tx: tx, claim: claim, score: sc})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score.Total != pairs[j].score.Total {
			return pairs[i].score.Total > pairs[j].score.Total
		}
		if pairs[i].tx.ID != pairs[j].tx.ID {
			return pairs[i].tx.ID < pairs[j].tx.ID
		}
		return pairs[i].claim.ID < pairs[j].claim.ID
	})

	for i := 0; i < len(pairs); {
		// pairs with equal totals are decided together
		j := i
		for j < len(pairs) && pairs[j].score.Total == pairs[i].score.Total {
			j++
		}
		tier := make([]scoredPair, 0, j-i)
		for _, pair := range pairs[i:j] {
			if !usedTx[pair.tx.ID] && !usedClaim[pair.claim.ID] {
				tier = append(tier, pair)
			}
		}
		txCount := make(map[string]int)
		claimCount := make(map[string]int)
		for _, pair := range tier {
			txCount[pair.tx.ID]++
			claimCount[pair.claim.ID]++
		}

		for _, pair := range tier {
			ambiguous := txCount[pair.tx.ID] > 1 || claimCount[pair.claim.ID] > 1
			proposal := Proposal{
				TransactionID: pair.tx.ID,
				ClaimID:       pair.claim.ID,
				Kind:          KindFuzzy,
				Score:         pair.score,
				Confidence:    Confidence(pair.score.Total),
				Ambiguous:     ambiguous,
				Reason:        describe(pair.score, ambiguous),
			}
			if !ambiguous && pair.score.Total >= p.cfg.AutoLinkScore {
				plan.AutoLinks = append(plan.AutoLinks, proposal)
			} else {
				plan.Review = append(plan.Review, proposal)
			}
		}
		for _, pair := range tier {
			usedTx[pair.tx.ID] = true
			usedClaim[pair.claim.ID] = true
		}
		i = j
	}
}

func describe(sc Score, ambiguous bool) string {
	var parts []string
	if sc.Amount > 0 {
		parts = append(parts, "amount")
	}
	if sc.Keyword > 0 {
		parts = append(parts, "keyword")
	}
	if sc.Date > 0 {
		parts = append(parts, "date")
	}
	reason := strings.Join(parts, "+")
	if ambiguous {
		reason += " (tied with another candidate)"
	}
	return reason
}
