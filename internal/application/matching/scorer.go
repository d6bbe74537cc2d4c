package matching

import (
	"math"
	"strings"

	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// Score is the breakdown of a fuzzy match. Total is a ranking value, not a probability.
type Score struct {
	Amount  float64 `json:"amount"`
	Keyword float64 `json:"keyword"`
	Date    float64 `json:"date"`
	Total   float64 `json:"total"`
}

// Scorer ranks transaction/claim pairs
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer for cfg
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the weighted score of pairing tx with claim.
//
// The amount part is zero outside the tolerance band and falls linearly from
// AmountWeight (exact) to AmountWeight/2 (at the band edge). The keyword part
// applies when either text contains the other, ignoring case. The date part
// falls linearly to zero over DateWindowDays.
func (s *Scorer) Score(tx *entity.BankTransaction, claim *entity.ExpenseClaim) Score {
	var sc Score

	txAmount := tx.AbsAmount()
	band := txAmount.Mul(s.cfg.AmountTolerance)
	if band.IsPositive() {
		diff := claim.Amount.Sub(txAmount).Abs()
		if diff.LessThanOrEqual(band) {
			ratio, _ := diff.Div(band).Float64()
			sc.Amount = s.cfg.AmountWeight * (1 - ratio/2)
		}
	}

	if keywordMatch(tx.Communication, claim.Description) {
		sc.Keyword = s.cfg.KeywordWeight
	}

	days := math.Abs(tx.ExecutionDate.Sub(claim.ExpenseDate).Hours()) / 24
	window := float64(s.cfg.DateWindowDays)
	if days < window {
		sc.Date = s.cfg.DateWeight * (1 - days/window)
	}

	sc.Total = sc.Amount + sc.Keyword + sc.Date
	return sc
}

// Confidence maps a score onto the [0,100] link confidence scale
func Confidence(total float64) int {
	c := int(math.Round(total))
	return max(entity.MinConfidence, min(c, entity.MaxConfidence))
}

func keywordMatch(communication, description string) bool {
	comm := strings.ToLower(strings.TrimSpace(communication))
	desc := strings.ToLower(strings.TrimSpace(description))
	if comm == "" || desc == "" {
		return false
	}
	return strings.Contains(comm, desc) || strings.Contains(desc, comm)
}

