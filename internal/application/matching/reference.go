package matching

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// ReferenceExtractor pulls sequence tokens out of free text
type ReferenceExtractor struct {
	re *regexp.Regexp
}

// NewReferenceExtractor compiles pattern. When the pattern has a capture group,
// the first group is the token; otherwise the whole match is.
func NewReferenceExtractor(pattern string) (*ReferenceExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid reference pattern: %w", err)
	}
	return &ReferenceExtractor{re: re}, nil
}

// Extract returns the first token found in s
func (e *ReferenceExtractor) Extract(s string) (string, bool) {
	m := e.re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], m[1] != ""
	}
	return m[0], true
}

// TransactionSequence returns the stored sequence number, normalised to its token,
// or the token found in the communication.
func (e *ReferenceExtractor) TransactionSequence(tx *entity.BankTransaction) string {
	if stored := strings.TrimSpace(tx.SequenceNumber); stored != "" {
		if token, ok := e.Extract(stored); ok {
			return token
		}
		return stored
	}
	token, _ := e.Extract(tx.Communication)
	return token
}

// ClaimSequences returns the distinct tokens found in the claim's document filenames
func (e *ReferenceExtractor) ClaimSequences(claim *entity.ExpenseClaim) []string {
	var out []string
	seen := make(map[string]bool)
	for _, doc := range claim.Documents {
		token, ok := e.Extract(doc.OriginalName)
		if !ok || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}
