package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// dateLayout stores calendar dates as sortable text
const dateLayout = "2006-01-02"

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// maxInArgs bounds the ids bound in one IN (...) clause. SQLite builds before
// 3.32 accept at most 999 variables per statement.
var maxInArgs = 500

// inArgs converts ids to query arguments
func inArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// paginate appends LIMIT/OFFSET clauses. SQLite needs a LIMIT before OFFSET.
func paginate(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	switch {
	case limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(offset, 0))
	case offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func now() time.Time {
	return time.Now().UTC()
}
