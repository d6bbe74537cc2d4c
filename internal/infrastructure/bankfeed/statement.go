// Package bankfeed reads bank statement exports into transactions
package bankfeed

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/domain/entity"
)

type column int

const (
	colDate column = iota
	colAmount
	colCounterparty
	colCommunication
	colSequence
)

// headerAliases maps normalised header labels to columns. Exports from the
// club's bank come in French, Dutch or English.
var headerAliases = map[string]column{
	"date":                   colDate,
	"date d'execution":       colDate,
	"date d'exécution":       colDate,
	"execution date":         colDate,
	"uitvoeringsdatum":       colDate,
	"montant":                colAmount,
	"amount":                 colAmount,
	"bedrag":                 colAmount,
	"contrepartie":           colCounterparty,
	"nom de la contrepartie": colCounterparty,
	"counterparty":           colCounterparty,
	"tegenpartij":            colCounterparty,
	"communication":          colCommunication,
	"communications":         colCommunication,
	"mededeling":             colCommunication,
	"numéro de séquence":     colSequence,
	"numero de sequence":     colSequence,
	"sequence number":        colSequence,
	"volgnummer":             colSequence,
}

var dateLayouts = []string{"02/01/2006", "2006-01-02", "02-01-2006", "02.01.2006"}

// excelEpoch is day zero of spreadsheet serial dates
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// RowError reports a statement row that could not be read
type RowError struct {
	Row    int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Parser reads XLSX statements
type Parser struct {
	sheet  string
	logger *zap.Logger
}

// NewParser creates a parser. An empty sheet reads the first sheet.
func NewParser(sheet string, logger *zap.Logger) *Parser {
	return &Parser{
		sheet:  sheet,
		logger: logger,
	}
}

// Parse returns one transaction per data row. Rows without date and amount
// are skipped; malformed rows fail the whole statement.
func (p *Parser) Parse(r io.Reader) ([]*entity.BankTransaction, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open statement: %w", err)
	}
	defer f.Close()

	sheet := p.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	headerRow, columns, err := findHeader(rows)
	if err != nil {
		return nil, err
	}

	var out []*entity.BankTransaction
	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		rawDate := cell(row, columns, colDate)
		rawAmount := cell(row, columns, colAmount)
		if rawDate == "" && rawAmount == "" {
			continue
		}

		date, err := parseDate(rawDate)
		if err != nil {
			return nil, &RowError{Row: i + 1, Reason: err.Error()}
		}
		amount, err := parseAmount(rawAmount)
		if err != nil {
			return nil, &RowError{Row: i + 1, Reason: err.Error()}
		}

		out = append(out, &entity.BankTransaction{
			ExecutionDate:  date,
			Amount:         amount,
			Counterparty:   cell(row, columns, colCounterparty),
			Communication:  cell(row, columns, colCommunication),
			SequenceNumber: cell(row, columns, colSequence),
		})
	}

	p.logger.Info("Statement parsed",
		zap.String("sheet", sheet),
		zap.Int("transactions", len(out)))
	return out, nil
}

// findHeader locates the first row naming both a date and an amount column
func findHeader(rows [][]string) (int, map[column]int, error) {
	for i, row := range rows {
		columns := make(map[column]int)
		for j, label := range row {
			if c, ok := headerAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
				if _, seen := columns[c]; !seen {
					columns[c] = j
				}
			}
		}
		_, hasDate := columns[colDate]
		_, hasAmount := columns[colAmount]
		if hasDate && hasAmount {
			return i, columns, nil
		}
	}
	return 0, nil, fmt.Errorf("statement has no header row with date and amount columns")
}

func cell(row []string, columns map[column]int, c column) string {
	idx, ok := columns[c]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		return excelEpoch.AddDate(0, 0, int(serial)), nil
	}
	return time.Time{}, fmt.Errorf("unreadable date %q", raw)
}

// parseAmount accepts "1.234,56", "-45,50" and "-45.50"
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	clean := strings.NewReplacer(" ", "", "\u00a0", "", "EUR", "", "€", "").Replace(raw)
	if strings.Contains(clean, ",") {
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	}
	amount, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unreadable amount %q", raw)
	}
	return amount, nil
}
