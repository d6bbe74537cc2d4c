package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

// ImportReport summarises a bank statement ingestion
type ImportReport struct {
	Rows         int      `json:"rows"`
	Inserted     int      `json:"inserted"`
	Duplicates   int      `json:"duplicates"`
	InsertedIDs  []string `json:"inserted_ids"`
	FailedChunks []int    `json:"failed_chunks,omitempty"`
}

// TransactionService ingests and queries bank transactions
type TransactionService interface {
	// Import stores statement rows, skipping rows already stored with the same
	// date, amount and communication
	Import(ctx context.Context, actor string, rows []*entity.BankTransaction) (*ImportReport, error)
	Get(ctx context.Context, id string) (*entity.BankTransaction, error)
	List(ctx context.Context, filter port.TransactionFilter) ([]*entity.BankTransaction, error)
}

type transactionServiceImpl struct {
	transactionRepo port.TransactionRepository
	gate            port.PermissionGate
	runner          *batch.Runner
	publisher       port.EventPublisher
	logger          Logger
}

// NewTransactionService creates a new TransactionService
func NewTransactionService(
	transactionRepo port.TransactionRepository,
	gate port.PermissionGate,
	runner *batch.Runner,
	publisher port.EventPublisher,
	logger Logger,
) TransactionService {
	return &transactionServiceImpl{
		transactionRepo: transactionRepo,
		gate:            gate,
		runner:          runner,
		publisher:       publisher,
		logger:          logger,
	}
}

// Import implements TransactionService
func (s *transactionServiceImpl) Import(ctx context.Context, actor string, rows []*entity.BankTransaction) (*ImportReport, error) {
	if err := authorize(ctx, s.gate, actor, entity.CapabilityImportTransactions); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if row.ExecutionDate.IsZero() {
			return nil, &domain.ValidationError{Field: "execution_date", Reason: fmt.Sprintf("is required on row %d", i+1)}
		}
		if row.Amount.IsZero() {
			return nil, &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("must not be zero on row %d", i+1)}
		}
	}

	type chunkResult struct {
		ids        []string
		duplicates int
	}
	var perChunk []chunkResult

	run := batch.Run(ctx, s.runner, "import_transactions", rows, func(ctx context.Context, chunk []*entity.BankTransaction) error {
		var r chunkResult
		perChunk = append(perChunk, chunkResult{})
		for _, row := range chunk {
			row.Communication = strings.TrimSpace(row.Communication)
			exists, err := s.transactionRepo.Exists(ctx, row.ExecutionDate, row.Amount, row.Communication)
			if err != nil {
				return err
			}
			if exists {
				r.duplicates++
				continue
			}
			if row.ID == "" {
				row.ID = uuid.NewString()
			}
			if err := s.transactionRepo.Create(ctx, row); err != nil {
				return err
			}
			r.ids = append(r.ids, row.ID)
		}
		perChunk[len(perChunk)-1] = r
		return nil
	})

	report := &ImportReport{Rows: len(rows), InsertedIDs: []string{}}
	for i, r := range perChunk {
		if !run.Succeeded(i) {
			continue
		}
		report.InsertedIDs = append(report.InsertedIDs, r.ids...)
		report.Duplicates += r.duplicates
	}
	report.Inserted = len(report.InsertedIDs)
	for _, f := range run.Failures {
		report.FailedChunks = append(report.FailedChunks, f.Index)
	}

	s.logger.Info("Bank statement imported",
		"actor", actor,
		"rows", report.Rows,
		"inserted", report.Inserted,
		"duplicates", report.Duplicates,
		"failed_chunks", len(report.FailedChunks),
	)
	if report.Inserted > 0 {
		publish(ctx, s.publisher, s.logger, event.NewEvent(event.TypeTransactionsImported, "", "", actor, map[string]interface{}{
			"inserted":   report.Inserted,
			"duplicates": report.Duplicates,
		}))
	}
	return report, run.Err()
}

// Get implements TransactionService
func (s *transactionServiceImpl) Get(ctx context.Context, id string) (*entity.BankTransaction, error) {
	tx, err := s.transactionRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get transaction", "error", err, "transaction_id", id)
		return nil, err
	}
	return tx, nil
}

// List implements TransactionService
func (s *transactionServiceImpl) List(ctx context.Context, filter port.TransactionFilter) ([]*entity.BankTransaction, error) {
	return s.transactionRepo.List(ctx, filter)
}
