// Package ingest loads PaySim-style transaction CSV exports into the
// analytical store.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrBadRecord wraps CSV rows that cannot be parsed into a transaction.
var ErrBadRecord = errors.New("malformed csv record")

// batchSize bounds the number of rows buffered before each insert.
const batchSize = 5_000

// Expected PaySim header columns, in order.
var expectedHeader = []string{
	"step", "type", "amount",
	"nameOrig", "oldbalanceOrg", "newbalanceOrig",
	"nameDest", "oldbalanceDest", "newbalanceDest",
	"isFraud", "isFlaggedFraud",
}

// Report summarizes one ingestion run.
type Report struct {
	Loaded   int64         `json:"loaded"`
	Skipped  int64         `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Loader streams a transaction CSV into the repository, replacing the
// existing population wholesale.
type Loader struct {
	repo domain.Repository
}

// NewLoader creates a CSV loader.
func NewLoader(repo domain.Repository) *Loader {
	return &Loader{repo: repo}
}

// LoadFile truncates the transaction store and loads the named CSV file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

// Load truncates the transaction store and streams records from r.
// Rows that fail to parse are skipped and counted, not fatal; a bad
// header is fatal.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*Report, error) {
	start := time.Now()

	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	if err := l.repo.TruncateTransactions(ctx); err != nil {
		return nil, fmt.Errorf("failed to truncate transactions: %w", err)
	}

	report := &Report{}
	batch := make([]*domain.Transaction, 0, batchSize)
	line := 1

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			slog.Warn("skipping unreadable csv row", "line", line, "error", err)
			report.Skipped++
			continue
		}

		tx, err := parseRecord(record)
		if err != nil {
			slog.Warn("skipping malformed csv row", "line", line, "error", err)
			report.Skipped++
			continue
		}

		batch = append(batch, tx)
		if len(batch) >= batchSize {
			if err := l.repo.InsertTransactions(ctx, batch); err != nil {
				return nil, fmt.Errorf("failed to insert batch at line %d: %w", line, err)
			}
			report.Loaded += int64(len(batch))
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := l.repo.InsertTransactions(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		report.Loaded += int64(len(batch))
	}

	report.Duration = time.Since(start)
	slog.Info("csv ingestion completed",
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func checkHeader(header []string) error {
	if len(header) < len(expectedHeader) {
		return fmt.Errorf("%w: header has %d columns, want %d", ErrBadRecord, len(header), len(expectedHeader))
	}
	for i, want := range expectedHeader {
		if header[i] != want {
			return fmt.Errorf("%w: header column %d is %q, want %q", ErrBadRecord, i, header[i], want)
		}
	}
	return nil
}

func parseRecord(record []string) (*domain.Transaction, error) {
	if len(record) < len(expectedHeader) {
		return nil, fmt.Errorf("%w: %d columns", ErrBadRecord, len(record))
	}

	step, err := strconv.Atoi(record[0])
	if err != nil {
		return nil, fmt.Errorf("%w: step %q", ErrBadRecord, record[0])
	}
	if domain.TypeOrdinal(record[1]) < 0 {
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadRecord, record[1])
	}

	amounts := make([]float64, 5)
	for i, col := range []int{2, 4, 5, 7, 8} {
		v, err := strconv.ParseFloat(record[col], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d %q", ErrBadRecord, col, record[col])
		}
		amounts[i] = v
	}
	if amounts[0] < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrBadRecord)
	}

	return &domain.Transaction{
		Step:                     step,
		Type:                     record[1],
		Amount:                   amounts[0],
		OriginID:                 record[3],
		OriginBalanceBefore:      amounts[1],
		OriginBalanceAfter:       amounts[2],
		DestinationID:            record[6],
		DestinationBalanceBefore: amounts[3],
		DestinationBalanceAfter:  amounts[4],
	}, nil
}
