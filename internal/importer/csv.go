// Package importer turns uploaded CSV files into bulk ledger appends. Each
// row becomes one individually-atomic create entry sharing a batch id; a
// trailing batch summary distinguishes a complete run from a partial one.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/trip"
	"go.uber.org/zap"
)

// requiredColumns must all be present in the CSV header. Optional columns:
// project_id, project_name, vehicle, notes.
var requiredColumns = []string{"date", "origin", "destination", "distance_km", "purpose"}

// RowError identifies the first row whose append failed. Earlier rows stay
// in the ledger as valid history.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Result describes one import run.
type Result struct {
	Batch   *ledger.Batch   `json:"batch"`
	Entries []*ledger.Entry `json:"entries"`
	Failed  *RowError       `json:"-"`
}

// CSVImporter appends parsed CSV rows through the ledger writer and records
// the trailing batch row.
type CSVImporter struct {
	writer   *ledger.Writer
	recorder *ledger.Recorder
	logger   *zap.Logger
}

// NewCSVImporter creates a CSVImporter.
func NewCSVImporter(writer *ledger.Writer, recorder *ledger.Recorder, logger *zap.Logger) *CSVImporter {
	return &CSVImporter{writer: writer, recorder: recorder, logger: logger}
}

// Import parses the whole file up front — a malformed file is rejected
// before anything is written — then appends row by row. If an append fails,
// the loop stops: the earlier entries remain valid, independently verifiable
// history, and the batch is recorded partial.
func (i *CSVImporter) Import(ctx context.Context, userID uuid.UUID, r io.Reader, doc ledger.DocumentRef) (*Result, error) {
	records, err := parseRows(r)
	if err != nil {
		return nil, &ledger.ValidationError{Msg: err.Error()}
	}
	if len(records) == 0 {
		return nil, &ledger.ValidationError{Msg: "csv contains no data rows"}
	}

	batchID := uuid.New()
	res := &Result{}
	for idx, rec := range records {
		e, err := i.writer.Append(ctx, userID, ledger.Create{
			Record:    rec,
			Source:    ledger.SourceCSVImport,
			BatchID:   &batchID,
			SourceDoc: &doc,
		})
		if err != nil {
			// Data row 1 is file line 2 (after the header).
			res.Failed = &RowError{Line: idx + 2, Err: err}
			i.logger.Warn("csv import aborted",
				zap.String("batch_id", batchID.String()),
				zap.Int("line", res.Failed.Line),
				zap.Error(err),
			)
			break
		}
		res.Entries = append(res.Entries, e)
	}

	batch, err := i.recorder.Record(ctx, userID, batchID, ledger.SourceCSVImport, len(records), []ledger.DocumentRef{doc})
	var mismatch *ledger.BatchCountMismatchError
	if err != nil && !errors.As(err, &mismatch) {
		return nil, err
	}
	res.Batch = batch

	i.logger.Info("csv import finished",
		zap.String("batch_id", batchID.String()),
		zap.Int("rows", len(records)),
		zap.Int("appended", len(res.Entries)),
		zap.Bool("partial", batch.Partial),
	)
	return res, nil
}

// parseRows reads the CSV into trip records. The header row is mandatory
// and maps columns by name, so column order does not matter.
func parseRows(r io.Reader) ([]trip.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for idx, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}

	field := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []trip.Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		distance, err := strconv.ParseFloat(field(row, "distance_km"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: distance_km: %w", line, err)
		}

		records = append(records, trip.Record{
			Date:        field(row, "date"),
			Origin:      field(row, "origin"),
			Destination: field(row, "destination"),
			DistanceKM:  distance,
			Purpose:     field(row, "purpose"),
			ProjectID:   field(row, "project_id"),
			ProjectName: field(row, "project_name"),
			Vehicle:     field(row, "vehicle"),
			Notes:       field(row, "notes"),
		})
	}
	return records, nil
}
