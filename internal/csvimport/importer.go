package csvimport

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	WarningMissingData = "missing_data"
	WarningTruncation  = "truncation"
	WarningValidation  = "validation"
	WarningDuplicate   = "duplicate"

	maxUploadBytes  = 10 << 20
	previewRowLimit = 10
)

var ErrEmptyFile = domain.Invalid("file", "file has no header row")

type Mode int

const (
	ModePreview Mode = iota
	ModeImport
)

type Warning struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Result struct {
	Imported int       `json:"imported"`
	Skipped  int       `json:"skipped"`
	Warnings []Warning `json:"warnings"`
}

type Preview struct {
	Headers   []string          `json:"headers"`
	Mapping   map[string]string `json:"mapping"`
	Rows      []map[string]any  `json:"rows"`
	TotalRows int               `json:"total_rows"`
	Warnings  []Warning         `json:"warnings"`
}

// Importer maps spreadsheet rows onto people.
type Importer struct {
	people domain.PersonRepository
	logger *zerolog.Logger
}

func NewImporter(people domain.PersonRepository, logger *zerolog.Logger) *Importer {
	return &Importer{people: people, logger: logger}
}

// ReadRecords parses an uploaded file. Files named .xlsx, or carrying the zip
// signature, go through excelize; everything else is read as CSV.
func ReadRecords(filename string, r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, domain.Invalid("file", "file is larger than %d MB", maxUploadBytes>>20)
	}
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") || bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return readXLSX(data)
	}
	return readCSV(data)
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, domain.Invalid("file", "invalid CSV: %v", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	return records, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Invalid("file", "invalid XLSX: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, domain.Invalid("file", "invalid XLSX: %v", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

// Preview normalises every row without writing anything.
func (im *Importer) Preview(records [][]string) (*Preview, error) {
	sheet, err := newSheet(records)
	if err != nil {
		return nil, err
	}
	out := &Preview{
		Headers:  sheet.headers,
		Mapping:  sheet.mapping(),
		Rows:     []map[string]any{},
		Warnings: []Warning{},
	}
	for i, record := range sheet.rows {
		row, ok := sheet.normalize(i+1, record, ModePreview)
		out.Warnings = append(out.Warnings, row.warnings...)
		if !ok {
			continue
		}
		out.TotalRows++
		if len(out.Rows) < previewRowLimit {
			out.Rows = append(out.Rows, row.preview())
		}
	}
	return out, nil
}

// Import stores valid rows for user. Rows that fail are skipped and reported;
// the rest are committed.
func (im *Importer) Import(ctx context.Context, user *models.User, records [][]string) (*Result, error) {
	sheet, err := newSheet(records)
	if err != nil {
		return nil, err
	}
	res := &Result{Warnings: []Warning{}}
	seen := make(map[string]bool)

	for i, record := range sheet.rows {
		rowNum := i + 1
		row, ok := sheet.normalize(rowNum, record, ModeImport)
		res.Warnings = append(res.Warnings, row.warnings...)
		if !ok {
			res.Skipped++
			continue
		}

		person := row.person(user.ID)
		if person.Email != "" {
			dup := seen[person.Email]
			if !dup {
				_, err := im.people.FindPersonByEmail(ctx, user.ID, person.Email)
				switch {
				case err == nil:
					dup = true
				case !errors.Is(err, domain.ErrNotFound):
					return nil, err
				}
			}
			if dup {
				res.Skipped++
				res.Warnings = append(res.Warnings, Warning{
					Row: rowNum, Field: "email", Type: WarningDuplicate,
					Message: fmt.Sprintf("contact with email %s already exists", person.Email),
				})
				continue
			}
			seen[person.Email] = true
		}

		if err := im.people.CreatePerson(ctx, person); err != nil {
			im.logger.Warn().Err(err).Int("row", rowNum).Msg("import row failed")
			res.Skipped++
			res.Warnings = append(res.Warnings, Warning{Row: rowNum, Type: WarningValidation, Message: "row could not be saved"})
			continue
		}
		res.Imported++
	}

	im.logger.Info().
		Str("user_id", user.ID.String()).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("warnings", len(res.Warnings)).
		Msg("contacts imported")
	return res, nil
}
