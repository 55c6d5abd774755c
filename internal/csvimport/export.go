package csvimport

import (
	"fmt"
	"sort"

	"neonetworker/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "People"

var exportColumns = []string{
	"First Name", "Last Name", "Email", "Phone", "Company", "Job Title",
	"Status", "Priority", "Gender", "Job Status", "Categories", "Tags",
	"LinkedIn", "Location", "Source", "Notes",
}

// ExportPeople renders people as an xlsx workbook. Custom field keys become
// extra columns after the fixed ones.
func ExportPeople(people []*models.Person) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	custom := customKeys(people)
	header := make([]any, 0, len(exportColumns)+len(custom))
	for _, c := range exportColumns {
		header = append(header, c)
	}
	for _, c := range custom {
		header = append(header, c)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	_ = f.SetRowStyle(exportSheet, 1, 1, style)

	for i, p := range people {
		values := []any{
			p.FirstName, p.LastName, p.Email, p.Phone, p.Company, p.JobTitle,
			p.Status, p.Priority, deref(p.Gender), deref(p.JobStatus), p.Categories, p.Tags,
			p.LinkedInURL, p.Location, p.Source, p.Notes,
		}
		for _, key := range custom {
			values = append(values, fmt.Sprint(valueOrEmpty(p.CustomFields[key])))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(header))
	_ = f.SetColWidth(exportSheet, "A", lastCol, 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func customKeys(people []*models.Person) []string {
	set := make(map[string]struct{})
	for _, p := range people {
		for k := range p.CustomFields {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
