package inference

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Logical columns and the spreadsheet headers accepted for each, English first.
var columnOptions = map[string][]string{
	"inspection":   {"Imaging findings", "检查所见"},
	"diagnosis":    {"Impression", "诊断结论"},
	"case_history": {"Medical history", "病历"},
	"examination":  {"Laboratory Tests", "检验"},
	"vol1":         {"label_1_volume_mL"},
	"vol2":         {"label_2_volume_mL"},
	"vol3":         {"label_3_volume_mL"},
}

const (
	missingValue = "nan"
	volumeUnit   = " mL"
)

var (
	// ErrUnsupportedFormat is returned for patient tables that are not JSON, CSV or XLSX.
	ErrUnsupportedFormat = errors.New("unsupported patient table format")
	// ErrMissingColumn is returned when no alias of a logical column is present.
	ErrMissingColumn = errors.New("missing column")
)

// Row is one patient record keyed by column header.
type Row map[string]string

// Case is the per-patient data substituted into the prompts.
type Case struct {
	Inspection  string
	Diagnosis   string
	CaseHistory string
	Examination string
	Vol1        string
	Vol2        string
	Vol3        string
}

// LoadRows reads a patient table from an Excel workbook (the sheet at
// sheetIndex), a CSV file with a header row or a JSON array of objects. A
// positive limit keeps the first rows only.
func LoadRows(path string, sheetIndex, limit int) ([]Row, []string, error) {
	var (
		rows    []Row
		headers []string
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, headers, err = loadWorkbookRows(path, sheetIndex)
	case ".json":
		rows, headers, err = loadJSONRows(path)
	case ".csv":
		rows, headers, err = loadCSVRows(path)
	default:
		return nil, nil, fmt.Errorf("%w: %s (expected .xlsx, .csv or .json)", ErrUnsupportedFormat, path)
	}

	if err != nil {
		return nil, nil, err
	}

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	return rows, headers, nil
}

func loadJSONRows(path string) ([]Row, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read patient table %s: %w", path, err)
	}

	var records []map[string]any

	err = json.Unmarshal(data, &records)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse patient table %s: %w", path, err)
	}

	seen := map[string]bool{}

	var headers []string

	rows := make([]Row, 0, len(records))

	for _, record := range records {
		row := Row{}

		for key, value := range record {
			row[key] = stringify(value)

			if !seen[key] {
				seen[key] = true
				headers = append(headers, key)
			}
		}

		rows = append(rows, row)
	}

	slices.Sort(headers)

	return rows, headers, nil
}

func loadCSVRows(path string) ([]Row, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open patient table %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse patient table %s: %w", path, err)
	}

	if len(records) == 0 {
		return nil, nil, nil
	}

	rows, headers := tabulate(records)

	return rows, headers, nil
}

// tabulate turns a header row plus data rows into Rows; empty or absent
// cells read as missing.
func tabulate(records [][]string) ([]Row, []string) {
	headers := make([]string, len(records[0]))
	for i, header := range records[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}

	rows := make([]Row, 0, len(records)-1)

	for _, record := range records[1:] {
		row := Row{}

		for i, header := range headers {
			value := missingValue
			if i < len(record) && record[i] != "" {
				value = record[i]
			}

			row[header] = value
		}

		rows = append(rows, row)
	}

	return rows, headers
}

// BuildCases resolves the column aliases and formats every row.
func BuildCases(rows []Row, headers []string) ([]Case, error) {
	columns := map[string]string{}

	for logical, options := range columnOptions {
		column, err := pickColumn(headers, options, logical)
		if err != nil {
			return nil, err
		}

		columns[logical] = column
	}

	cases := make([]Case, 0, len(rows))

	for index, row := range rows {
		volumes := [3]string{}

		for i, logical := range []string{"vol1", "vol2", "vol3"} {
			volume, err := FormatVolume(row[columns[logical]])
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", index+1, columns[logical], err)
			}

			volumes[i] = volume
		}

		cases = append(cases, Case{
			Inspection:  valueOf(row, columns["inspection"]),
			Diagnosis:   valueOf(row, columns["diagnosis"]),
			CaseHistory: valueOf(row, columns["case_history"]),
			Examination: valueOf(row, columns["examination"]),
			Vol1:        volumes[0],
			Vol2:        volumes[1],
			Vol3:        volumes[2],
		})
	}

	return cases, nil
}

func pickColumn(headers, options []string, logical string) (string, error) {
	for _, option := range options {
		if slices.Contains(headers, option) {
			return option, nil
		}
	}

	return "", fmt.Errorf("%w for %s: expected one of %v; available columns: %s",
		ErrMissingColumn, logical, options, strings.Join(headers, ", "))
}

// FormatVolume renders a segmentation volume in millilitres: zero reads as
// "N/A", anything else is rounded to two decimals from its exact binary value,
// exact halves going to the even digit. Missing cells read as "nan mL".
func FormatVolume(raw string) (string, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", fmt.Errorf("invalid volume %q: %w", raw, err)
	}

	switch {
	case value == 0:
		return "N/A", nil
	case math.IsNaN(value):
		return missingValue + volumeUnit, nil
	case math.IsInf(value, 1):
		return "inf" + volumeUnit, nil
	case math.IsInf(value, -1):
		return "-inf" + volumeUnit, nil
	}

	rounded, err := strconv.ParseFloat(strconv.FormatFloat(value, 'f', 2, 64), 64)
	if err != nil {
		return "", fmt.Errorf("invalid volume %q: %w", raw, err)
	}

	text := strconv.FormatFloat(rounded, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}

	return text + volumeUnit, nil
}

func valueOf(row Row, column string) string {
	value, ok := row[column]
	if !ok {
		return missingValue
	}

	return value
}

func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return missingValue
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		if typed {
			return "True"
		}

		return "False"
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}

		return string(encoded)
	}
}
