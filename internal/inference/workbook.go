package inference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

const resultsSheet = "Sheet1"

// ErrSheetIndex is returned when the workbook has no sheet at the configured index.
var ErrSheetIndex = errors.New("sheet index out of range")

var resultsHeader = []string{"reasoning_content", "content"}

func loadWorkbookRows(path string, sheetIndex int) ([]Row, []string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open patient table %s: %w", path, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if sheetIndex < 0 || sheetIndex >= len(sheets) {
		return nil, nil, fmt.Errorf("%w: %s has %d sheets, index %d", ErrSheetIndex, path, len(sheets), sheetIndex)
	}

	records, err := book.GetRows(sheets[sheetIndex], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheets[sheetIndex], path, err)
	}

	if len(records) == 0 {
		return nil, nil, nil
	}

	rows, headers := tabulate(records)

	return rows, headers, nil
}

// writeWorkbook saves answers as a single-sheet workbook with a header row.
// A missing reasoning trace leaves its cell empty.
func writeWorkbook(path string, answers []Answer) error {
	book := excelize.NewFile()
	defer book.Close()

	err := book.SetSheetRow(resultsSheet, "A1", &resultsHeader)
	if err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}

	for i, answer := range answers {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		var reasoning any
		if answer.ReasoningContent != nil {
			reasoning = *answer.ReasoningContent
		}

		err = book.SetSheetRow(resultsSheet, cell, &[]any{reasoning, answer.Content})
		if err != nil {
			return fmt.Errorf("failed to write row %d to %s: %w", i+1, path, err)
		}
	}

	err = book.SaveAs(path)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}

	return nil
}

func writeCSV(path string, answers []Answer) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	records := make([][]string, 0, len(answers)+1)
	records = append(records, resultsHeader)

	for _, answer := range answers {
		reasoning := ""
		if answer.ReasoningContent != nil {
			reasoning = *answer.ReasoningContent
		}

		records = append(records, []string{reasoning, answer.Content})
	}

	err = writer.WriteAll(records)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return file.Close()
}
