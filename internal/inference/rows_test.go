package inference_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/book-expert/ich-narrator/internal/inference"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const chineseCSV = "检查所见,诊断结论,病历,检验,label_1_volume_mL,label_2_volume_mL,label_3_volume_mL\n" +
	"左侧基底节区高密度影,脑出血,高血压10年,血常规正常,25,0,12.346\n" +
	"右侧丘脑出血,脑出血破入脑室,糖尿病,,8.5,3.1,0\n"

func TestFormatVolume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"0", "N/A"},
		{"0.0", "N/A"},
		{"25", "25.0 mL"},
		{"12.346", "12.35 mL"},
		{"8.5", "8.5 mL"},
		{" 3.14159 ", "3.14 mL"},
		{"0.125", "0.12 mL"},
		{"12.125", "12.12 mL"},
		{"2.675", "2.67 mL"},
		{"0.375", "0.38 mL"},
		{"nan", "nan mL"},
		{"-0.5", "-0.5 mL"},
	}

	for _, tc := range tests {
		got, err := inference.FormatVolume(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := inference.FormatVolume("large")
	require.Error(t, err)
}

func TestLoadRows_CSVWithChineseHeaders(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "patients.csv", chineseCSV)

	rows, headers, err := inference.LoadRows(path, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, headers, "检查所见")
	assert.Equal(t, "nan", rows[1]["检验"])

	cases, err := inference.BuildCases(rows, headers)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, inference.Case{
		Inspection:  "左侧基底节区高密度影",
		Diagnosis:   "脑出血",
		CaseHistory: "高血压10年",
		Examination: "血常规正常",
		Vol1:        "25.0 mL",
		Vol2:        "N/A",
		Vol3:        "12.35 mL",
	}, cases[0])

	limited, _, err := inference.LoadRows(path, 0, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLoadRows_JSONWithEnglishHeaders(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "patients.json", `[{
		"Imaging findings": "Right thalamic hemorrhage",
		"Impression": "ICH",
		"Medical history": "Hypertension",
		"Laboratory Tests": null,
		"label_1_volume_mL": 31.2,
		"label_2_volume_mL": 0,
		"label_3_volume_mL": "4"
	}]`)

	rows, headers, err := inference.LoadRows(path, 0, 0)
	require.NoError(t, err)

	cases, err := inference.BuildCases(rows, headers)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "nan", cases[0].Examination)
	assert.Equal(t, "31.2 mL", cases[0].Vol1)
	assert.Equal(t, "N/A", cases[0].Vol2)
	assert.Equal(t, "4.0 mL", cases[0].Vol3)
}

func TestBuildCases_MissingColumn(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "patients.csv", "Imaging findings,Impression\nx,y\n")

	rows, headers, err := inference.LoadRows(path, 0, 0)
	require.NoError(t, err)

	_, err = inference.BuildCases(rows, headers)
	require.ErrorIs(t, err, inference.ErrMissingColumn)
	assert.Contains(t, err.Error(), "available columns: Imaging findings, Impression")
}

func TestLoadRows_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, _, err := inference.LoadRows("patients.ods", 0, 0)
	require.ErrorIs(t, err, inference.ErrUnsupportedFormat)
}

// writeWorkbook saves a workbook whose first sheet is a cover page and whose
// second sheet holds the patient table.
func writeWorkbook(t *testing.T) string {
	t.Helper()

	book := excelize.NewFile()
	defer book.Close()

	require.NoError(t, book.SetCellValue("Sheet1", "A1", "cover page"))

	_, err := book.NewSheet("Patients")
	require.NoError(t, err)

	rows := [][]any{
		{"检查所见", "诊断结论", "病历", "检验", "label_1_volume_mL", "label_2_volume_mL", "label_3_volume_mL"},
		{"左侧基底节区高密度影", "脑出血", "高血压10年", nil, 25, 0, 12.346},
		{"右侧丘脑出血", "脑出血破入脑室", "糖尿病", "血常规正常", 2.675, 3.1},
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Patients", cell, &row))
	}

	path := filepath.Join(t.TempDir(), "patients.xlsx")
	require.NoError(t, book.SaveAs(path))

	return path
}

func TestLoadRows_WorkbookSheetIndex(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t)

	rows, headers, err := inference.LoadRows(path, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "nan", rows[0]["检验"])
	assert.Equal(t, "nan", rows[1]["label_3_volume_mL"])

	cases, err := inference.BuildCases(rows, headers)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, inference.Case{
		Inspection:  "左侧基底节区高密度影",
		Diagnosis:   "脑出血",
		CaseHistory: "高血压10年",
		Examination: "nan",
		Vol1:        "25.0 mL",
		Vol2:        "N/A",
		Vol3:        "12.35 mL",
	}, cases[0])
	assert.Equal(t, "2.67 mL", cases[1].Vol1)
	assert.Equal(t, "nan mL", cases[1].Vol3)

	limited, _, err := inference.LoadRows(path, 1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	cover, headers, err := inference.LoadRows(path, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, cover)
	assert.Equal(t, []string{"cover page"}, headers)

	_, _, err = inference.LoadRows(path, 2, 0)
	require.ErrorIs(t, err, inference.ErrSheetIndex)
}
