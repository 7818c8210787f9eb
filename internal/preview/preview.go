// Package preview summarises spreadsheet results that arrive without
// summary data of their own.
package preview

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/taxdesk/portal/types"
)

// Summarize returns one row per worksheet with its data row and column
// counts. The first row of each sheet is treated as the header.
func Summarize(data []byte) ([]types.SummaryRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rows []types.SummaryRow
	for _, sheet := range f.GetSheetList() {
		sheetRows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		columns := 0
		for _, r := range sheetRows {
			if len(r) > columns {
				columns = len(r)
			}
		}
		dataRows := len(sheetRows) - 1
		if dataRows < 0 {
			dataRows = 0
		}
		rows = append(rows, types.SummaryRow{
			"Sheet":   sheet,
			"Rows":    dataRows,
			"Columns": columns,
		})
	}
	return rows, nil
}
