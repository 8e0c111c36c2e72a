package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Resumen"
	rowsSheet    = "Registros"
)

// WriteXLSX renders the report as a two-sheet workbook.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(rowsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	summary := [][]any{{"Usuario", "Nombre", "Sesiones", "Abiertas", "Retardos", "Horas"}}
	for _, u := range r.Users {
		summary = append(summary, []any{u.UserID, u.UserName, u.Sessions, u.Open, u.Late, u.Hours})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	rows := [][]any{{"Fecha", "Ubicación", "Usuario", "Nombre", "Categoría", "Evento",
		"Entrada", "Salida", "Horas", "Retardo", "Minutos tarde", "Ajustado", "Cierre automático"}}
	for _, row := range r.Rows {
		out := ""
		if row.ClockOut != nil {
			out = row.ClockOut.Format(time.RFC3339)
		}
		rows = append(rows, []any{
			string(row.Date), row.Location, row.UserID, row.UserName, string(row.Category), row.EventTitle,
			row.ClockIn.Format(time.RFC3339), out, row.Hours, row.Late, row.MinutesLate, row.Clamped, row.AutoClosed,
		})
	}
	if err := writeRows(f, rowsSheet, rows); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
