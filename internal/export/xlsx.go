// Package export renders a day of reservations as an Excel workbook.
package export

import (
	"fmt"
	"io"

	"roombook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetReservations = "Reservations"
	SheetSlots        = "Slots"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var reservationHeaders = []string{
	"ID", "Start", "End", "Title", "Name", "Participants", "Description", "Room", "Created",
}

// FileName returns the download name for a day export.
func FileName(date, resourceKey string) string {
	if resourceKey == "" {
		return fmt.Sprintf("reservations_%s.xlsx", date)
	}
	return fmt.Sprintf("reservations_%s_%s.xlsx", date, resourceKey)
}

// WriteDay writes a workbook with the day's reservations and its slot grid.
func WriteDay(w io.Writer, date string, reservations []*models.Reservation, slots []models.Slot) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetReservations)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeReservations(f, date, reservations); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetSlots); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := writeSlots(f, slots); err != nil {
		return err
	}

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeReservations(f *excelize.File, date string, reservations []*models.Reservation) error {
	sheet := SheetReservations
	_ = f.SetCellValue(sheet, "A1", fmt.Sprintf("Reservations for %s", date))
	_ = f.MergeCell(sheet, "A1", lastColumn(len(reservationHeaders))+"1")

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	_ = f.SetCellStyle(sheet, "A1", "A1", titleStyle)

	headerStyle, err := headerStyle(f)
	if err != nil {
		return err
	}
	for i, h := range reservationHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, r := range reservations {
		row := i + 3
		values := []interface{}{
			r.ID,
			r.StartTime.Short(),
			r.EndTime.Short(),
			r.Title,
			r.Name,
			r.Participants,
			r.Description,
			r.ResourceKey,
			r.CreatedAt.Format("02.01.2006 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	_ = f.SetColWidth(sheet, "A", "C", 10)
	_ = f.SetColWidth(sheet, "D", "E", 25)
	_ = f.SetColWidth(sheet, "F", "G", 35)
	_ = f.SetColWidth(sheet, "H", "I", 18)
	return nil
}

func writeSlots(f *excelize.File, slots []models.Slot) error {
	sheet := SheetSlots
	hs, err := headerStyle(f)
	if err != nil {
		return err
	}
	for i, h := range []string{"Slot", "Status", "Reserved by"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, hs)
	}

	free, err := fillStyle(f, "#C6EFCE")
	if err != nil {
		return err
	}
	busy, err := fillStyle(f, "#FFC7CE")
	if err != nil {
		return err
	}

	for i, s := range slots {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), s.StartTime.Short()+"-"+s.EndTime.Short())

		status, style, holder := "Free", free, ""
		if !s.Available {
			status, style = "Occupied", busy
			if s.Reservation != nil {
				holder = fmt.Sprintf("%s (%s)", s.Reservation.Title, s.Reservation.Name)
			}
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), status)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), holder)
		_ = f.SetCellStyle(sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("B%d", row), style)
	}

	_ = f.SetColWidth(sheet, "A", "A", 15)
	_ = f.SetColWidth(sheet, "B", "B", 12)
	_ = f.SetColWidth(sheet, "C", "C", 40)
	return nil
}

func headerStyle(f *excelize.File) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return 0, fmt.Errorf("error creating style: %w", err)
	}
	return style, nil
}

func fillStyle(f *excelize.File, color string) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "top",
		},
	})
	if err != nil {
		return 0, fmt.Errorf("error creating style: %w", err)
	}
	return style, nil
}

// lastColumn converts a 1-based column count into its letter name.
func lastColumn(colCount int) string {
	name, err := excelize.ColumnNumberToName(colCount)
	if err != nil {
		return "A"
	}
	return name
}
