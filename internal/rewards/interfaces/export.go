package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	rewards "watt-rewards/internal/rewards/domain"
)

// BuildClaimReceiptPDF renders a receipt for one committed claim cycle.
func BuildClaimReceiptPDF(claimID, userID string, claimedAt time.Time, entries []rewards.Entry) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Reward Claim Receipt")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Claim: %s", claimID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("User: %s", userID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Claimed: %s", claimedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	var total int64
	for _, entry := range entries {
		total += entry.TokensAmount
	}
	pdf.Cell(0, 6, fmt.Sprintf("Total Tokens: %d", total))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Provider", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Category", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Basis", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Tokens", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, entry := range entries {
		pdf.CellFormat(35, 6, entry.Provider, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, entry.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, string(entry.Category), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", entry.ActivityBasis), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", entry.TokensAmount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEntriesXLSX renders a workbook of reward entries for admin export.
func BuildEntriesXLSX(entries []rewards.Entry) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "entries"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Entry ID", "Claim ID", "User", "Provider", "Device", "Category", "Basis", "Tokens", "Claimed At"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.ID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.ClaimID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), entry.UserID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), entry.Provider)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), entry.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), string(entry.Category))
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), entry.ActivityBasis)
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), entry.TokensAmount)
		_ = f.SetCellValue(sheet, fmt.Sprintf("I%d", row), entry.ClaimedAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
