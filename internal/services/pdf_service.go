package services

import (
	"bytes"
	"fmt"

	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/format"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/models"

	"github.com/jung-kurt/gofpdf/v2"
)

// minItemRows keeps short bills the same height as long ones.
const minItemRows = 8

// ShopDetails is printed at the top of every bill.
type ShopDetails struct {
	Name         string
	AddressLines []string
	Phone        string
}

// BillPDFService renders bills as printable A5 PDFs.
type BillPDFService struct {
	shop ShopDetails
	log  *logger.Logger
}

func NewBillPDFService(shop ShopDetails, log *logger.Logger) *BillPDFService {
	if log == nil {
		log = logger.NewNop()
	}
	return &BillPDFService{shop: shop, log: log.Named("pdf")}
}

// FileName is the download name for a bill.
func FileName(bill models.BillRecord) string {
	return fmt.Sprintf("bill-%s.pdf", bill.SNo)
}

// Render draws the bill: shop header, number/date/customer box, item table
// padded to minItemRows, then the totals block and signature lines.
func (s *BillPDFService) Render(bill models.BillRecord) ([]byte, error) {
	bill.Normalize()
	totals := bill.Totals()

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(8, 8, 8)
	pdf.SetAutoPageBreak(true, 8)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	const width = 132.0

	// Header
	if s.shop.Name != "" {
		pdf.SetFont("Arial", "B", 18)
		pdf.SetTextColor(185, 28, 28)
		pdf.CellFormat(width, 9, tr(s.shop.Name), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(22, 101, 52)
	for _, line := range s.shop.AddressLines {
		pdf.CellFormat(width, 4, tr(line), "", 1, "C", false, 0, "")
	}
	if s.shop.Phone != "" {
		pdf.CellFormat(width, 4, tr("Phone No: "+s.shop.Phone), "", 1, "C", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)

	// Bill identity
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(width/2, 8, tr("S No: "+bill.SNo), "LTB", 0, "L", false, 0, "")
	pdf.CellFormat(width/2, 8, tr("Date: "+bill.Date), "RTB", 1, "R", false, 0, "")
	to := "To: " + bill.CustomerName
	if bill.Basket != 0 {
		pdf.CellFormat(width*0.7, 8, tr(to), "LB", 0, "L", false, 0, "")
		pdf.CellFormat(width*0.3, 8, "Basket: "+format.NumberFloat(bill.Basket), "RB", 1, "R", false, 0, "")
	} else {
		pdf.CellFormat(width, 8, tr(to), "LRB", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	// Items
	cols := []float64{52, 24, 26, 30}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range []string{"Items", "Qty", "Rate", "Amount"} {
		pdf.CellFormat(cols[i], 7, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	rows := len(bill.Items)
	if rows < minItemRows {
		rows = minItemRows
	}
	for i := 0; i < rows; i++ {
		var name, qty, rate, amount string
		if i < len(bill.Items) {
			item := bill.Items[i]
			name = item.Name
			if item.Quantity != 0 {
				qty = format.NumberFloat(item.Quantity)
			}
			if item.Rate != 0 {
				rate = format.AmountFloat(item.Rate)
			}
			if item.Quantity != 0 && item.Rate != 0 {
				amount = format.Amount(item.Amount())
			}
		}
		pdf.CellFormat(cols[0], 7, tr(name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(cols[1], 7, qty, "1", 0, "C", false, 0, "")
		pdf.CellFormat(cols[2], 7, rate, "1", 0, "R", false, 0, "")
		pdf.CellFormat(cols[3], 7, amount, "1", 1, "R", false, 0, "")
	}
	pdf.Ln(2)

	// Totals, right half of the page
	summary := []struct {
		label string
		value string
	}{
		{"Sub Total", format.Amount(totals.SubTotal)},
		{"Luggage", format.AmountFloat(bill.Luggage)},
		{"Total Rs", format.Amount(totals.Total)},
		{"Old Balance", format.AmountFloat(bill.OldBalance)},
		{"Paid Amount", format.AmountFloat(bill.PaidAmount)},
		{"Balance Due", format.Amount(totals.BalanceDue)},
	}
	pdf.SetFont("Arial", "B", 10)
	for _, row := range summary {
		pdf.SetX(8 + width/2)
		pdf.CellFormat(width/4, 7, row.label, "1", 0, "C", false, 0, "")
		pdf.CellFormat(width/4, 7, row.value, "1", 1, "R", false, 0, "")
	}

	// Signatures
	pdf.Ln(14)
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(width/2, 5, "Receiver Signature", "T", 0, "L", false, 0, "")
	pdf.CellFormat(width/2, 5, "Authorized Signature", "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		s.log.Errorw("render bill pdf failed", "sNo", bill.SNo, "error", err)
		return nil, ierr.Data(err, "render bill "+bill.SNo)
	}
	return buf.Bytes(), nil
}
