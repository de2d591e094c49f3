package api

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/warp/payout-engine/payout"
)

// Receipt is the data printed on a payment receipt.
type Receipt struct {
	Payment  payout.PaymentHistory
	Employee payout.Employee
	Currency string
}

// WritePDF renders the receipt as a one-page A4 PDF.
func (rc Receipt) WritePDF(w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payment receipt "+string(rc.Payment.ID), true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payment Receipt")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	line := func(label, value string) {
		pdf.CellFormat(50, 8, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
	}
	line("Receipt no.", string(rc.Payment.ID))
	line("Employee", fmt.Sprintf("%s (%s)", rc.Employee.Name, rc.Employee.ID))
	line("Vendor", string(rc.Employee.VendorID))
	line("Paid at", rc.Payment.PaidAt.UTC().Format(time.RFC3339))
	line("Recorded at", rc.Payment.CreatedAt.UTC().Format(time.RFC3339))
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	line("Amount", rc.Payment.Amount.StringFixed(2)+" "+rc.Currency)
	pdf.Ln(4)

	// Balances are current, not as of the payment.
	pdf.SetFont("Helvetica", "", 10)
	b := rc.Employee.Balances
	line("Total paid to date", b.TotalPaid.StringFixed(2)+" "+rc.Currency)
	line("Outstanding", b.TotalRemaining.StringFixed(2)+" "+rc.Currency)
	line("Unassigned balance", b.ExtraAmount.StringFixed(2)+" "+rc.Currency)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render receipt: %w", err)
	}
	return pdf.Output(w)
}
