package api

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
)

func TestReceipt_WritePDF(t *testing.T) {
	at := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	rc := Receipt{
		Payment: payout.PaymentHistory{
			ID: "pay-1", EmployeeID: "emp-1", Amount: payout.MustParseMoney("1234.5"), PaidAt: at, CreatedAt: at,
		},
		Employee: payout.Employee{
			ID: "emp-1", VendorID: "vendor-1", Name: "Alice",
			Balances: payout.Balances{TotalPaid: payout.MustParseMoney("1234.5")},
		},
		Currency: "USD",
	}

	var buf bytes.Buffer
	require.NoError(t, rc.WritePDF(&buf))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 500)
}
