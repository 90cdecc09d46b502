package services

import (
	"testing"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLedgerAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr bool
	}{
		{"whole xrp", "100", 100_000_000, false},
		{"full precision", "100.000000", 100_000_000, false},
		{"value plus fee", "99.988000", 99_988_000, false},
		{"fee only", "0.012000", 12_000, false},
		{"short fraction", "1.5", 1_500_000, false},
		{"smallest unit", "0.000001", 1, false},
		{"zero", "0", 0, false},
		{"too many decimals", "100.0000001", 0, true},
		{"two decimal points", "100.00.00", 0, true},
		{"missing integer part", ".5", 0, true},
		{"trailing decimal point", "1.", 0, true},
		{"bare decimal point", ".", 0, true},
		{"empty", "", 0, true},
		{"negative", "-1", 0, true},
		{"letters", "12a", 0, true},
		{"scientific", "1e6", 0, true},
		{"whitespace", " 100", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLedgerAmount(tt.amount, 6)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDropsRoundTrip(t *testing.T) {
	for _, drops := range []int64{0, 1, 12_000, 99_988_000, 100_000_000, 1_234_567_890} {
		parsed, err := ParseLedgerAmount(FormatDrops(drops, 6), 6)
		require.NoError(t, err)
		assert.Equal(t, drops, parsed)
	}
}

func newAwaitingRequest() *models.BridgeRequest {
	return &models.BridgeRequest{
		ID:                 "bridge-1",
		Status:             models.BridgeStatusAwaitingPayment,
		ReservedValueDrops: 99_988_000,
		ReservedFeeDrops:   12_000,
		PaymentReference:   "ref-abc-123",
		ExpiresAt:          time.Now().Add(time.Hour),
	}
}

func TestValidateAgentPaymentAccepts100XRP(t *testing.T) {
	req := newAwaitingRequest()
	payment := &LedgerPayment{
		Amount: "100.000000",
		Memo:   "ref-abc-123",
		TxHash: "ABC123",
	}

	result := ValidateAgentPayment(req, payment, time.Now(), 6)
	require.True(t, result.OK)
	assert.Equal(t, ValidationOK, result.Code)
	assert.Equal(t, int64(100_000_000), result.ReceivedDrops)
	assert.Equal(t, int64(100_000_000), result.ExpectedDrops)
}

func TestValidateAgentPaymentAmountMismatch(t *testing.T) {
	req := newAwaitingRequest()

	// One drop short of the reserved total.
	result := ValidateAgentPayment(req, &LedgerPayment{
		Amount: "99.999999",
		Memo:   "ref-abc-123",
	}, time.Now(), 6)
	assert.False(t, result.OK)
	assert.Equal(t, ValidationAmountMismatch, result.Code)
	assert.Equal(t, int64(99_999_999), result.ReceivedDrops)

	// One drop over.
	result = ValidateAgentPayment(req, &LedgerPayment{
		Amount: "100.000001",
		Memo:   "ref-abc-123",
	}, time.Now(), 6)
	assert.Equal(t, ValidationAmountMismatch, result.Code)
}

func TestValidateAgentPaymentMemoVariants(t *testing.T) {
	req := newAwaitingRequest()
	for _, memo := range []string{"", "ref-abc-12", "ref-abc-1234", "ref-abc-123 ", " ref-abc-123", "REF-ABC-123"} {
		result := ValidateAgentPayment(req, &LedgerPayment{
			Amount: "100.000000",
			Memo:   memo,
		}, time.Now(), 6)
		assert.Equal(t, ValidationMemoMismatch, result.Code, "memo %q must be rejected", memo)
	}
}

func TestValidateAgentPaymentOrdering(t *testing.T) {
	// Expiry is checked before the memo: an expired request rejects with
	// expired even when everything else is wrong too.
	req := newAwaitingRequest()
	req.ExpiresAt = time.Now().Add(-time.Minute)
	result := ValidateAgentPayment(req, &LedgerPayment{Amount: "junk", Memo: "wrong"}, time.Now(), 6)
	assert.Equal(t, ValidationExpired, result.Code)

	// Terminal status wins over expiry.
	req.Status = models.BridgeStatusCancelled
	result = ValidateAgentPayment(req, &LedgerPayment{Amount: "junk", Memo: "wrong"}, time.Now(), 6)
	assert.Equal(t, ValidationTerminalStatus, result.Code)
}

func TestValidateAgentPaymentMalformedAmount(t *testing.T) {
	req := newAwaitingRequest()
	result := ValidateAgentPayment(req, &LedgerPayment{
		Amount: "100.00.00",
		Memo:   "ref-abc-123",
	}, time.Now(), 6)
	assert.Equal(t, ValidationInvalidAmount, result.Code)
}

func TestValidateAgentPaymentDualAcceptanceWindow(t *testing.T) {
	payment := &LedgerPayment{Amount: "100.000000", Memo: "ref-abc-123"}

	// xrpl_confirmed with no proof still accepts a duplicate event.
	req := newAwaitingRequest()
	req.Status = models.BridgeStatusXRPLConfirmed
	result := ValidateAgentPayment(req, payment, time.Now(), 6)
	assert.True(t, result.OK)

	// Once a proof exists the window closes.
	req.Proof = "proof-blob"
	result = ValidateAgentPayment(req, payment, time.Now(), 6)
	assert.Equal(t, ValidationStatusConflict, result.Code)

	// Later pipeline states never accept payments.
	req.Status = models.BridgeStatusMinting
	result = ValidateAgentPayment(req, payment, time.Now(), 6)
	assert.Equal(t, ValidationStatusConflict, result.Code)
}
