package services

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
)

// Validation rejection codes recorded on rejected payments
const (
	ValidationOK             = "ok"
	ValidationTerminalStatus = "terminal_status"
	ValidationExpired        = "expired"
	ValidationMemoMismatch   = "memo_mismatch"
	ValidationInvalidAmount  = "invalid_amount"
	ValidationAmountMismatch = "amount_mismatch"
	ValidationStatusConflict = "status_conflict"
)

// PaymentValidation the outcome of validating an agent payment
type PaymentValidation struct {
	OK            bool
	Code          string
	Message       string
	ReceivedDrops int64
	ExpectedDrops int64
}

// ParseLedgerAmount converts a ledger decimal amount string to exact
// integer minor units (drops). Parsing is strict string arithmetic, no
// floats: a second decimal point, any non-digit character, or more
// fractional digits than the ledger supports is an error.
func ParseLedgerAmount(amount string, maxDecimals int) (int64, error) {
	if amount == "" {
		return 0, fmt.Errorf("empty amount")
	}

	intPart := amount
	fracPart := ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		intPart = amount[:i]
		fracPart = amount[i+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return 0, fmt.Errorf("amount %q has multiple decimal points", amount)
		}
		if fracPart == "" {
			return 0, fmt.Errorf("amount %q has no fractional part", amount)
		}
	}
	if intPart == "" {
		return 0, fmt.Errorf("amount %q has no integer part", amount)
	}
	if len(fracPart) > maxDecimals {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", amount, maxDecimals)
	}
	for _, part := range []string{intPart, fracPart} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("amount %q contains non-digit characters", amount)
			}
		}
	}

	// Pad the fraction out to full minor-unit precision.
	fracPadded := fracPart + strings.Repeat("0", maxDecimals-len(fracPart))

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q integer part out of range", amount)
	}
	var frac int64
	if fracPadded != "" {
		frac, err = strconv.ParseInt(fracPadded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q fractional part out of range", amount)
		}
	}

	scale := int64(1)
	for i := 0; i < maxDecimals; i++ {
		scale *= 10
	}
	if whole > (1<<62)/scale {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return whole*scale + frac, nil
}

// FormatDrops renders drops as the ledger's decimal string with full
// fractional precision (the inverse of ParseLedgerAmount).
func FormatDrops(drops int64, maxDecimals int) string {
	scale := int64(1)
	for i := 0; i < maxDecimals; i++ {
		scale *= 10
	}
	whole := drops / scale
	frac := drops % scale
	return fmt.Sprintf("%d.%0*d", whole, maxDecimals, frac)
}

// memoMatches compares the payment memo against the stored reference.
// Exact equality only, in constant time; prefix or padded variants of
// the right reference must not pass.
func memoMatches(memo, reference string) bool {
	if len(memo) != len(reference) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(memo), []byte(reference)) == 1
}

// ValidateAgentPayment runs the ordered acceptance checks for a payment
// received on a bridge request's agent address. The checks are ordered
// exactly: terminal status, expiry, memo, amount, acceptance window.
func ValidateAgentPayment(req *models.BridgeRequest, payment *LedgerPayment, now time.Time, maxDecimals int) PaymentValidation {
	if req.Status.IsTerminal() {
		return PaymentValidation{
			Code:    ValidationTerminalStatus,
			Message: fmt.Sprintf("bridge %s is already %s", req.ID, req.Status),
		}
	}

	if req.IsExpired(now) {
		return PaymentValidation{
			Code:    ValidationExpired,
			Message: fmt.Sprintf("bridge %s expired at %s", req.ID, req.ExpiresAt.Format(time.RFC3339)),
		}
	}

	if payment.Memo == "" || !memoMatches(payment.Memo, req.PaymentReference) {
		return PaymentValidation{
			Code:    ValidationMemoMismatch,
			Message: "payment memo does not match the stored payment reference",
		}
	}

	received, err := ParseLedgerAmount(payment.Amount, maxDecimals)
	if err != nil {
		return PaymentValidation{
			Code:    ValidationInvalidAmount,
			Message: err.Error(),
		}
	}
	expected := req.ReservedTotalDrops()
	if received != expected {
		return PaymentValidation{
			Code: ValidationAmountMismatch,
			Message: fmt.Sprintf("received %d drops, reserved %d drops (value %d + fee %d)",
				received, expected, req.ReservedValueDrops, req.ReservedFeeDrops),
			ReceivedDrops: received,
			ExpectedDrops: expected,
		}
	}

	if !req.AcceptsPayment() {
		return PaymentValidation{
			Code:    ValidationStatusConflict,
			Message: fmt.Sprintf("bridge %s in status %s does not accept payments", req.ID, req.Status),
		}
	}

	return PaymentValidation{
		OK:            true,
		Code:          ValidationOK,
		ReceivedDrops: received,
		ExpectedDrops: expected,
	}
}
