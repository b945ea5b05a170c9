package entry

import (
	"strings"

	"github.com/xraph/feeledger/id"
)

// Idempotency keys. Two appends carrying the same key can never both land.

// ChargeKey identifies the CHARGE for one fee head of a structure.
func ChargeKey(sfID id.StudentFeeID, head string) string {
	return "charge:" + sfID.String() + ":" + head
}

// ConcessionKey identifies a slab concession on a structure.
func ConcessionKey(sfID id.StudentFeeID, slabID id.SlabID) string {
	return "concession:" + sfID.String() + ":" + slabID.String()
}

// FineKey identifies a fine by its caller-supplied reference.
func FineKey(sfID id.StudentFeeID, reference string) string {
	return "fine:" + sfID.String() + ":" + normalize(reference)
}

// GatewayKey identifies the PAYMENT produced by one gateway payment
// attempt. The webhook and the sweep derive the same key whether or not
// the gateway reported its transaction id.
func GatewayKey(gateway string, attemptID id.AttemptID) string {
	return "gw:" + normalize(gateway) + ":" + attemptID.String()
}

// ManualKey identifies an offline payment by its receipt reference.
func ManualKey(sfID id.StudentFeeID, reference string) string {
	return "manual:" + sfID.String() + ":" + normalize(reference)
}

// ReverseKey identifies the reversal of an entry.
func ReverseKey(entryID id.EntryID) string {
	return "reverse:" + entryID.String()
}

// CreditKey derives the key of the CREDIT split from an overpaying PAYMENT.
func CreditKey(paymentKey string) string {
	return paymentKey + ":credit"
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
