package checkout

import "ms-checkout/internal/models"

// minReferenceLength is the shortest identifier we accept as a plausible
// opaque provider reference.
const minReferenceLength = 8

// MatchingReferencePolicy is the trust-boundary fallback: when the caller
// supplies an external payment id and an external order id that are
// identical and structurally plausible, and the session itself is valid
// and non-empty, that is accepted as strong evidence of a completed
// payment. The provider's own redirect carrying matching identifiers is
// the best signal available when direct lookups are flaky. The policy is
// an explicit, toggled object so the behavior stays auditable; it is off
// unless VERIFY_TRUST_MATCHING_REFS enables it.
type MatchingReferencePolicy struct {
	Enabled bool
}

// Applies reports whether the matching-reference evidence is acceptable
// for this session.
func (p MatchingReferencePolicy) Applies(paymentID, orderID string, session *models.CheckoutSession) bool {
	if !p.Enabled {
		return false
	}
	if paymentID == "" || paymentID != orderID {
		return false
	}
	if !plausibleReference(paymentID) {
		return false
	}
	if session == nil || len(session.Items) == 0 || session.Total <= 0 {
		return false
	}
	return true
}

// plausibleReference accepts opaque provider identifiers: long enough and
// limited to the characters providers actually emit.
func plausibleReference(ref string) bool {
	if len(ref) < minReferenceLength {
		return false
	}
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
