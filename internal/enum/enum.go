package enum

// ── Card kinds (wire values from the admin API) ──

const (
	KindMenu        = "menu"
	KindBuffet      = "buffet"
	KindReservation = "reservation"
)

// ── Alert buckets (badge counters reset via /admin/alerts/seen) ──

const (
	BucketOrders       = "orders"
	BucketBuffet       = "buffet"
	BucketReservations = "reservations"
)

// ── Timing modes ──

const (
	TimingASAP      = "asap"
	TimingScheduled = "scheduled"
)

// ── Poller status shown to operators ──

const (
	StatusConnecting   = "connecting"
	StatusReady        = "ready"
	StatusError        = "error"
	StatusUnauthorized = "unauthorized"
)

// ── Operator roles ──

const (
	RoleAdmin = "ADMIN"
	RoleStaff = "STAFF"
)

// ── Audit actions ──

const (
	ActionConfirm = "CONFIRM"
	ActionCancel  = "CANCEL"
	ActionPrint   = "PRINT"
)

// Kinds lists every card kind in display order.
var Kinds = []string{KindMenu, KindBuffet, KindReservation}

// Buckets lists every alert bucket in display order.
var Buckets = []string{BucketOrders, BucketBuffet, BucketReservations}

// IsKind reports whether s is a known card kind.
func IsKind(s string) bool {
	switch s {
	case KindMenu, KindBuffet, KindReservation:
		return true
	}
	return false
}

// IsBucket reports whether s is a known alert bucket.
func IsBucket(s string) bool {
	switch s {
	case BucketOrders, BucketBuffet, BucketReservations:
		return true
	}
	return false
}
