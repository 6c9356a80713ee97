package card

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiwari-pos/alert-console/internal/enum"
	"github.com/shopspring/decimal"
)

// Errors returned when parsing card identity.
var (
	ErrInvalidKey  = errors.New("invalid card key")
	ErrUnknownKind = errors.New("unknown card kind")
)

// Card is a new, admin-actionable order or reservation as returned by
// GET /admin/orders/new.
type Card struct {
	Kind        string     `json:"kind"`
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	Timing      Timing     `json:"timing"`
	Customer    Customer   `json:"customer"`
	Items       []LineItem `json:"items"`
	PartySize   int        `json:"partySize,omitempty"`
	ReservedFor *time.Time `json:"reservedFor,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Timing says when the card must be ready.
type Timing struct {
	Mode         string     `json:"mode"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	ExtraMinutes int        `json:"extraMinutes,omitempty"`
}

// Customer is the contact block attached to a card.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// LineItem is one ordered item. Reservations usually carry none.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Notes     string          `json:"notes,omitempty"`
}

// Key returns the composite identity of the card.
func (c Card) Key() Key {
	return Key{Kind: c.Kind, ID: c.ID}
}

// Bucket returns the alert bucket the card counts against.
func (c Card) Bucket() string {
	return Bucket(c.Kind)
}

// Total sums quantity × unit price over all line items.
func (c Card) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Amount())
	}
	return total
}

// Amount is quantity × unit price.
func (it LineItem) Amount() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// IsASAP reports whether the card has no explicit schedule.
func (t Timing) IsASAP() bool {
	return t.Mode != enum.TimingScheduled || t.ScheduledFor == nil
}

// ReadyAt returns when the card is due, including the admin's extra minutes.
// ASAP cards are due relative to now.
func (t Timing) ReadyAt(now time.Time) time.Time {
	extra := time.Duration(t.ExtraMinutes) * time.Minute
	if t.IsASAP() {
		return now.Add(extra)
	}
	return t.ScheduledFor.Add(extra)
}

// Bucket maps a card kind to its alert bucket. Unknown kinds map to "".
func Bucket(kind string) string {
	switch kind {
	case enum.KindMenu:
		return enum.BucketOrders
	case enum.KindBuffet:
		return enum.BucketBuffet
	case enum.KindReservation:
		return enum.BucketReservations
	}
	return ""
}

// Key is the composite "kind:id" identity used for diffing and sound control.
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string {
	return k.Kind + ":" + k.ID
}

// MarshalText encodes the key as "kind:id".
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey parses "kind:id". The id may itself contain colons.
func ParseKey(s string) (Key, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return NewKey(kind, id)
}

// NewKey validates kind and id and builds a Key.
func NewKey(kind, id string) (Key, error) {
	if !enum.IsKind(kind) {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if id == "" {
		return Key{}, fmt.Errorf("%w: empty id", ErrInvalidKey)
	}
	return Key{Kind: kind, ID: id}, nil
}
