package push

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/enum"
)

// TagNewOrder groups arrival notifications so a newer one replaces the previous.
const TagNewOrder = "new-order"

// Notification is the payload a tab shows as a system notification.
type Notification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	Tag      string `json:"tag"`
	Renotify bool   `json:"renotify"`
}

// FromCard builds the arrival notification for a new card.
func FromCard(c card.Card) Notification {
	return Notification{
		Title:    title(c.Kind),
		Body:     body(c),
		URL:      CardURL(c.Key()),
		Tag:      TagNewOrder,
		Renotify: true,
	}
}

// CardURL is the admin page that shows a card.
func CardURL(k card.Key) string {
	return fmt.Sprintf("/admin/%s/%s", card.Bucket(k.Kind), url.PathEscape(k.ID))
}

func title(kind string) string {
	switch kind {
	case enum.KindMenu:
		return "New order"
	case enum.KindBuffet:
		return "New buffet booking"
	case enum.KindReservation:
		return "New reservation"
	default:
		return "New request"
	}
}

func body(c card.Card) string {
	var parts []string
	if c.Customer.Name != "" {
		parts = append(parts, c.Customer.Name)
	}
	if c.PartySize > 0 {
		parts = append(parts, fmt.Sprintf("%d guests", c.PartySize))
	}
	if len(c.Items) > 0 {
		parts = append(parts, c.Total().StringFixed(2))
	}
	if c.Timing.IsASAP() {
		parts = append(parts, "ASAP")
	} else {
		parts = append(parts, "for "+c.Timing.ScheduledFor.Format("02 Jan 15:04"))
	}
	if len(parts) == 0 {
		return "#" + c.ID
	}
	return "#" + c.ID + " · " + strings.Join(parts, " · ")
}
