package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/enum"
	"golang.org/x/text/encoding/charmap"
)

const defaultWidth = 42

// ESC/POS control sequences.
var (
	cmdInit        = []byte{0x1b, '@'}
	cmdCodePage    = []byte{0x1b, 't', 16} // WPC1252
	cmdBoldOn      = []byte{0x1b, 'E', 1}
	cmdBoldOff     = []byte{0x1b, 'E', 0}
	cmdDoubleOn    = []byte{0x1d, '!', 0x11}
	cmdDoubleOff   = []byte{0x1d, '!', 0x00}
	cmdAlignCenter = []byte{0x1b, 'a', 1}
	cmdAlignLeft   = []byte{0x1b, 'a', 0}
	cmdFeed        = []byte{0x1b, 'd', 4}
	cmdPartialCut  = []byte{0x1d, 'V', 66, 0}
)

// Options controls receipt layout.
type Options struct {
	// Header is printed centred at the top, usually the restaurant name.
	Header string
	// Width is the printable width in characters. Defaults to 42 (80mm paper).
	Width int
	// Location formats scheduled times. Defaults to UTC.
	Location *time.Location
	// Now is used for ASAP cards. Defaults to time.Now.
	Now func() time.Time
}

var kindLabels = map[string]string{
	enum.KindMenu:        "ORDER",
	enum.KindBuffet:      "BUFFET",
	enum.KindReservation: "RESERVATION",
}

// Encode renders c as an ESC/POS byte stream.
func Encode(c card.Card, opts Options) ([]byte, error) {
	if !enum.IsKind(c.Kind) {
		return nil, fmt.Errorf("encode receipt: %w: %q", card.ErrUnknownKind, c.Kind)
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	w := &writer{width: opts.Width, enc: charmap.Windows1252.NewEncoder()}
	w.raw(cmdInit)
	w.raw(cmdCodePage)

	w.raw(cmdAlignCenter)
	if opts.Header != "" {
		w.raw(cmdBoldOn)
		w.line(opts.Header)
		w.raw(cmdBoldOff)
	}
	w.raw(cmdDoubleOn)
	w.line(kindLabels[c.Kind])
	w.raw(cmdDoubleOff)
	w.line("#" + c.ID)
	w.raw(cmdAlignLeft)
	w.rule()

	w.raw(cmdBoldOn)
	w.line(timingLine(c, opts))
	w.raw(cmdBoldOff)
	if !c.CreatedAt.IsZero() {
		w.line("Placed: " + c.CreatedAt.In(opts.Location).Format("02 Jan 15:04"))
	}
	if c.Kind == enum.KindReservation {
		if c.ReservedFor != nil {
			w.line("Table for: " + c.ReservedFor.In(opts.Location).Format("02 Jan 15:04"))
		}
		if c.PartySize > 0 {
			w.line(fmt.Sprintf("Guests: %d", c.PartySize))
		}
	}
	w.rule()

	if c.Customer.Name != "" {
		w.line(c.Customer.Name)
	}
	if c.Customer.Phone != "" {
		w.line(c.Customer.Phone)
	}
	if c.Customer.Email != "" {
		w.line(c.Customer.Email)
	}

	if len(c.Items) > 0 {
		w.rule()
		for _, it := range c.Items {
			w.columns(fmt.Sprintf("%dx %s", it.Quantity, it.Name), it.Amount().StringFixed(2))
			if it.Notes != "" {
				w.line("   " + it.Notes)
			}
		}
		w.rule()
		w.raw(cmdBoldOn)
		w.columns("TOTAL", c.Total().StringFixed(2))
		w.raw(cmdBoldOff)
	}

	if c.Notes != "" {
		w.rule()
		w.line("Note: " + c.Notes)
	}

	w.raw(cmdFeed)
	w.raw(cmdPartialCut)
	return w.buf.Bytes(), nil
}

func timingLine(c card.Card, opts Options) string {
	t := c.Timing
	if t.IsASAP() {
		if t.ExtraMinutes > 0 {
			ready := t.ReadyAt(opts.Now()).In(opts.Location)
			return fmt.Sprintf("ASAP +%d min (%s)", t.ExtraMinutes, ready.Format("15:04"))
		}
		return "ASAP"
	}
	return "For " + t.ReadyAt(opts.Now()).In(opts.Location).Format("02 Jan 15:04")
}

type writer struct {
	buf   bytes.Buffer
	width int
	enc   interface{ String(string) (string, error) }
}

func (w *writer) raw(b []byte) {
	w.buf.Write(b)
}

func (w *writer) line(s string) {
	w.buf.WriteString(w.encode(s))
	w.buf.WriteByte('\n')
}

func (w *writer) rule() {
	w.line(strings.Repeat("-", w.width))
}

// columns prints left and right on one line, truncating left if needed.
func (w *writer) columns(left, right string) {
	space := w.width - utf8.RuneCountInString(right) - 1
	if space < 1 {
		w.line(left + " " + right)
		return
	}
	if n := utf8.RuneCountInString(left); n > space {
		left = string([]rune(left)[:space])
	}
	pad := w.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	w.line(left + strings.Repeat(" ", pad) + right)
}

// encode transcodes to Windows-1252, replacing unsupported runes with '?'.
func (w *writer) encode(s string) string {
	if out, err := w.enc.String(s); err == nil {
		return out
	}
	var b strings.Builder
	for _, r := range s {
		if out, err := w.enc.String(string(r)); err == nil {
			b.WriteString(out)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}
