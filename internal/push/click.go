package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"time"

	"github.com/kiwari-pos/alert-console/internal/ws"
	log "github.com/sirupsen/logrus"
)

// Navigator focuses the most recently connected tab.
// Satisfied by *ws.Hub.
type Navigator interface {
	SendToNewest(event ws.Event) bool
}

// Opener opens a URL in a new browser window.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// CommandOpener opens URLs with a desktop helper such as xdg-open.
type CommandOpener struct {
	Name string
}

func (o CommandOpener) Open(ctx context.Context, target string) error {
	out, err := exec.CommandContext(ctx, o.Name, target).CombinedOutput()
	if err != nil {
		return fmt.Errorf("open %s: %w: %s", target, err, out)
	}
	return nil
}

type navigatePayload struct {
	URL string `json:"url"`
}

type clickPayload struct {
	URL string `json:"url"`
}

// ClickRouter handles notification clicks.
type ClickRouter struct {
	nav     Navigator
	opener  Opener
	baseURL *url.URL
	timeout time.Duration
}

// NewClickRouter resolves relative notification URLs against baseURL when
// a new window has to be opened. opener may be nil.
func NewClickRouter(nav Navigator, opener Opener, baseURL string) (*ClickRouter, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse admin url: %w", err)
	}
	return &ClickRouter{nav: nav, opener: opener, baseURL: base, timeout: 10 * time.Second}, nil
}

// Click navigates the newest tab to target, or opens a new window when no tab
// is connected.
func (r *ClickRouter) Click(ctx context.Context, target string) error {
	ev, err := ws.NewEvent(ws.EventNavigate, navigatePayload{URL: target})
	if err != nil {
		return err
	}
	if r.nav.SendToNewest(ev) {
		return nil
	}
	if r.opener == nil {
		return fmt.Errorf("no tab connected and no opener configured")
	}

	ref, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse notification url: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.opener.Open(ctx, r.baseURL.ResolveReference(ref).String())
}

// HandleMessage routes notification.click events sent by tabs.
// Suitable for ws.Hub.OnMessage.
func (r *ClickRouter) HandleMessage(c *ws.Client, ev ws.Event) {
	if ev.Type != ws.EventNotificationClick {
		return
	}
	var p clickPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.URL == "" {
		log.WithField("client", c.ID()).Debug("ignoring malformed notification click")
		return
	}
	if err := r.Click(context.Background(), p.URL); err != nil {
		log.WithError(err).WithField("url", p.URL).Warn("notification click not routed")
	}
}
