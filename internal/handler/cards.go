package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/alert-console/internal/adminapi"
	"github.com/kiwari-pos/alert-console/internal/audit"
	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/enum"
	"github.com/kiwari-pos/alert-console/internal/middleware"
	"github.com/kiwari-pos/alert-console/internal/poller"
	"github.com/kiwari-pos/alert-console/internal/receipt"
	log "github.com/sirupsen/logrus"
)

const maxExtraMinutes = 240

// CardSession defines the poll-session methods needed by card handlers.
// Satisfied by *poller.Session; narrow interface for testability.
type CardSession interface {
	Snapshot() poller.Snapshot
	Card(key card.Key) (card.Card, bool)
	Confirm(ctx context.Context, key card.Key, req adminapi.ConfirmRequest) error
	Cancel(ctx context.Context, key card.Key, req adminapi.CancelRequest) error
	EnableAudio()
}

// AlertsAPI resets badge counters. Satisfied by *adminapi.Client.
type AlertsAPI interface {
	MarkAlertsSeen(ctx context.Context, buckets []string) error
}

// BadgeClearer forgets pending notifications once badges are reset.
// Satisfied by *push.Notifier.
type BadgeClearer interface {
	Clear(buckets ...string)
}

// CardHandler handles the live card list and the actions taken on it.
type CardHandler struct {
	session  CardSession
	alerts   AlertsAPI
	recorder audit.Recorder
	badges   BadgeClearer
	printer  receipt.Printer
	receipt  receipt.Options
}

// CardOption configures optional CardHandler collaborators.
type CardOption func(*CardHandler)

// WithPrinter enables local receipt printing.
func WithPrinter(p receipt.Printer, opts receipt.Options) CardOption {
	return func(h *CardHandler) {
		h.printer = p
		h.receipt = opts
	}
}

// WithBadgeClearer clears replayed notifications when badges are reset.
func WithBadgeClearer(b BadgeClearer) CardOption {
	return func(h *CardHandler) { h.badges = b }
}

// NewCardHandler creates a new CardHandler. recorder may be audit.Nop{}.
func NewCardHandler(session CardSession, alerts AlertsAPI, recorder audit.Recorder, opts ...CardOption) *CardHandler {
	h := &CardHandler{session: session, alerts: alerts, recorder: recorder}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes registers card endpoints on the given Chi router.
func (h *CardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/cards", h.List)
	r.Post("/cards/{kind}/{id}/confirm", h.Confirm)
	r.Post("/cards/{kind}/{id}/cancel", h.Cancel)
	r.Post("/cards/{kind}/{id}/print", h.Print)
	r.Post("/audio/enable", h.EnableAudio)
	r.Post("/alerts/seen", h.AlertsSeen)
}

// --- Request / Response types ---

type confirmRequest struct {
	Print        bool `json:"print"`
	ExtraMinutes *int `json:"extraMinutes"`
}

type cancelRequest struct {
	Reason       string `json:"reason"`
	RefundIfPaid bool   `json:"refundIfPaid"`
}

type alertsSeenRequest struct {
	Kinds []string `json:"kinds"`
}

// --- Handlers ---

// List returns the current snapshot of the poll session.
func (h *CardHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// Confirm accepts a card. An empty body confirms without printing.
func (h *CardHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	key, ok := parseCardKey(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ExtraMinutes != nil && (*req.ExtraMinutes < 0 || *req.ExtraMinutes > maxExtraMinutes) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "extraMinutes must be between 0 and 240"})
		return
	}

	// The card leaves the list on success, so keep a copy for the receipt.
	c, found := h.session.Card(key)

	err := h.session.Confirm(r.Context(), key, adminapi.ConfirmRequest{
		Print:        req.Print,
		ExtraMinutes: req.ExtraMinutes,
	})
	if err != nil {
		writeSessionError(w, key, err)
		return
	}

	h.record(r, audit.Entry{Action: enum.ActionConfirm, Key: key, ExtraMinutes: req.ExtraMinutes})
	if req.Print && found && h.printer != nil {
		if err := h.print(r.Context(), c); err != nil {
			log.WithError(err).WithField("key", key.String()).Warn("receipt print failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel rejects a card. A reason is required.
func (h *CardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	key, ok := parseCardKey(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}

	err := h.session.Cancel(r.Context(), key, adminapi.CancelRequest{
		Reason:       req.Reason,
		RefundIfPaid: req.RefundIfPaid,
	})
	if err != nil {
		writeSessionError(w, key, err)
		return
	}

	h.record(r, audit.Entry{Action: enum.ActionCancel, Key: key, Reason: req.Reason})
	w.WriteHeader(http.StatusNoContent)
}

// Print sends the receipt of a listed card to the local printer.
func (h *CardHandler) Print(w http.ResponseWriter, r *http.Request) {
	key, ok := parseCardKey(w, r)
	if !ok {
		return
	}
	if h.printer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no printer configured"})
		return
	}

	c, found := h.session.Card(key)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "card not found"})
		return
	}

	if err := h.print(r.Context(), c); err != nil {
		log.WithError(err).WithField("key", key.String()).Warn("receipt print failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "printer unavailable"})
		return
	}

	h.record(r, audit.Entry{Action: enum.ActionPrint, Key: key})
	w.WriteHeader(http.StatusNoContent)
}

// EnableAudio unlocks alert sounds after the operator's first interaction.
func (h *CardHandler) EnableAudio(w http.ResponseWriter, r *http.Request) {
	h.session.EnableAudio()
	w.WriteHeader(http.StatusNoContent)
}

// AlertsSeen resets the badge counters of the given buckets.
func (h *CardHandler) AlertsSeen(w http.ResponseWriter, r *http.Request) {
	var req alertsSeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Kinds) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kinds is required"})
		return
	}
	for _, b := range req.Kinds {
		if !enum.IsBucket(b) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown bucket: " + b})
			return
		}
	}

	if err := h.alerts.MarkAlertsSeen(r.Context(), req.Kinds); err != nil {
		writeAPIError(w, err)
		return
	}
	if h.badges != nil {
		h.badges.Clear(req.Kinds...)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (h *CardHandler) print(ctx context.Context, c card.Card) error {
	data, err := receipt.Encode(c, h.receipt)
	if err != nil {
		return err
	}
	return h.printer.Print(ctx, data)
}

// record writes an audit entry. Failures never affect the response.
func (h *CardHandler) record(r *http.Request, e audit.Entry) {
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		e.Operator = claims.Operator
	}
	if err := h.recorder.Record(r.Context(), e); err != nil {
		log.WithError(err).WithFields(log.Fields{"action": e.Action, "key": e.Key.String()}).Warn("audit write failed")
	}
}

func parseCardKey(w http.ResponseWriter, r *http.Request) (card.Key, bool) {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	key, err := card.NewKey(chi.URLParam(r, "kind"), id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return card.Key{}, false
	}
	return key, true
}

// decodeOptional decodes a JSON body, treating an empty body as zero values.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeSessionError(w http.ResponseWriter, key card.Key, err error) {
	switch {
	case errors.Is(err, poller.ErrUnknownCard):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "card not found"})
	default:
		log.WithError(err).WithField("key", key.String()).Warn("card action failed")
		writeAPIError(w, err)
	}
}

func writeAPIError(w http.ResponseWriter, err error) {
	if errors.Is(err, adminapi.ErrUnauthorized) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin session expired"})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": "admin api request failed"})
}
