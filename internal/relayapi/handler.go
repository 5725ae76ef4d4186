// Package relayapi is the relay's HTTP boundary: health probes, the
// proof-upload webhook, notification reads, the realtime websocket, and
// Prometheus metrics.
package relayapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wagr-app/wagr-relay/internal/identity"
	"github.com/wagr-app/wagr-relay/internal/mirror"
	"github.com/wagr-app/wagr-relay/internal/notify"
	"nhooyr.io/websocket"
)

var ErrInvalidConfig = errors.New("relayapi: invalid config")

type Config struct {
	// FrontendOrigin is the browser origin allowed by CORS and the
	// websocket handshake. "*" disables the origin check.
	FrontendOrigin string

	Now func() time.Time
}

// Notifier persists and pushes one notification. *notify.Fanout
// satisfies it.
type Notifier interface {
	Notify(ctx context.Context, recipientAddr, userID, typ, message, wagerID string) (mirror.Notification, error)
}

// IDSource mints ids for proof rows arriving without one.
type IDSource interface {
	NewID() string
}

func NewHandler(cfg Config, store mirror.Store, users *identity.Resolver, notifier Notifier, hub *notify.Hub, ids IDSource, log *slog.Logger) (http.Handler, error) {
	if store == nil || users == nil || notifier == nil || hub == nil || ids == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.FrontendOrigin) == "" {
		return nil, fmt.Errorf("%w: missing frontend origin", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &handler{
		cfg:      cfg,
		store:    store,
		users:    users,
		notifier: notifier,
		hub:      hub,
		ids:      ids,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /proof", h.handleProof)
	mux.HandleFunc("GET /notifications", h.handleListNotifications)
	mux.HandleFunc("POST /notifications/{id}/read", h.handleMarkRead)
	mux.HandleFunc("GET /ws", h.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	return h.withCORS(mux), nil
}

type handler struct {
	cfg      Config
	store    mirror.Store
	users    *identity.Resolver
	notifier Notifier
	hub      *notify.Hub
	ids      IDSource
	log      *slog.Logger
}

func (h *handler) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.cfg.FrontendOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type proofEnvelope struct {
	EventName string    `json:"eventName"`
	Data      proofData `json:"data"`
}

type proofData struct {
	ID               string `json:"id"`
	WagerID          string `json:"wagerId"`
	UserID           string `json:"userId"`
	UploaderAddr     string `json:"uploaderAddr"`
	NotifiedUserAddr string `json:"notifiedUserAddr"`
	URL              string `json:"url"`
	Text             string `json:"text"`
}

// handleProof receives the frontend's proof-upload webhook: it records
// the proof and tells the other party. The recipient lookup is
// non-strict; a wallet without an account just misses the notification.
func (h *handler) handleProof(w http.ResponseWriter, r *http.Request) {
	env, ok := decodeJSONBody[proofEnvelope](w, r)
	if !ok {
		return
	}
	if env.EventName != "proofUploaded" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if env.Data.WagerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_wager_id"})
		return
	}

	ctx := r.Context()

	uploaderID := strings.TrimSpace(env.Data.UserID)
	if uploaderID == "" {
		var err error
		uploaderID, err = h.resolveLoose(ctx, env.Data.UploaderAddr)
		if err != nil {
			h.log.Error("resolve proof uploader", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
			return
		}
	}
	// The proof row references its uploader; a wallet without an account
	// cannot be recorded as one, and the counterparty is told regardless.
	if uploaderID == "" {
		h.log.Info("proof uploader has no account, skipping proof row",
			"wager", env.Data.WagerID, "address", identity.Normalize(env.Data.UploaderAddr))
	} else {
		proofID := env.Data.ID
		if proofID == "" {
			proofID = h.ids.NewID()
		}
		if err := h.store.InsertProof(ctx, mirror.Proof{
			ID:         proofID,
			WagerID:    env.Data.WagerID,
			UploaderID: uploaderID,
			Text:       env.Data.Text,
			ImageURL:   env.Data.URL,
		}); err != nil {
			h.log.Error("persist proof", "wager", env.Data.WagerID, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
			return
		}
	}

	recipientID, err := h.resolveLoose(ctx, env.Data.NotifiedUserAddr)
	if err != nil {
		h.log.Error("resolve proof recipient", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
		return
	}
	if recipientID == "" {
		h.log.Info("proof recipient has no account, skipping notification",
			"wager", env.Data.WagerID, "address", identity.Normalize(env.Data.NotifiedUserAddr))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	message := fmt.Sprintf("New proof uploaded for wager #%s", env.Data.WagerID)
	if _, err := h.notifier.Notify(ctx, env.Data.NotifiedUserAddr, recipientID, "ProofUploaded", message, env.Data.WagerID); err != nil {
		h.log.Error("proof notification", "wager", env.Data.WagerID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type notificationView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	WagerID   string    `json:"wagerId"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		addr := strings.TrimSpace(r.URL.Query().Get("address"))
		if addr == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_user"})
			return
		}
		id, err := h.users.Resolve(ctx, addr)
		if errors.Is(err, identity.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown_user"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
			return
		}
		userID = id
	}

	rows, err := h.store.ListNotifications(ctx, userID)
	if err != nil {
		h.log.Error("list notifications", "user", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
		return
	}
	out := make([]notificationView, 0, len(rows))
	for _, n := range rows {
		out = append(out, notificationView{
			ID:        n.ID,
			Type:      n.Type,
			Message:   n.Message,
			WagerID:   n.WagerID,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.store.MarkNotificationRead(r.Context(), id)
	if errors.Is(err, mirror.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
		return
	}
	if err != nil {
		h.log.Error("mark notification read", "id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.cfg.FrontendOrigin == "*" {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = []string{originHost(h.cfg.FrontendOrigin)}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Warn("websocket accept failed", "err", err)
		return
	}
	h.hub.ServeConn(r.Context(), conn)
}

// originHost strips the scheme from a configured origin; nhooyr matches
// host patterns, not full origins.
func originHost(origin string) string {
	s := strings.TrimPrefix(origin, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

func (h *handler) resolveLoose(ctx context.Context, addr string) (string, error) {
	if strings.TrimSpace(addr) == "" {
		return "", nil
	}
	id, err := h.users.Resolve(ctx, addr)
	if errors.Is(err, identity.ErrUserNotFound) {
		return "", nil
	}
	return id, err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_json"})
		return out, false
	}
	return out, true
}
