package relayapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wagr-app/wagr-relay/internal/idempotency"
	"github.com/wagr-app/wagr-relay/internal/identity"
	"github.com/wagr-app/wagr-relay/internal/mirror"
	"github.com/wagr-app/wagr-relay/internal/notify"
)

const (
	uploaderAddr  = "0x1111111111111111111111111111111111111111"
	recipientAddr = "0x2222222222222222222222222222222222222222"
	strangerAddr  = "0x3333333333333333333333333333333333333333"
)

type sentNote struct {
	Addr    string
	UserID  string
	Type    string
	Message string
	WagerID string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (n *fakeNotifier) Notify(_ context.Context, addr, userID, typ, message, wagerID string) (mirror.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{Addr: addr, UserID: userID, Type: typ, Message: message, WagerID: wagerID})
	return mirror.Notification{ID: "note", UserID: userID}, nil
}

func (n *fakeNotifier) all() []sentNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNote(nil), n.sent...)
}

type fixture struct {
	handler  http.Handler
	store    *mirror.MemoryStore
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := identity.NewMemoryStore()
	users.Register(uploaderAddr, "user-uploader")
	users.Register(recipientAddr, "user-recipient")
	resolver, err := identity.NewResolver(users, 84532, idempotency.Source{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	f := &fixture{
		store:    mirror.NewMemoryStore(),
		notifier: &fakeNotifier{},
	}
	f.handler, err = NewHandler(
		Config{FrontendOrigin: "http://localhost:3000"},
		f.store, resolver, f.notifier, notify.NewHub(nil), idempotency.Source{}, nil,
	)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return f
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/health", "/healthz"} {
		rec := doJSON(t, f.handler, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		var out map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || !out["ok"] {
			t.Fatalf("%s: body %q", path, rec.Body.String())
		}
	}
}

func TestProofWebhookPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := `{
		"eventName": "proofUploaded",
		"data": {
			"wagerId": "7",
			"uploaderAddr": "` + uploaderAddr + `",
			"notifiedUserAddr": "` + recipientAddr + `",
			"url": "https://cdn.example/proof.png",
			"text": "screenshot"
		}
	}`
	rec := doJSON(t, f.handler, http.MethodPost, "/proof", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	proofs := f.store.Proofs()
	if len(proofs) != 1 {
		t.Fatalf("proof rows: %d", len(proofs))
	}
	p := proofs[0]
	if p.WagerID != "7" || p.UploaderID != "user-uploader" || p.ImageURL != "https://cdn.example/proof.png" {
		t.Fatalf("proof row: %+v", p)
	}
	if p.ID == "" {
		t.Fatalf("proof row missing id")
	}

	notes := f.notifier.all()
	if len(notes) != 1 {
		t.Fatalf("notifications: %d", len(notes))
	}
	n := notes[0]
	if n.UserID != "user-recipient" || n.Type != "ProofUploaded" || n.WagerID != "7" {
		t.Fatalf("notification: %+v", n)
	}
	if n.Message != "New proof uploaded for wager #7" {
		t.Fatalf("message: %q", n.Message)
	}
}

func TestProofWebhookUnknownRecipientStillOK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := `{
		"eventName": "proofUploaded",
		"data": {
			"wagerId": "7",
			"uploaderAddr": "` + uploaderAddr + `",
			"notifiedUserAddr": "` + strangerAddr + `",
			"text": "screenshot"
		}
	}`
	rec := doJSON(t, f.handler, http.MethodPost, "/proof", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(f.store.Proofs()) != 1 {
		t.Fatalf("proof not persisted")
	}
	if len(f.notifier.all()) != 0 {
		t.Fatalf("unexpected notification for unknown recipient")
	}
}

func TestProofWebhookUnknownUploaderSkipsProofRow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := `{
		"eventName": "proofUploaded",
		"data": {
			"wagerId": "7",
			"uploaderAddr": "` + strangerAddr + `",
			"notifiedUserAddr": "` + recipientAddr + `",
			"text": "screenshot"
		}
	}`
	rec := doJSON(t, f.handler, http.MethodPost, "/proof", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if got := len(f.store.Proofs()); got != 0 {
		t.Fatalf("proof rows for accountless uploader: %d", got)
	}
	notes := f.notifier.all()
	if len(notes) != 1 || notes[0].UserID != "user-recipient" {
		t.Fatalf("notifications: %+v", notes)
	}
}

func TestProofWebhookHonorsEnvelopeUserID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := `{
		"eventName": "proofUploaded",
		"data": {
			"wagerId": "7",
			"userId": "user-uploader",
			"notifiedUserAddr": "` + recipientAddr + `",
			"text": "screenshot"
		}
	}`
	rec := doJSON(t, f.handler, http.MethodPost, "/proof", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	proofs := f.store.Proofs()
	if len(proofs) != 1 || proofs[0].UploaderID != "user-uploader" {
		t.Fatalf("proof rows: %+v", proofs)
	}
}

func TestProofWebhookIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/proof", `{"eventName":"somethingElse","data":{}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(f.store.Proofs()) != 0 || len(f.notifier.all()) != 0 {
		t.Fatalf("ignored event left state behind")
	}
}

func TestProofWebhookRejectsBadJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/proof", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestListNotificationsByAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seed := mirror.Notification{
		ID:        "n1",
		UserID:    "user-recipient",
		Type:      "WagerCountered",
		Message:   "Your wager #7 has been countered",
		WagerID:   "7",
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.store.InsertNotification(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, f.handler, http.MethodGet, "/notifications?address="+recipientAddr, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out struct {
		Notifications []notificationView `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Notifications) != 1 || out.Notifications[0].ID != "n1" || out.Notifications[0].Read {
		t.Fatalf("list: %+v", out.Notifications)
	}

	rec = doJSON(t, f.handler, http.MethodGet, "/notifications?address="+strangerAddr, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown address status %d", rec.Code)
	}

	rec = doJSON(t, f.handler, http.MethodGet, "/notifications", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user status %d", rec.Code)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.store.InsertNotification(context.Background(), mirror.Notification{
		ID:     "n1",
		UserID: "user-recipient",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, f.handler, http.MethodPost, "/notifications/n1/read", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	rows, err := f.store.ListNotifications(context.Background(), "user-recipient")
	if err != nil || len(rows) != 1 || !rows[0].Read {
		t.Fatalf("rows after mark read: %+v err=%v", rows, err)
	}

	rec = doJSON(t, f.handler, http.MethodPost, "/notifications/missing/read", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing row status %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodOptions, "/notifications", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin: %q", got)
	}
}
