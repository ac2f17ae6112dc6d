// Package tracker is a client-side session tracker for Go applications that
// report visitor activity to a visitly ingestion endpoint. It maintains one
// logical session across page views within a 30-minute inactivity window,
// counts page views, computes bounce and duration, and suppresses all
// activity for bot user agents or visitors without tracking consent.
package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"visitly/internal/pkg/useragent"
)

// DefaultSessionTimeout is the inactivity window after which a new session
// starts on the next page view.
const DefaultSessionTimeout = 30 * time.Minute

const defaultRequestTimeout = 3 * time.Second

// Config configures a Tracker.
type Config struct {
	// Endpoint is the full URL of the ingestion endpoint,
	// e.g. "https://analytics.example.com/x/api/v1/sessions".
	Endpoint string

	// UserAgent identifies the client environment. Bot user agents
	// suppress all tracking.
	UserAgent string

	// VisitorID is the persisted pseudo-anonymous visitor identifier. When
	// empty a random one is generated for the lifetime of the Tracker and
	// exposed via VisitorID() so callers can persist it.
	VisitorID string

	// Consent reports whether the visitor has granted tracking consent.
	// A nil func means consent is granted. It is re-checked on every call,
	// so revoking consent stops tracking immediately.
	Consent func() bool

	// SessionTimeout overrides the 30-minute inactivity window.
	SessionTimeout time.Duration

	// HTTPClient overrides the default client (3 second timeout).
	HTTPClient *http.Client
}

// payload mirrors the ingestion endpoint's request body.
type payload struct {
	SessionID string `json:"sessionId"`
	VisitorID string `json:"visitorId"`

	DeviceType       string `json:"deviceType,omitempty"`
	Browser          string `json:"browser,omitempty"`
	BrowserVersion   string `json:"browserVersion,omitempty"`
	OS               string `json:"os,omitempty"`
	OSVersion        string `json:"osVersion,omitempty"`
	Referrer         string `json:"referrer,omitempty"`
	ReferrerCategory string `json:"referrerCategory,omitempty"`
	EntryPage        string `json:"entryPage,omitempty"`

	ExitPage        string `json:"exitPage,omitempty"`
	PageViews       int    `json:"pageViews"`
	SessionDuration int    `json:"sessionDuration"`
	IsBounce        bool   `json:"isBounce"`

	IsNewSession bool   `json:"isNewSession,omitempty"`
	IsExit       bool   `json:"isExit,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
}

// Tracker tracks one visitor's session. Safe for concurrent use.
type Tracker struct {
	cfg        Config
	client     *http.Client
	timeout    time.Duration
	visitorID  string
	suppressed bool
	now        func() time.Time

	mu           sync.Mutex
	sessionID    string
	startedAt    time.Time
	lastActivity time.Time
	pageViews    int
	entryPage    string
	lastPage     string
	flushed      bool
}

// New creates a Tracker. The endpoint is required.
func New(cfg Config) (*Tracker, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tracker: endpoint is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	visitorID := cfg.VisitorID
	if visitorID == "" {
		visitorID = uuid.New().String()
	}

	return &Tracker{
		cfg:        cfg,
		client:     client,
		timeout:    timeout,
		visitorID:  visitorID,
		suppressed: useragent.IsBot(cfg.UserAgent),
		now:        time.Now,
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.now = now
}

// VisitorID returns the visitor identifier in use, so callers can persist it
// across restarts.
func (t *Tracker) VisitorID() string {
	return t.visitorID
}

// SessionID returns the current session id, or "" before the first page view.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *Tracker) consented() bool {
	return t.cfg.Consent == nil || t.cfg.Consent()
}

// TrackPageView records a page view and reports it to the ingestion
// endpoint. The first view of a session (no session yet, or the previous one
// idle past the timeout) starts a new session with page as the entry page;
// the initial call for a session is flagged as new exactly once.
// Suppressed trackers (bot user agent, no consent) do nothing and return nil.
func (t *Tracker) TrackPageView(page, referrer string) error {
	if t.suppressed || !t.consented() {
		return nil
	}

	t.mu.Lock()
	now := t.now()

	isNew := t.sessionID == "" || now.Sub(t.lastActivity) > t.timeout
	if isNew {
		t.sessionID = uuid.New().String()
		t.startedAt = now
		t.pageViews = 0
		t.entryPage = page
		t.flushed = false
	}

	t.pageViews++
	t.lastActivity = now
	t.lastPage = page

	p := t.buildPayloadLocked(now)
	// Only the call that starts a session is flagged as new; every later
	// call for the same session id is an update.
	if isNew {
		p.Referrer = referrer
		p.EntryPage = t.entryPage
		p.IsNewSession = true
	}
	t.mu.Unlock()

	return t.send(t.cfg.Endpoint, p)
}

// Flush sends a best-effort exit beacon carrying the exit page and final
// duration. Delivery is not guaranteed and the server tolerates missing exit
// signals; Flush is a no-op after a previous successful flush of the same
// session or when nothing has been tracked yet.
func (t *Tracker) Flush() error {
	if t.suppressed || !t.consented() {
		return nil
	}

	t.mu.Lock()
	if t.sessionID == "" || t.flushed {
		t.mu.Unlock()
		return nil
	}

	now := t.now()
	p := t.buildPayloadLocked(now)
	p.ExitPage = t.lastPage
	p.IsExit = true
	t.flushed = true
	t.mu.Unlock()

	return t.send(beaconEndpoint(t.cfg.Endpoint), p)
}

// buildPayloadLocked assembles the common payload fields. Callers hold t.mu.
func (t *Tracker) buildPayloadLocked(now time.Time) payload {
	duration := int(now.Sub(t.startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	return payload{
		SessionID:       t.sessionID,
		VisitorID:       t.visitorID,
		PageViews:       t.pageViews,
		SessionDuration: duration,
		IsBounce:        t.pageViews <= 1,
		UserAgent:       t.cfg.UserAgent,
	}
}

func (t *Tracker) send(endpoint string, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("tracker: failed to encode payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tracker: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("tracker: server responded %d", resp.StatusCode)
	}
	return nil
}

// beaconEndpoint derives the exit beacon URL from the main endpoint.
func beaconEndpoint(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/beacon"
}
