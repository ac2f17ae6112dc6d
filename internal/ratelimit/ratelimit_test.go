package ratelimit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/ratelimit"
	"visitly/internal/testsupport"
)

func TestAllowWithinQuota(t *testing.T) {
	l := ratelimit.New(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("1.2.3.4")
		assert.True(t, ok, "request %d should be allowed", i+1)
	}
}

func TestRejectsEveryExcessRequestUntilReset(t *testing.T) {
	l := ratelimit.New(2, time.Minute)

	ok, _ := l.Allow("1.2.3.4")
	require.True(t, ok)
	ok, _ = l.Allow("1.2.3.4")
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		ok, retryAfter := l.Allow("1.2.3.4")
		assert.False(t, ok, "excess request %d should be rejected", i+1)
		assert.Greater(t, retryAfter, time.Duration(0))
		assert.LessOrEqual(t, retryAfter, time.Minute)
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l := ratelimit.New(1, time.Minute)

	ok, _ := l.Allow("1.1.1.1")
	require.True(t, ok)
	ok, _ = l.Allow("1.1.1.1")
	require.False(t, ok)

	// A different client still has its own quota
	ok, _ = l.Allow("2.2.2.2")
	assert.True(t, ok)
}

func TestWindowResets(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return now })

	ok, _ := l.Allow("9.9.9.9")
	require.True(t, ok)
	ok, _ = l.Allow("9.9.9.9")
	require.False(t, ok)

	// Advance past the window: counter resets to 1
	now = now.Add(61 * time.Second)
	ok, _ = l.Allow("9.9.9.9")
	assert.True(t, ok)
	ok, _ = l.Allow("9.9.9.9")
	assert.False(t, ok)
}

func TestMiddlewareRejectsOverQuotaClients(t *testing.T) {
	l := ratelimit.New(2, time.Minute)

	app := fiber.New()
	app.Use(l.Middleware(testsupport.GetLogger(), func(c *fiber.Ctx) string {
		return c.Get("X-Test-Client-IP")
	}))
	app.Post("/x/api/v1/sessions", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	send := func() *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/x/api/v1/sessions", nil)
		req.Header.Set("X-Test-Client-IP", "203.0.113.7")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		return resp
	}

	for i := 0; i < 2; i++ {
		resp := send()
		assert.Equal(t, http.StatusCreated, resp.StatusCode, "request %d is within quota", i+1)
	}

	resp := send()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	retryAfter, err := time.ParseDuration(resp.Header.Get("Retry-After") + "s")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, time.Second)
	assert.LessOrEqual(t, retryAfter, time.Minute)

	var body struct {
		Error      string `json:"error"`
		Code       string `json:"code"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Too many requests", body.Error)
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.GreaterOrEqual(t, body.RetryAfter, 1)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	l := ratelimit.New(10, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return now })

	l.Allow("1.1.1.1")
	l.Allow("2.2.2.2")
	require.Equal(t, 2, l.Size())

	// Nothing expired yet
	assert.Equal(t, 0, l.Sweep())

	now = now.Add(2 * time.Minute)
	l.Allow("3.3.3.3")

	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 1, l.Size())
}
