// Package v1_test contains tests for the public ingestion API handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/geo"
	"visitly/internal/sessions"
	"visitly/internal/testsupport"
)

const desktopChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func postSession(t *testing.T, app *fiber.App, path string, payload map[string]interface{}, userAgent string) *http.Response {
	t.Helper()

	jsonPayload, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(jsonPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Forwarded-For", "127.0.0.1")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &parsed), "body: %s", string(body))
	return parsed
}

func TestTrackSessionPublicAPIHandler(t *testing.T) {
	t.Run("creates a new session", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		resp := postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"sessionId": "sess-create-1",
			"visitorId": "visitor-1",
			"entryPage": "/landing",
			"referrer":  "https://www.google.com/search?q=visitly",
		}, desktopChromeUA)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "created", decodeBody(t, resp)["status"])

		stored, err := sessions.FindBySessionID(db, "sess-create-1")
		require.NoError(t, err)
		assert.Equal(t, "visitor-1", stored.VisitorID)
		assert.Equal(t, "/landing", stored.EntryPage)
		assert.Equal(t, 1, stored.PageViews)
		assert.True(t, stored.IsBounce)
		// Loopback client IP: no geolocation lookup
		assert.Equal(t, geo.UnknownCountry, stored.Country)
		// Dimensions filled from the User-Agent header
		assert.Equal(t, "Chrome", stored.Browser)
		assert.Equal(t, "Windows", stored.OS)
		assert.Equal(t, "Desktop", stored.DeviceType)
		assert.Equal(t, "Search", stored.ReferrerCategory)
	})

	t.Run("updates metrics without touching dimensions", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		resp := postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"sessionId": "sess-update-1",
			"visitorId": "visitor-1",
			"entryPage": "/home",
		}, desktopChromeUA)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"sessionId":       "sess-update-1",
			"visitorId":       "visitor-1",
			"entryPage":       "/should-not-change",
			"exitPage":        "/pricing",
			"pageViews":       3,
			"sessionDuration": 42,
			"isBounce":        false,
		}, desktopChromeUA)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "updated", decodeBody(t, resp)["status"])

		stored, err := sessions.FindBySessionID(db, "sess-update-1")
		require.NoError(t, err)
		assert.Equal(t, "/home", stored.EntryPage, "dimension fields are fixed at creation")
		assert.Equal(t, "/pricing", stored.ExitPage)
		assert.Equal(t, 3, stored.PageViews)
		assert.Equal(t, 42, stored.SessionDuration)
		assert.False(t, stored.IsBounce)
	})

	t.Run("rejects a missing sessionId", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		resp := postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"visitorId": "visitor-1",
		}, desktopChromeUA)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MISSING_SESSION_ID", decodeBody(t, resp)["code"])

		var count int64
		require.NoError(t, db.Model(&sessions.VisitorSession{}).Count(&count).Error)
		assert.Zero(t, count, "no partial writes on rejected requests")
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := httptest.NewRequest("POST", "/x/api/v1/sessions", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", desktopChromeUA)

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ignores bot traffic", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		resp := postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"sessionId": "sess-bot-1",
		}, "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ignored", decodeBody(t, resp)["status"])

		var count int64
		require.NoError(t, db.Model(&sessions.VisitorSession{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("generates a fallback visitor id", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		resp := postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"sessionId": "sess-no-visitor",
		}, desktopChromeUA)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		stored, err := sessions.FindBySessionID(db, "sess-no-visitor")
		require.NoError(t, err)
		assert.NotEmpty(t, stored.VisitorID)
	})
}

func TestTrackSessionBeaconHandler(t *testing.T) {
	t.Run("accepts an exit beacon", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		resp := postSession(t, app, "/x/api/v1/sessions", map[string]interface{}{
			"sessionId": "sess-beacon-1",
			"entryPage": "/",
		}, desktopChromeUA)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		// Beacon bodies arrive as text/plain
		req := httptest.NewRequest("POST", "/x/api/v1/sessions/beacon",
			strings.NewReader(`{"sessionId":"sess-beacon-1","exitPage":"/bye","sessionDuration":77,"isBounce":false,"pageViews":2}`))
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("User-Agent", desktopChromeUA)

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		stored, err := sessions.FindBySessionID(db, "sess-beacon-1")
		require.NoError(t, err)
		assert.Equal(t, "/bye", stored.ExitPage)
		assert.Equal(t, 77, stored.SessionDuration)
		assert.False(t, stored.IsBounce)
	})

	t.Run("swallows garbage bodies", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := httptest.NewRequest("POST", "/x/api/v1/sessions/beacon", strings.NewReader("not json at all"))
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("User-Agent", desktopChromeUA)

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})
}

func TestHealthEndpoint(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/_health", nil)
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAdminAPIRequiresSession(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/admin/api/report?range=today", nil)
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)

	assert.NotEqual(t, http.StatusOK, resp.StatusCode, "unauthenticated access must be denied")
}
