// Package v1 implements the public ingestion API: the rate-limited endpoint
// visitor trackers report their sessions to.
package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitly/internal/config"
	"visitly/internal/geo"
	"visitly/internal/pkg/referrers"
	"visitly/internal/pkg/useragent"
	"visitly/internal/sessions"
	"visitly/internal/visitors"
)

const errInvalidRequest = "Invalid request"

// TrackSessionParams is the ingest payload sent by the client tracker.
// Dimension fields apply on session creation only; pointer metric fields
// let an update carry just the values that changed.
type TrackSessionParams struct {
	SessionID string `json:"sessionId"`
	VisitorID string `json:"visitorId"`

	DeviceType       string `json:"deviceType"`
	Browser          string `json:"browser"`
	BrowserVersion   string `json:"browserVersion"`
	OS               string `json:"os"`
	OSVersion        string `json:"osVersion"`
	Referrer         string `json:"referrer"`
	ReferrerCategory string `json:"referrerCategory"`
	EntryPage        string `json:"entryPage"`

	ExitPage        string `json:"exitPage"`
	PageViews       *int   `json:"pageViews"`
	SessionDuration *int   `json:"sessionDuration"`
	IsBounce        *bool  `json:"isBounce"`

	UserAgent string `json:"userAgent"`
}

// TrackSessionPublicAPIHandler handles POST /x/api/v1/sessions.
// Responds 201 when a new session row was created, 200 when an existing one
// was updated, 400 on a malformed payload and 500 on persistence failure.
func TrackSessionPublicAPIHandler(ctx *cartridge.Context) error {
	var params TrackSessionParams
	if err := ctx.BodyParser(&params); err != nil {
		ctx.Logger.Debug("Failed to parse session request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidRequest,
			"code":  "INVALID_PAYLOAD",
		})
	}

	if params.SessionID == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "sessionId is required",
			"code":  "MISSING_SESSION_ID",
		})
	}

	input, drop := buildTrackInput(ctx, &params)
	if drop {
		// Bot traffic is acknowledged but never stored.
		return ctx.Status(http.StatusOK).JSON(fiber.Map{"status": "ignored"})
	}

	created, err := sessions.Track(ctx.DBManager, ctx.Logger, input)
	if err != nil {
		ctx.Logger.Error("Failed to track session",
			slog.String("session_id", params.SessionID),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to track session",
			"code":  "TRACKING_ERROR",
		})
	}

	if created {
		return ctx.Status(http.StatusCreated).JSON(fiber.Map{"status": "created"})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"status": "updated"})
}

// TrackSessionBeaconHandler handles POST /x/api/v1/sessions/beacon: the exit
// beacon fired as the visitor leaves. Beacons are fire-and-forget, so every
// outcome including parse errors returns 202.
func TrackSessionBeaconHandler(ctx *cartridge.Context) error {
	// Beacon bodies arrive as text/plain
	var params TrackSessionParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	if params.SessionID == "" {
		return ctx.SendStatus(http.StatusAccepted)
	}

	input, drop := buildTrackInput(ctx, &params)
	if drop {
		return ctx.SendStatus(http.StatusAccepted)
	}

	if _, err := sessions.Track(ctx.DBManager, ctx.Logger, input); err != nil {
		ctx.Logger.Error("Failed to track beacon session",
			slog.String("session_id", params.SessionID),
			slog.Any("error", err))
	}

	return ctx.SendStatus(http.StatusAccepted)
}

// buildTrackInput enriches the payload server-side: country from the client
// IP, device/browser/OS from the User-Agent when the client omitted them,
// referrer categorization, and a fallback visitor id. Reports drop=true for
// bot user agents.
func buildTrackInput(ctx *cartridge.Context, params *TrackSessionParams) (*sessions.TrackInput, bool) {
	userAgentHeader := ctx.Get("User-Agent")
	if params.UserAgent != "" {
		userAgentHeader = params.UserAgent
	}

	parsed := useragent.Parse(userAgentHeader)
	if parsed.Bot {
		ctx.Logger.Debug("Dropping bot session",
			slog.String("bot", parsed.BotName),
			slog.String("session_id", params.SessionID))
		return nil, true
	}

	if params.DeviceType == "" {
		params.DeviceType = parsed.DeviceType
	}
	if params.Browser == "" {
		params.Browser = parsed.Browser
		params.BrowserVersion = parsed.BrowserVersion
	}
	if params.OS == "" {
		params.OS = parsed.OS
		params.OSVersion = parsed.OSVersion
	}

	clientIP := GetClientIP(ctx.Ctx)
	country := geo.CountryFromIP(clientIP)

	if params.VisitorID == "" {
		params.VisitorID = visitors.BuildUniqueVisitorId(clientIP, userAgentHeader, config.GetConfig().PrivateKey)
	}

	referrerCategory := params.ReferrerCategory
	if referrerCategory == "" {
		referrerCategory = referrers.Categorize(referrerHostname(params.Referrer))
	} else {
		referrerCategory = referrers.Normalize(referrerCategory)
	}

	return &sessions.TrackInput{
		SessionID:        params.SessionID,
		VisitorID:        params.VisitorID,
		Country:          country,
		DeviceType:       params.DeviceType,
		Browser:          params.Browser,
		BrowserVersion:   params.BrowserVersion,
		OS:               params.OS,
		OSVersion:        params.OSVersion,
		Referrer:         params.Referrer,
		ReferrerCategory: referrerCategory,
		EntryPage:        params.EntryPage,
		ExitPage:         params.ExitPage,
		PageViews:        params.PageViews,
		SessionDuration:  params.SessionDuration,
		IsBounce:         params.IsBounce,
		Timestamp:        time.Now().UTC(),
	}, false
}

// referrerHostname extracts the hostname of a referrer value that may be a
// full URL or a bare host.
func referrerHostname(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	if parsed, err := url.Parse(referrer); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return referrer
}
