// Package testsupport provides shared helpers for visitly's tests: named
// in-memory sqlite databases with migrated models, fixture builders for raw
// sessions and stats rows, and auth helpers for handler tests.
package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitly/internal"
	"visitly/internal/aggregation"
	"visitly/internal/config"
	"visitly/internal/ratelimit"
	"visitly/internal/sessions"
	"visitly/internal/stats"
	"visitly/internal/users"
)

// SessionCookieName is the expected cookie name for admin session cookies in
// tests. Matches routes.go: cfg.AppName + "_session".
const SessionCookieName = "visitly_session"

// testDBCache caches test databases by root test name so multiple calls
// within the same test (including subtests) share the same database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with visitly's interface.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager.
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

func allModels() []any {
	return []any{
		&users.User{},
		&sessions.VisitorSession{},
		&stats.AggregatedStat{},
	}
}

// SetupTestDB creates a test database with all visitly models migrated.
// Uses a named in-memory database with cache=shared so multiple connections
// within a test reach the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use the root test name for caching so subtests created via t.Run
	// share the database of their parent.
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager and logger.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set VISITLY_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	logger := GetLogger()
	dbManager := NewTestDBManager(db)

	return dbManager, logger
}

// CleanAllTables clears all non-system tables in the database.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}

	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestUserForAuth creates a user with a properly hashed password for auth testing.
func CreateTestUserForAuth(t *testing.T, db *gorm.DB, email, password string) *users.User {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	user := &users.User{
		Email:             email,
		EncryptedPassword: string(hashedPassword),
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	limiter := ratelimit.New(appConfig.RateLimitMaxRequests,
		time.Duration(appConfig.RateLimitWindowSeconds)*time.Second)
	aggregator := aggregation.New(dbManager, GetLogger(),
		time.Duration(appConfig.GetAggregationCutoff())*time.Second)

	internal.MountAppRoutes(srv, limiter, aggregator)
	return srv.App()
}

// GetLogger returns a test logger that only reports errors.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestSession inserts a raw visitor session directly, bypassing the
// ingest path, with sensible defaults for fields the caller doesn't care about.
func CreateTestSession(t *testing.T, db *gorm.DB, sessionID string, createdAt time.Time, mutate ...func(*sessions.VisitorSession)) *sessions.VisitorSession {
	t.Helper()

	session := &sessions.VisitorSession{
		SessionID:        sessionID,
		VisitorID:        sessionID + "-visitor",
		Country:          "US",
		DeviceType:       "Desktop",
		Browser:          "Chrome",
		OS:               "Windows",
		ReferrerCategory: "Direct",
		EntryPage:        "/",
		ExitPage:         "/",
		PageViews:        1,
		SessionDuration:  0,
		IsBounce:         true,
		LastActivity:     createdAt,
		CreatedAt:        createdAt,
	}
	for _, fn := range mutate {
		fn(session)
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

// CreateTestStat inserts an aggregated stats row directly.
func CreateTestStat(t *testing.T, db *gorm.DB, key stats.Key, metrics stats.GroupMetrics) *stats.AggregatedStat {
	t.Helper()

	stat := &stats.AggregatedStat{
		Date:               key.Date,
		Hour:               key.Hour,
		Country:            key.Country,
		DeviceType:         key.DeviceType,
		Browser:            key.Browser,
		OS:                 key.OS,
		ReferrerCategory:   key.ReferrerCategory,
		Sessions:           metrics.Sessions,
		Visitors:           metrics.Visitors,
		PageViews:          metrics.PageViews,
		Bounces:            metrics.Bounces,
		AvgSessionDuration: metrics.AvgSessionDuration,
	}
	require.NoError(t, db.Create(stat).Error)
	return stat
}
