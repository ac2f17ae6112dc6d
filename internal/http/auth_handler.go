package http

import (
	"net/http"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/crypto"

	"visitly/internal/users"
)

// ProcessLoginAction handles POST /login: authenticates an admin and sets
// the session cookie the privileged API routes require.
func ProcessLoginAction(ctx *cartridge.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request",
		})
	}

	if body.Email == "" || body.Password == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Email and password are required",
		})
	}

	db := ctx.DB()
	user, lookupErr := users.FindByEmail(db, body.Email)

	// Always verify a password so the response time does not reveal
	// whether the email exists.
	var passwordValid bool
	if lookupErr != nil {
		ctx.Logger.Debug("User not found during login", slog.String("email", body.Email))
		dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy" // bcrypt hash of "dummy"
		crypto.VerifyPassword(dummyHash, body.Password)
	} else {
		passwordValid = crypto.VerifyPassword(user.EncryptedPassword, body.Password)
		if !passwordValid {
			ctx.Logger.Debug("Invalid password attempt", slog.String("email", body.Email))
		}
	}

	if !passwordValid {
		// Generic message - don't reveal whether the email exists
		return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	if err := ctx.Session.SetSession(ctx.Ctx, user.ID); err != nil {
		ctx.Logger.Error("Failed to set session", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Login failed",
		})
	}

	ctx.Logger.Debug("Login successful",
		slog.String("email", body.Email),
		slog.Int("userId", int(user.ID)))

	return ctx.JSON(fiber.Map{"status": "ok"})
}

// LogoutAction handles POST /logout.
func LogoutAction(ctx *cartridge.Context) error {
	ctx.Session.ClearSession(ctx.Ctx)
	return ctx.JSON(fiber.Map{"status": "ok"})
}
