// main.go - Admin control tool for Visitly
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"visitly/internal"
	"visitly/internal/sessions"
	"visitly/internal/stats"
	"visitly/internal/users"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&CreateAdminUserCommand{},
	&ChangeAdminPasswordCommand{},
	&MigrateCommand{},
	&AggregateCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
		// Let the command handle this situation
	}

	// Ensure app is cleaned up
	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// CreateAdminUserCommand implements the command to create an initial admin user
type CreateAdminUserCommand struct{}

func (c *CreateAdminUserCommand) Name() string {
	return "create-admin-user"
}

func (c *CreateAdminUserCommand) Description() string {
	return "Creates an initial admin user"
}

// Execute implements the create-admin-user command
func (c *CreateAdminUserCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email> [password]", c.Name())
	}

	email := args[0]

	var password string
	if len(args) >= 2 {
		password = args[1]
	} else {
		pwd, err := promptPassword("Enter password: ")
		if err != nil {
			return err
		}
		password = pwd
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}
	db := app.DBManager.GetConnection()

	log.Printf("Setting up initial user with email: %s", email)

	if err := users.CreateAdminUser(db, email, password); err != nil {
		if errors.Is(err, users.ErrUserExists) {
			log.Printf("User %s already exists", email)
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// ChangeAdminPasswordCommand implements password update for existing admin user
type ChangeAdminPasswordCommand struct{}

func (c *ChangeAdminPasswordCommand) Name() string {
	return "change-admin-password"
}

func (c *ChangeAdminPasswordCommand) Description() string {
	return "Changes the password of an existing admin user"
}

// Execute implements the change-admin-password command
func (c *ChangeAdminPasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	var email string
	if len(args) >= 1 {
		email = args[0]
	} else {
		fmt.Print("Enter admin email: ")
		input, _ := reader.ReadString('\n')
		email = strings.TrimSpace(input)
	}

	if email == "" {
		return fmt.Errorf("email is required")
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}
	db := app.DBManager.GetConnection()

	// Ensure user exists
	if _, err := users.FindByEmail(db, email); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	var newPassword string
	if len(args) >= 2 {
		newPassword = args[1]
	} else {
		pwd1, err := promptPassword("Enter new password: ")
		if err != nil {
			return err
		}
		pwd2, err := promptPassword("Confirm new password: ")
		if err != nil {
			return err
		}
		if pwd1 != pwd2 {
			return fmt.Errorf("passwords do not match")
		}
		newPassword = pwd1
	}

	if newPassword == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := users.ChangePassword(db, email, newPassword); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Println("Password updated successfully")
	return nil
}

// AggregateCommand runs an aggregation pass from the command line
type AggregateCommand struct{}

func (c *AggregateCommand) Name() string        { return "aggregate" }
func (c *AggregateCommand) Description() string { return "Runs an aggregation pass over pending sessions" }

func (c *AggregateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run aggregation")
	}

	result, err := app.Aggregator.Run()
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	log.Printf("Aggregation complete: %d sessions rolled up (%d inserted, %d updated groups), %d raw rows deleted",
		result.Aggregated, result.Inserted, result.Updated, result.Deleted)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string {
	return "status"
}

func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

// Execute implements the status command
func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	var userCount int64
	if err := db.Model(&users.User{}).Count(&userCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	pending, err := sessions.CountPendingAggregation(db, app.Aggregator.CutoffTime())
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	statCount, err := stats.Count(db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Users: %d", userCount)
	log.Printf("- Sessions pending aggregation: %d", pending)
	log.Printf("- Aggregated stat rows: %d", statCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string {
	return "help"
}

func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: visitlyctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// Helper functions

// promptPassword reads a password from the terminal without echoing it.
// Falls back to plain stdin reading when not attached to a terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	fmt.Println("Usage: visitlyctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	os.Exit(1)
}
