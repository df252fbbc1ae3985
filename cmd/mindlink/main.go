package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mindlink/internal/app"
	"mindlink/internal/auth"
	"mindlink/internal/config"
	"mindlink/internal/logging"
	"mindlink/pkg/types"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run dispatches to the server (default) or the token subcommand.
func run(args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "token" {
		return runToken(args[1:], stdout)
	}
	return runServer(args)
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("mindlink", flag.ContinueOnError)
	envFile := fs.String("env-file", "", "dotenv file to load (default $"+config.EnvFileVar+" or .env)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(*envFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal", zap.Error(context.Cause(ctx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

// runToken prints a signed access token. Only for local development; the
// platform's auth service issues production tokens.
func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "user id")
	email := fs.String("email", "", "user email")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(types.RoleStudent), "student, teacher or admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	secret := fs.String("secret", os.Getenv(config.EnvPrefix+"AUTH_JWT_SECRET"), "HMAC signing secret")
	issuer := fs.String("issuer", os.Getenv(config.EnvPrefix+"AUTH_ISSUER"), "token issuer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" {
		return errors.New("token: -id is required")
	}
	if *secret == "" {
		return errors.New("token: -secret or " + config.EnvPrefix + "AUTH_JWT_SECRET is required")
	}
	r := types.Role(*role)
	switch r {
	case types.RoleStudent, types.RoleTeacher, types.RoleAdmin:
	default:
		return fmt.Errorf("token: unknown role %q", *role)
	}

	token, err := auth.IssueToken([]byte(*secret), *issuer, &types.Identity{
		ID:    *id,
		Email: *email,
		Name:  *name,
		Role:  r,
	}, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
