package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/app"
	"github.com/lalith-99/echoclient/internal/config"
	"github.com/lalith-99/echoclient/internal/observ"
	"go.uber.org/zap"
)

const version = "0.3.0"

const usage = `EchoStream chat client.

Configuration comes from the environment (or a .env file):
    ECHO_API_URL            backend REST url (default http://localhost:8000)
    ECHO_STREAM_URL         backend WebSocket url (derived from ECHO_API_URL)
    ECHO_CREDENTIAL_STORE   file:///path, redis://... or postgres://...
    ECHO_CREDENTIAL_KEY     passphrase sealing the file credential store

Usage:
    echoclient login <username> [--password=<password>]
    echoclient signup <username> <email> [--password=<password>]
    echoclient logout
    echoclient whoami
    echoclient channels
    echoclient join <channel_id>
    echoclient leave <channel_id>
    echoclient chat <channel_id>
    echoclient serve [--port=<port>]
    echoclient -h | --help
    echoclient --version

Options:
    -h --help                Show this screen.
    --version                Show version.
    --password=<password>    Password; prompted for when omitted.
    --port=<port>            Bridge port, overrides ECHO_BRIDGE_PORT.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := docopt.ParseArgs(usage, args, version)
	if err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port, _ := opts.String("--port"); port != "" {
		cfg.BridgePort = port
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// ---------------------------------------------------------------
	// 3. Wire components and resolve the stored credential
	//
	// Ctrl-C cancels ctx; every command below returns when it does.
	// ---------------------------------------------------------------
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Session.Initialize(ctx); err != nil {
		// An expired credential is not fatal: the user can log in again.
		logger.Debug("stored credential not usable", zap.Error(err))
	}

	// ---------------------------------------------------------------
	// 4. Dispatch
	// ---------------------------------------------------------------
	switch {
	case flag(opts, "login"):
		username, _ := opts.String("<username>")
		password, _ := opts.String("--password")
		return cmdLogin(ctx, a, username, password)
	case flag(opts, "signup"):
		username, _ := opts.String("<username>")
		email, _ := opts.String("<email>")
		password, _ := opts.String("--password")
		return cmdSignup(ctx, a, username, email, password)
	case flag(opts, "logout"):
		return cmdLogout(ctx, a)
	case flag(opts, "whoami"):
		return cmdWhoami(a)
	case flag(opts, "channels"):
		return cmdChannels(ctx, a)
	case flag(opts, "join"):
		return withChannel(opts, func(id uuid.UUID) error { return cmdJoin(ctx, a, id) })
	case flag(opts, "leave"):
		return withChannel(opts, func(id uuid.UUID) error { return cmdLeave(ctx, a, id) })
	case flag(opts, "chat"):
		return withChannel(opts, func(id uuid.UUID) error { return cmdChat(ctx, a, id) })
	case flag(opts, "serve"):
		return cmdServe(ctx, a)
	default:
		return errors.New("unknown command")
	}
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func withChannel(opts docopt.Opts, fn func(uuid.UUID) error) error {
	raw, _ := opts.String("<channel_id>")
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", raw)
	}
	return fn(id)
}
