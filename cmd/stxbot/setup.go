package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/stxbot/internal/app"
	"github.com/alanyoungcy/stxbot/internal/config"
)

// loadConfig reads the config file, tolerating a missing default file, and
// validates it when validate is set.
func loadConfig(validate bool) (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger builds the JSON logger at the configured level and installs it
// as the default.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// promptCode asks for a 2FA code on the terminal.
func promptCode(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "2FA code: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read 2fa code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// newApp loads and validates config and builds an App for an exchange
// command.
func newApp(opts app.WireOptions) (*app.App, *config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(!opts.SkipExchange)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	if opts.Prompt == nil && !opts.SkipExchange {
		opts.Prompt = promptCode
	}
	return app.New(cfg, logger, opts), cfg, logger, nil
}
