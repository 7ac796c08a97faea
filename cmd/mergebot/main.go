// MergeBot - Android merge-battle automation
//
// This is the main entry point for the MergeBot daemon. It drives one
// Android device (usually an emulator) through adb:
//   - Classifies the current screen by template matching
//   - Plays battles by scanning and merging the board
//   - Recovers from stuck or unknown screens with escalating restarts
//   - Reports results to SQLite, JSON lines, MQTT, InfluxDB and WebSocket
//
// Subcommands:
//
//	mergebot            run the automation loop (default)
//	mergebot token      mint a bearer token for the control API
//	mergebot devices    list the serials adb can see
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

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/mergebot/internal/auth"
	"github.com/nerrad567/mergebot/internal/device"
	"github.com/nerrad567/mergebot/internal/infrastructure/config"
	"github.com/nerrad567/mergebot/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[1:]
	switch {
	case len(args) > 0 && args[0] == "token":
		err = runToken(args[1:], os.Stdout)
	case len(args) > 0 && args[0] == "devices":
		err = runDevices(ctx, os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration, wires every component and blocks until
// ctx is cancelled or a component fails.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting MergeBot",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // shutdown path
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.orchestrator.Run(gctx)
	})
	if cfg.Templates.Watch {
		g.Go(func() error {
			// Losing hot reload must not stop the loop.
			if err := app.templates.Watch(gctx); err != nil {
				log.Warn("template watcher stopped", "error", err)
			}
			return nil
		})
	}

	log.Info("initialisation complete, automation loop running", "serial", app.serial)
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("MergeBot stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MERGEBOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MERGEBOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// runToken mints an access token signed with the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "name recorded in the token")
	role := fs.String("role", string(auth.RoleOperator), "viewer or operator")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set")
	}
	if *ttl == 0 {
		*ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// runDevices prints the serials of attached devices.
func runDevices(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	ch := device.NewChannel(device.Config{
		Binary:         cfg.Device.ADBBinary,
		OneShotTimeout: cfg.Device.OneShotTimeout,
	})
	serials, err := ch.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for _, s := range serials {
		if _, err := fmt.Fprintln(out, s); err != nil {
			return err
		}
	}
	return nil
}
