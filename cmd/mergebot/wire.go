package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/mergebot/internal/api"
	"github.com/nerrad567/mergebot/internal/automation"
	"github.com/nerrad567/mergebot/internal/board"
	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/device"
	"github.com/nerrad567/mergebot/internal/emulator"
	"github.com/nerrad567/mergebot/internal/history"
	"github.com/nerrad567/mergebot/internal/infrastructure/config"
	"github.com/nerrad567/mergebot/internal/infrastructure/database"
	"github.com/nerrad567/mergebot/internal/infrastructure/influxdb"
	"github.com/nerrad567/mergebot/internal/infrastructure/logging"
	"github.com/nerrad567/mergebot/internal/infrastructure/mqtt"
	"github.com/nerrad567/mergebot/internal/layout"
	"github.com/nerrad567/mergebot/internal/merge"
	"github.com/nerrad567/mergebot/internal/ocr"
	"github.com/nerrad567/mergebot/internal/results"
	"github.com/nerrad567/mergebot/internal/screen"
	"github.com/nerrad567/mergebot/internal/telemetry"
	"github.com/nerrad567/mergebot/internal/templates"
	"github.com/nerrad567/mergebot/internal/vision"
	"github.com/nerrad567/mergebot/migrations"
)

// application holds the wired components and closes them in reverse order.
type application struct {
	serial       string
	orchestrator *automation.Orchestrator
	templates    *templates.FSStore

	log     *logging.Logger
	closers []func() error
	names   []string
}

func (a *application) onClose(name string, fn func() error) {
	a.names = append(a.names, name)
	a.closers = append(a.closers, fn)
}

// Close releases every component, last opened first.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.log.Info("closing " + a.names[i])
		if err := a.closers[i](); err != nil {
			a.log.Error("error closing "+a.names[i], "error", err)
		}
	}
}

// requiredRegions must exist in the layout before the loop can start.
func requiredRegions(cfg *config.Config) []string {
	return []string{
		cfg.Board.ReferenceGroup + "/" + cfg.Board.ReferenceCell,
		"hero_info/level",
		"hero_info/name",
		automation.GroupBattle + "/" + automation.RegionCoin,
		automation.GroupBattle + "/" + automation.RegionLife1,
		automation.GroupBattle + "/" + automation.RegionLife2,
	}
}

// build wires every component from cfg. On error, whatever was already
// opened is closed again.
func build(ctx context.Context, cfg *config.Config, log *logging.Logger) (app *application, err error) {
	app = &application{log: log}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()
	clk := clock.Real{}

	// Static assets
	lay, err := layout.Load(cfg.Layout.Path)
	if err != nil {
		return app, fmt.Errorf("loading layout: %w", err)
	}
	if err = lay.Require(requiredRegions(cfg)...); err != nil {
		return app, fmt.Errorf("checking layout: %w", err)
	}
	store, err := templates.OpenFS(cfg.Templates.Dir, log)
	if err != nil {
		return app, fmt.Errorf("loading templates: %w", err)
	}
	app.templates = store
	log.Info("assets loaded", "layout", cfg.Layout.Path, "templates", cfg.Templates.Dir)

	// Storage
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return app, fmt.Errorf("opening database: %w", err)
	}
	app.onClose("database", db.Close)
	if err = db.Migrate(ctx, migrations.FS); err != nil {
		return app, fmt.Errorf("running migrations: %w", err)
	}
	repo := history.NewSQLiteRepository(db.DB)

	jsonl, err := results.OpenJSONL(cfg.Results.Path)
	if err != nil {
		return app, fmt.Errorf("opening results file: %w", err)
	}
	app.onClose("results file", jsonl.Close)

	sinks := results.NewMulti(jsonl, repo)
	sinks.SetLogger(log)

	// Device
	ch := device.NewChannel(device.Config{
		Binary:         cfg.Device.ADBBinary,
		Serial:         cfg.Device.Serial,
		CommandTimeout: cfg.Device.CommandTimeout,
		OneShotTimeout: cfg.Device.OneShotTimeout,
		CaptureTimeout: cfg.Device.CaptureTimeout,
	})
	ch.SetLogger(log)
	app.onClose("device channel", ch.Close)

	emu := emulator.New(cfg.Emulator, ch, clk)
	emu.SetLogger(log)
	if err = emu.Start(ctx); err != nil {
		return app, fmt.Errorf("starting device: %w", err)
	}
	app.onClose("emulator", emu.Stop)

	app.serial = resolveSerial(ctx, cfg, ch, log)
	log.Info("device ready", "serial", app.serial, "managed_emulator", emu.Managed())

	// Perception
	matcher := vision.New(cfg.Vision.Matcher, cfg.Vision.Scale)
	classifier := screen.NewClassifier(ch, ch, store, matcher, clk, screen.Config{
		Threshold:  cfg.Vision.MatchThreshold,
		MaxRetries: cfg.Vision.MaxRetries,
		Backoff:    cfg.Vision.RetryBackoff,
		DarkLuma:   cfg.Vision.DarkOverlayLuma,
	})
	classifier.SetLogger(log)

	var recognizer ocr.Recognizer = ocr.Nop{}
	if cfg.OCR.Enabled {
		tess, tessErr := ocr.NewTesseract(ocr.Config{Language: cfg.OCR.Language, Whitelist: cfg.OCR.Whitelist})
		if tessErr != nil {
			log.Warn("OCR unavailable, unknown heroes will be stored as stones", "error", tessErr)
		} else {
			recognizer = tess
			app.onClose("ocr", tess.Close)
		}
	}

	// Board and merging
	ref, _ := lay.Get(cfg.Board.ReferenceGroup, cfg.Board.ReferenceCell) //nolint:errcheck // checked by Require
	level, _ := lay.Get("hero_info", "level")                            //nolint:errcheck // checked by Require
	name, _ := lay.Get("hero_info", "name")                              //nolint:errcheck // checked by Require
	coin, _ := lay.Get(automation.GroupBattle, automation.RegionCoin)    //nolint:errcheck // checked by Require
	life1, _ := lay.Get(automation.GroupBattle, automation.RegionLife1)  //nolint:errcheck // checked by Require
	life2, _ := lay.Get(automation.GroupBattle, automation.RegionLife2)  //nolint:errcheck // checked by Require

	b := board.New(board.NewGeometry(ref.Rect(), cfg.Board.Rows, cfg.Board.Cols, cfg.Board.StepX, cfg.Board.StepY))
	scanner := board.NewScanner(ch, ch, store, matcher, recognizer, clk,
		board.Regions{Level: level.Rect(), Name: name.Rect()},
		board.ScanConfig{
			SettleDelay: cfg.Board.SettleDelay,
			EmptyRange:  cfg.Board.EmptyRange,
			PatchSize:   cfg.Board.PatchSize,
			Threshold:   cfg.Vision.MatchThreshold,
		})
	scanner.SetLogger(log)

	engine := merge.NewEngine(ch, ch, clk, coin.Center(), merge.Config{
		MaxLevel:     cfg.Merge.MaxLevel,
		MaxAttempts:  cfg.Merge.MaxAttempts,
		RetryDelay:   cfg.Merge.RetryDelay,
		DragDuration: cfg.Merge.DragDuration,
		VerifyDelay:  cfg.Merge.VerifyDelay,
		EmptyRange:   cfg.Board.EmptyRange,
		PatchSize:    cfg.Board.PatchSize,
	})
	engine.SetLogger(log)

	// Recovery and the loop
	recovery := automation.NewRecovery(ch, classifier, emu, clk, automation.RecoveryConfig{
		Serial:         app.serial,
		Package:        cfg.Device.Package,
		Activity:       cfg.Device.Activity,
		LaunchTimeout:  cfg.Automation.LaunchTimeout,
		MaxConsecutive: cfg.Automation.MaxConsecutiveRestarts,
		Cooldown:       cfg.Automation.RestartCooldown,
	})
	recovery.SetLogger(log)
	recovery.SetRecorder(repo)
	recovery.SetSession(ch)

	executor := automation.NewExecutor(ch, lay, b, scanner, engine, recovery, sinks, clk, automation.ExecutorConfig{
		Serial:         app.serial,
		Package:        cfg.Device.Package,
		Activity:       cfg.Device.Activity,
		DiagnosticsDir: cfg.Automation.DiagnosticsDir,
	})
	executor.SetLogger(log)

	orch := automation.NewOrchestrator(classifier, ch, executor,
		automation.NewRules(automation.PolicyFromConfig(cfg.Automation)), clk, ch,
		automation.Config{
			Serial:       app.serial,
			Package:      cfg.Device.Package,
			PollInterval: cfg.Automation.PollInterval,
			Life1:        life1.Rect(),
			Life2:        life2.Rect(),
		})
	orch.SetLogger(log)
	orch.SetBoardView(b.Cells)
	app.orchestrator = orch

	// Telemetry
	if cfg.MQTT.Enabled {
		startMQTT(ctx, app, cfg, orch, sinks)
	}
	if cfg.InfluxDB.Enabled {
		startInflux(ctx, app, cfg, sinks, executor, recovery)
	}
	if cfg.API.Enabled {
		if err = startAPI(ctx, app, cfg, orch, ch, repo, sinks); err != nil {
			return app, err
		}
	}

	log.Info("components wired", "result_sinks", sinks.Len())
	return app, nil
}

// resolveSerial names the device for topics and records. A configured
// serial wins; otherwise the only attached device is used.
func resolveSerial(ctx context.Context, cfg *config.Config, ch *device.Channel, log *logging.Logger) string {
	if cfg.Device.Serial != "" {
		return cfg.Device.Serial
	}
	serials, err := ch.ListDevices(ctx)
	if err != nil || len(serials) != 1 {
		log.Warn("device serial not configured and not unique, using \"default\"", "devices", serials, "error", err)
		return "default"
	}
	return serials[0]
}

// startMQTT connects the broker bridge. Failure is not fatal: the bot
// keeps playing without remote telemetry.
func startMQTT(ctx context.Context, app *application, cfg *config.Config, orch *automation.Orchestrator, sinks *results.Multi) {
	log := app.log
	client, err := mqtt.Connect(cfg.MQTT, app.serial)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it", "error", err)
		return
	}
	client.SetLogger(log)
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	app.onClose("MQTT", client.Close)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge := telemetry.NewBridge(telemetry.BridgeOptions{
		Client:   client,
		Topics:   client.Topics(),
		Commands: orch,
		QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
	})
	bridge.SetLogger(log)
	if err := bridge.Start(ctx); err != nil {
		log.Warn("MQTT bridge failed to start", "error", err)
		return
	}
	app.onClose("MQTT bridge", func() error { bridge.Stop(); return nil })
	orch.OnStats(bridge.OnStats)
	sinks.Add(bridge)
}

// startInflux connects the metrics writer. Failure is not fatal.
func startInflux(ctx context.Context, app *application, cfg *config.Config, sinks *results.Multi,
	executor *automation.Executor, recovery *automation.Recovery) {
	log := app.log
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without metrics", "error", err)
		return
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	app.onClose("InfluxDB", client.Close)
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	metrics := telemetry.NewMetrics(client, app.serial)
	sinks.Add(metrics)
	executor.OnMerge(metrics.OnMerge)
	recovery.OnRestart(metrics.OnRestart)
}

// startAPI starts the HTTP control API and WebSocket feed.
func startAPI(ctx context.Context, app *application, cfg *config.Config, orch *automation.Orchestrator,
	ch *device.Channel, repo *history.SQLiteRepository, sinks *results.Multi) error {
	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   app.log,
		Loop:     orch,
		Device:   ch,
		History:  repo,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	app.onClose("API server", srv.Close)
	orch.OnStats(srv.PublishStats)
	sinks.Add(srv)
	return nil
}
