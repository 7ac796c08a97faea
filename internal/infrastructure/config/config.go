package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MergeBot.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Emulator   EmulatorConfig   `yaml:"emulator"`
	Vision     VisionConfig     `yaml:"vision"`
	Board      BoardConfig      `yaml:"board"`
	Merge      MergeConfig      `yaml:"merge"`
	Automation AutomationConfig `yaml:"automation"`
	Templates  TemplatesConfig  `yaml:"templates"`
	Layout     LayoutConfig     `yaml:"layout"`
	OCR        OCRConfig        `yaml:"ocr"`
	Results    ResultsConfig    `yaml:"results"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// DeviceConfig describes how to reach the Android device through adb.
type DeviceConfig struct {
	// ADBBinary is the adb executable. Default: "adb"
	ADBBinary string `yaml:"adb_binary"`

	// Serial selects the device (adb -s). Empty means the only attached device.
	Serial string `yaml:"serial"`

	// Package is the game's Android package name.
	Package string `yaml:"package"`

	// Activity is the launch activity, e.g. ".MainActivity".
	// If empty, the app is launched through the monkey launcher intent.
	Activity string `yaml:"activity"`

	// CommandTimeout bounds one command on the persistent shell session.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// OneShotTimeout bounds independent adb invocations (discovery, lifecycle).
	OneShotTimeout time.Duration `yaml:"one_shot_timeout"`

	// CaptureTimeout bounds one screencap round trip.
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// EmulatorConfig contains settings for the emulator used as last-resort recovery.
type EmulatorConfig struct {
	// Managed indicates whether MergeBot starts and owns the emulator process.
	// If false, an emulator restart is performed with "adb reboot".
	Managed bool `yaml:"managed"`

	// Binary is the emulator executable (e.g. "emulator").
	Binary string `yaml:"binary"`

	// Args are passed to the emulator binary.
	Args []string `yaml:"args"`

	// BootTimeout is how long to wait for sys.boot_completed.
	BootTimeout time.Duration `yaml:"boot_timeout"`

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// VisionConfig contains template-matching settings.
type VisionConfig struct {
	// Matcher selects the correlation backend: "ncc" (pure Go) or "gocv".
	Matcher string `yaml:"matcher"`

	// MatchThreshold is the minimum normalised correlation for a match.
	MatchThreshold float64 `yaml:"match_threshold"`

	// MaxRetries bounds screen detection attempts before reporting unknown.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the wait between detection attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Scale downsamples frames and templates before correlation (0 < scale <= 1).
	Scale float64 `yaml:"scale"`

	// DarkOverlayLuma is the mean luma below which a frame is logged as dimmed by a popup.
	DarkOverlayLuma float64 `yaml:"dark_overlay_luma"`
}

// BoardConfig describes the battle grid.
type BoardConfig struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// ReferenceGroup and ReferenceCell name the layout region of cell 0.
	ReferenceGroup string `yaml:"reference_group"`
	ReferenceCell  string `yaml:"reference_cell"`

	// StepX and StepY are the pixel offsets between neighbouring cells.
	StepX int `yaml:"step_x"`
	StepY int `yaml:"step_y"`

	// SettleDelay is the wait after tapping a cell before capturing its info panel.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// EmptyRange is the grayscale range below which a cell patch is empty.
	EmptyRange int `yaml:"empty_range"`

	// PatchSize is the side of the central square sampled for emptiness.
	PatchSize int `yaml:"patch_size"`
}

// MergeConfig contains merge engine settings.
type MergeConfig struct {
	MaxLevel     int           `yaml:"max_level"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	DragDuration time.Duration `yaml:"drag_duration"`
	VerifyDelay  time.Duration `yaml:"verify_delay"`
}

// AutomationConfig contains orchestrator policy settings.
type AutomationConfig struct {
	// Mode is the battle mode started from the main screen: "pvp" or "coop".
	Mode string `yaml:"mode"`

	// LoseQuota is the number of real losses to accumulate by surrendering.
	LoseQuota int `yaml:"lose_quota"`

	// SurrenderAfterWins and SurrenderCount implement
	// "after N wins, surrender the next M battles". 0 disables.
	SurrenderAfterWins int `yaml:"surrender_after_wins"`
	SurrenderCount     int `yaml:"surrender_count"`

	// PollInterval is the pause between loop iterations.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LoadingDelay is the wait applied on the loading screen.
	LoadingDelay time.Duration `yaml:"loading_delay"`

	// StuckTimeout forces an app restart when one screen persists this long.
	StuckTimeout time.Duration `yaml:"stuck_timeout"`

	// UnknownTimeout triggers a diagnostic capture and app restart.
	UnknownTimeout time.Duration `yaml:"unknown_timeout"`

	// LaunchTimeout bounds waiting for a known screen after an app (re)launch.
	LaunchTimeout time.Duration `yaml:"launch_timeout"`

	// MaxConsecutiveRestarts bounds back-to-back app restarts before cooldown.
	MaxConsecutiveRestarts int `yaml:"max_consecutive_restarts"`

	// RestartCooldown is the wait applied once the restart budget is spent.
	RestartCooldown time.Duration `yaml:"restart_cooldown"`

	// DoubleMergeRound is the round on which two scan+merge passes run. 0 disables.
	DoubleMergeRound int `yaml:"double_merge_round"`

	// RoundActions maps a round number to the battle region tapped at its start.
	RoundActions map[int]string `yaml:"round_actions"`

	// DiagnosticsDir receives screenshots captured before recovery restarts.
	DiagnosticsDir string `yaml:"diagnostics_dir"`
}

// TemplatesConfig locates template image assets.
type TemplatesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LayoutConfig locates the region layout definition.
type LayoutConfig struct {
	Path string `yaml:"path"`
}

// OCRConfig contains text recognition settings.
type OCRConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Language  string `yaml:"language"`
	Whitelist string `yaml:"whitelist"`
}

// ResultsConfig contains the battle result line sink settings.
type ResultsConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings for the control API.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MERGEBOT_SECTION_KEY
// For example: MERGEBOT_DEVICE_SERIAL, MERGEBOT_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
// Useful for tests and for tools that only need device access.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ADBBinary:      "adb",
			CommandTimeout: 10 * time.Second,
			OneShotTimeout: 30 * time.Second,
			CaptureTimeout: 10 * time.Second,
		},
		Emulator: EmulatorConfig{
			Binary:          "emulator",
			BootTimeout:     3 * time.Minute,
			GracefulTimeout: 15 * time.Second,
		},
		Vision: VisionConfig{
			Matcher:         "ncc",
			MatchThreshold:  0.95,
			MaxRetries:      10,
			RetryBackoff:    time.Second,
			Scale:           1.0,
			DarkOverlayLuma: 40,
		},
		Board: BoardConfig{
			Rows:           4,
			Cols:           5,
			ReferenceGroup: "board",
			ReferenceCell:  "cell_0",
			StepX:          110,
			StepY:          110,
			SettleDelay:    100 * time.Millisecond,
			EmptyRange:     20,
			PatchSize:      12,
		},
		Merge: MergeConfig{
			MaxLevel:     4,
			MaxAttempts:  3,
			RetryDelay:   300 * time.Millisecond,
			DragDuration: 300 * time.Millisecond,
			VerifyDelay:  400 * time.Millisecond,
		},
		Automation: AutomationConfig{
			Mode:                   "pvp",
			PollInterval:           500 * time.Millisecond,
			LoadingDelay:           2 * time.Second,
			StuckTimeout:           120 * time.Second,
			UnknownTimeout:         90 * time.Second,
			LaunchTimeout:          90 * time.Second,
			MaxConsecutiveRestarts: 2,
			RestartCooldown:        5 * time.Minute,
			DiagnosticsDir:         "./data/diagnostics",
		},
		Templates: TemplatesConfig{
			Dir:   "./assets/templates",
			Watch: true,
		},
		Layout: LayoutConfig{
			Path: "./configs/layout.yaml",
		},
		OCR: OCRConfig{
			Enabled:   true,
			Language:  "eng",
			Whitelist: "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz -'",
		},
		Results: ResultsConfig{
			Path: "./data/results.jsonl",
		},
		Database: DatabaseConfig{
			Path:        "./data/mergebot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mergebot",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MERGEBOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("MERGEBOT_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}
	if v := os.Getenv("MERGEBOT_ADB_BINARY"); v != "" {
		cfg.Device.ADBBinary = v
	}

	// Assets
	if v := os.Getenv("MERGEBOT_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}

	// Database
	if v := os.Getenv("MERGEBOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MERGEBOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MERGEBOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MERGEBOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MERGEBOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MERGEBOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("MERGEBOT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.ADBBinary == "" {
		errs = append(errs, "device.adb_binary is required")
	}
	if c.Device.Package == "" {
		errs = append(errs, "device.package is required")
	}
	if c.Device.CommandTimeout <= 0 {
		errs = append(errs, "device.command_timeout must be positive")
	}

	// Emulator
	if c.Emulator.Managed && c.Emulator.Binary == "" {
		errs = append(errs, "emulator.binary is required when emulator.managed is true")
	}

	// Vision
	if c.Vision.Matcher != "ncc" && c.Vision.Matcher != "gocv" {
		errs = append(errs, "vision.matcher must be ncc or gocv")
	}
	if c.Vision.MatchThreshold <= 0 || c.Vision.MatchThreshold > 1 {
		errs = append(errs, "vision.match_threshold must be in (0, 1]")
	}
	if c.Vision.MaxRetries < 1 {
		errs = append(errs, "vision.max_retries must be at least 1")
	}
	if c.Vision.Scale <= 0 || c.Vision.Scale > 1 {
		errs = append(errs, "vision.scale must be in (0, 1]")
	}

	// Board
	if c.Board.Rows < 1 || c.Board.Cols < 1 {
		errs = append(errs, "board.rows and board.cols must be positive")
	}
	if c.Board.StepX <= 0 || c.Board.StepY <= 0 {
		errs = append(errs, "board.step_x and board.step_y must be positive")
	}
	if c.Board.PatchSize < 2 {
		errs = append(errs, "board.patch_size must be at least 2")
	}

	// Merge
	if c.Merge.MaxLevel < 2 {
		errs = append(errs, "merge.max_level must be at least 2")
	}
	if c.Merge.MaxAttempts < 1 {
		errs = append(errs, "merge.max_attempts must be at least 1")
	}

	// Automation
	if c.Automation.Mode != "pvp" && c.Automation.Mode != "coop" {
		errs = append(errs, "automation.mode must be pvp or coop")
	}
	if c.Automation.LoseQuota < 0 || c.Automation.SurrenderAfterWins < 0 || c.Automation.SurrenderCount < 0 {
		errs = append(errs, "automation surrender counters must not be negative")
	}
	if c.Automation.StuckTimeout <= 0 || c.Automation.UnknownTimeout <= 0 {
		errs = append(errs, "automation.stuck_timeout and automation.unknown_timeout must be positive")
	}
	if c.Automation.MaxConsecutiveRestarts < 1 {
		errs = append(errs, "automation.max_consecutive_restarts must be at least 1")
	}

	// Storage
	if c.Templates.Dir == "" {
		errs = append(errs, "templates.dir is required")
	}
	if c.Layout.Path == "" {
		errs = append(errs, "layout.path is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Control endpoints drive a real device; an empty or short secret
		// would let anyone on the network forge tokens.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api is enabled (set MERGEBOT_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns the read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
