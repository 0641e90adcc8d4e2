package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/api"
	"github.com/OutbreakHQ/FormPipe/internal/store"
	"github.com/OutbreakHQ/FormPipe/internal/util"
	"github.com/OutbreakHQ/FormPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FormPipe state data
	DefaultStateDir = "/var/lib/formpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "formpipe.db"
	// DefaultScriptsFileName is the default script collection filename
	DefaultScriptsFileName = "scripts.yaml"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping FormPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "transport", *flags.transport, "scripts", *flags.scripts)
	if err := api.Run(waOpts, storeOpts, apiOpts); err != nil {
		slog.Error("FormPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FormPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN string
	DatabaseURL string
	StateDir    string
	Scripts     string
	Transport   string
	APIAddr     string
	Timeout     string
	Debug       bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	scripts   *string
	transport *string
	apiAddr   *string
	timeout   *time.Duration
}

// initializeLogger sets up structured logging. FORMPIPE_DEBUG enables debug
// level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("FORMPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("FORMPIPE_STATE_DIR"),
		Scripts:     os.Getenv("FORMPIPE_SCRIPTS"),
		Transport:   os.Getenv("FORMPIPE_TRANSPORT"),
		APIAddr:     os.Getenv("API_ADDR"),
		Timeout:     os.Getenv("FORMPIPE_CONVERSATION_TIMEOUT"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FORMPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Default to WhatsApp DSN if specific not set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	// Scripts default to the state directory as well
	if config.Scripts == "" {
		config.Scripts = filepath.Join(config.StateDir, DefaultScriptsFileName)
	}

	if config.Transport == "" {
		config.Transport = api.TransportWhatsApp
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FORMPIPE_STATE_DIR", config.StateDir,
		"FORMPIPE_SCRIPTS", config.Scripts,
		"FORMPIPE_TRANSPORT", config.Transport,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	defaultTimeout := 30 * time.Minute
	if config.Timeout != "" {
		if d, err := time.ParseDuration(config.Timeout); err == nil {
			defaultTimeout = d
		} else {
			slog.Warn("Invalid FORMPIPE_CONVERSATION_TIMEOUT, using default", "value", config.Timeout, "error", err)
		}
	}

	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for FormPipe data (overrides $FORMPIPE_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.WhatsAppDSN, "database DSN for the row store and WhatsApp session (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		scripts:   flag.String("scripts", config.Scripts, "path to the YAML script collection (overrides $FORMPIPE_SCRIPTS)"),
		transport: flag.String("transport", config.Transport, "chat transport: whatsapp, twilio, or none (overrides $FORMPIPE_TRANSPORT)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		timeout:   flag.Duration("conversation-timeout", defaultTimeout, "idle conversation timeout (overrides $FORMPIPE_CONVERSATION_TIMEOUT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"scripts", *flags.scripts,
		"transport", *flags.transport,
		"apiAddr", *flags.apiAddr,
		"conversationTimeout", *flags.timeout)

	// Follow a changed state directory for the derived defaults
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.scripts == filepath.Join(config.StateDir, DefaultScriptsFileName) {
			*flags.scripts = filepath.Join(*flags.stateDir, DefaultScriptsFileName)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		slog.Debug("Configuring row store", "dsn_type", store.DetectDSNType(*flags.dbDSN))
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithScriptsPath(*flags.scripts),
		api.WithTransport(*flags.transport),
		api.WithStateDir(*flags.stateDir),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.timeout > 0 {
		apiOpts = append(apiOpts, api.WithConversationTimeout(*flags.timeout))
	}
	return apiOpts
}
