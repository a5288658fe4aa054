package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/AgriAI/internal/api"
	"github.com/BTreeMap/AgriAI/internal/dispatch"
	"github.com/BTreeMap/AgriAI/internal/genai"
	"github.com/BTreeMap/AgriAI/internal/lockfile"
	"github.com/BTreeMap/AgriAI/internal/messaging"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/BTreeMap/AgriAI/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AgriAI state data
	DefaultStateDir = "/var/lib/agriai"
	// DefaultSessionFileName is the default whatsmeow session database filename
	DefaultSessionFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if usesStateDir(flags) {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	cfg := api.RunConfig{
		Store:            buildStoreOptions(flags),
		GenAI:            buildGenAIOptions(flags),
		Messaging:        buildMessagingConfig(config, flags),
		WeatherEnabled:   *flags.weather,
		DiagnosisTimeout: *flags.diagnosisTimeout,
		API:              buildAPIOptions(flags),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping AgriAI with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"transport", cfg.Messaging.Transport,
		"weather_enabled", cfg.WeatherEnabled,
		"diagnosis_timeout", cfg.DiagnosisTimeout)
	if err := api.Run(ctx, cfg); err != nil {
		slog.Error("AgriAI failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AgriAI exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	APIAddr        string
	VerifyToken    string
	AIKey          string
	AIBaseURL      string
	AIModel        string
	Transport      string
	CloudToken     string
	CloudPhoneID   string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	WhatsmeowDSN   string
	WeatherEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	verifyToken      *string
	aiKey            *string
	aiBaseURL        *string
	aiModel          *string
	transport        *string
	whatsmeowDSN     *string
	qrOutput         *string
	weather          *bool
	diagnosisTimeout *time.Duration
}

// initializeLogger sets up structured logging; LOG_LEVEL=debug enables debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("AGRIAI_STATE_DIR"),
		APIAddr:        os.Getenv("API_ADDR"),
		VerifyToken:    os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		AIKey:          util.FirstEnv("GROQ_API_KEY", "OPENAI_API_KEY"),
		AIBaseURL:      os.Getenv("AI_BASE_URL"),
		AIModel:        os.Getenv("AI_MODEL"),
		Transport:      strings.ToLower(strings.TrimSpace(os.Getenv("MESSAGING_TRANSPORT"))),
		CloudToken:     os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		CloudPhoneID:   os.Getenv("WHATSAPP_PHONE_ID"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsmeowDSN:   os.Getenv("WHATSMEOW_DB_DSN"),
		WeatherEnabled: util.ParseBoolEnv("WEATHER_ENABLED", true),
	}

	// PORT is what most hosting platforms inject
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		}
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No AGRIAI_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.WhatsmeowDSN == "" {
		config.WhatsmeowDSN = config.DatabaseURL
	}
	if config.WhatsmeowDSN == "" {
		config.WhatsmeowDSN = filepath.Join(config.StateDir, DefaultSessionFileName)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"AGRIAI_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"WEBHOOK_VERIFY_TOKEN_SET", config.VerifyToken != "",
		"AI_API_KEY_SET", config.AIKey != "",
		"AI_BASE_URL", config.AIBaseURL,
		"AI_MODEL", config.AIModel,
		"MESSAGING_TRANSPORT", config.Transport,
		"WHATSAPP_ACCESS_TOKEN_SET", config.CloudToken != "",
		"WHATSAPP_PHONE_ID_SET", config.CloudPhoneID != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"TWILIO_FROM_NUMBER", config.TwilioFrom,
		"WHATSMEOW_DB_DSN_SET", config.WhatsmeowDSN != "",
		"WEATHER_ENABLED", config.WeatherEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
// Secrets other than the AI key are read from the environment only.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for AgriAI data (overrides $AGRIAI_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "SQLite path or PostgreSQL DSN; empty keeps records in memory (overrides $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR or $PORT)"),
		verifyToken:      flag.String("verify-token", config.VerifyToken, "WhatsApp webhook verify token (overrides $WEBHOOK_VERIFY_TOKEN)"),
		aiKey:            flag.String("ai-api-key", config.AIKey, "Groq or OpenAI API key (overrides $GROQ_API_KEY or $OPENAI_API_KEY)"),
		aiBaseURL:        flag.String("ai-base-url", config.AIBaseURL, "OpenAI-compatible API base URL (overrides $AI_BASE_URL)"),
		aiModel:          flag.String("ai-model", config.AIModel, "chat model used for diagnosis (overrides $AI_MODEL)"),
		transport:        flag.String("transport", config.Transport, "messaging transport: cloud, twilio, whatsmeow or dry-run (overrides $MESSAGING_TRANSPORT)"),
		whatsmeowDSN:     flag.String("whatsmeow-dsn", config.WhatsmeowDSN, "whatsmeow session database (overrides $WHATSMEOW_DB_DSN)"),
		qrOutput:         flag.String("qr-output", "", "path to write the whatsmeow login QR code"),
		weather:          flag.Bool("weather", config.WeatherEnabled, "look up weather for diagnoses (overrides $WEATHER_ENABLED)"),
		diagnosisTimeout: flag.Duration("diagnosis-timeout", util.ParseDurationEnv("DIAGNOSIS_TIMEOUT", dispatch.DefaultTimeout), "deadline for one diagnosis (overrides $DIAGNOSIS_TIMEOUT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"verifyToken_set", *flags.verifyToken != "",
		"aiKey_set", *flags.aiKey != "",
		"transport", *flags.transport,
		"whatsmeowDSN_set", *flags.whatsmeowDSN != "",
		"weather", *flags.weather,
		"diagnosisTimeout", *flags.diagnosisTimeout)

	// Follow an overridden state directory when the session DSN was derived from it
	if *flags.whatsmeowDSN == filepath.Join(config.StateDir, DefaultSessionFileName) && *flags.stateDir != config.StateDir {
		*flags.whatsmeowDSN = filepath.Join(*flags.stateDir, DefaultSessionFileName)
		slog.Debug("Updated whatsmeow DSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates parent directories for file-based databases
func ensureDirectoriesExist(flags Flags) error {
	dsns := []string{*flags.dbDSN}
	if *flags.transport == messaging.TransportWhatsmeow {
		dsns = append(dsns, *flags.whatsmeowDSN)
	}
	for _, dsn := range dsns {
		if dsn == "" || store.DetectDSNType(dsn) == store.KindPostgres {
			continue
		}
		dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
		slog.Debug("Creating state directory for file-based database", "state_dir", dir)
		if err := os.MkdirAll(dir, store.DefaultDirPermissions); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// usesStateDir reports whether file-backed state is written, which must not be shared
// between two running instances.
func usesStateDir(flags Flags) bool {
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == store.KindSQLite {
		return true
	}
	return *flags.transport == messaging.TransportWhatsmeow && store.DetectDSNType(*flags.whatsmeowDSN) == store.KindSQLite
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(*flags.dbDSN) == store.KindPostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(*flags.dbDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return []store.Option{store.WithSQLiteDSN(*flags.dbDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.aiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.aiKey))
	}
	if *flags.aiBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.aiBaseURL))
	}
	if *flags.aiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.aiModel))
	}
	return genaiOpts
}

// buildMessagingConfig constructs the outbound transport configuration
func buildMessagingConfig(config Config, flags Flags) api.MessagingConfig {
	cfg := api.MessagingConfig{Transport: *flags.transport}
	cfg.Cloud = []messaging.CloudOption{
		messaging.WithAccessToken(config.CloudToken),
		messaging.WithPhoneID(config.CloudPhoneID),
	}
	cfg.Twilio = []messaging.TwilioOption{
		messaging.WithAccountSID(config.TwilioSID),
		messaging.WithAuthToken(config.TwilioToken),
		messaging.WithFromNumber(config.TwilioFrom),
	}
	if *flags.whatsmeowDSN != "" {
		cfg.Whatsmeow = append(cfg.Whatsmeow, messaging.WithSessionDSN(*flags.whatsmeowDSN))
	}
	if *flags.qrOutput != "" {
		cfg.Whatsmeow = append(cfg.Whatsmeow, messaging.WithQRCodeOutput(*flags.qrOutput))
	}
	return cfg
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	return apiOpts
}
