package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/GoalBot/internal/api"
	"github.com/BTreeMap/GoalBot/internal/bot"
	"github.com/BTreeMap/GoalBot/internal/lockfile"
	"github.com/BTreeMap/GoalBot/internal/store"
	"github.com/BTreeMap/GoalBot/internal/telegram"
	"github.com/BTreeMap/GoalBot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GoalBot state data
	DefaultStateDir = "/var/lib/goalbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "goalbot.db"
	// lockOwner is written into the lock file
	lockOwner = "goalbot"
)

func main() {
	initializeLogger(util.ParseBoolEnv("GOALBOT_DEBUG", false))

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	if *flags.debug {
		initializeLogger(true)
	}

	if err := validateFlags(flags); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(*flags.stateDir, lockOwner)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release lock", "error", err, "path", lock.Path())
		}
	}()

	tgOpts := buildTelegramOptions(flags)
	storeOpts := buildStoreOptions(flags)
	botOpts := buildBotOptions(flags)
	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping GoalBot with configured modules")
	slog.Debug("Module options counts", "telegram", len(tgOpts), "store", len(storeOpts), "bot", len(botOpts), "api", len(apiOpts))
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"site_url", *flags.siteURL,
		"persist_offset", *flags.persistOffset)
	if err := api.Run(ctx, tgOpts, storeOpts, botOpts, apiOpts); err != nil {
		slog.Error("GoalBot failed to run", "error", err)
		stop()
		lock.Release()
		os.Exit(1)
	}
	slog.Info("GoalBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken      string
	APIEndpoint   string
	PollTimeout   int
	SendRate      int
	DatabaseURL   string
	StateDir      string
	APIAddr       string
	JWTSecret     string
	SiteURL       string
	PersistOffset bool
	Debug         bool
}

// Flags holds command line flag values
type Flags struct {
	botToken      *string
	apiEndpoint   *string
	pollTimeout   *int
	sendRate      *int
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	jwtSecret     *string
	siteURL       *string
	persistOffset *bool
	debug         *bool
}

// initializeLogger installs a text logger at debug or info level
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
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
		BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		APIEndpoint:   os.Getenv("TELEGRAM_API_ENDPOINT"),
		PollTimeout:   util.ParseIntEnv("TELEGRAM_POLL_TIMEOUT", telegram.DefaultPollTimeout),
		SendRate:      util.ParseIntEnv("TELEGRAM_SEND_RATE", telegram.DefaultSendRate),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("GOALBOT_STATE_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SiteURL:       os.Getenv("SITE_URL"),
		PersistOffset: util.ParseBoolEnv("GOALBOT_PERSIST_OFFSET", true),
		Debug:         util.ParseBoolEnv("GOALBOT_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No GOALBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TELEGRAM_BOT_TOKEN_SET", config.BotToken != "",
		"TELEGRAM_API_ENDPOINT", config.APIEndpoint,
		"TELEGRAM_POLL_TIMEOUT", config.PollTimeout,
		"TELEGRAM_SEND_RATE", config.SendRate,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"GOALBOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"JWT_SECRET_SET", config.JWTSecret != "",
		"SITE_URL", config.SiteURL,
		"GOALBOT_PERSIST_OFFSET", config.PersistOffset)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		botToken:      fs.String("bot-token", config.BotToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		apiEndpoint:   fs.String("api-endpoint", config.APIEndpoint, "Bot API endpoint format, e.g. https://host/bot%s/%s (overrides $TELEGRAM_API_ENDPOINT)"),
		pollTimeout:   fs.Int("poll-timeout", config.PollTimeout, "long-poll timeout in seconds (overrides $TELEGRAM_POLL_TIMEOUT)"),
		sendRate:      fs.Int("send-rate", config.SendRate, "outbound messages per second (overrides $TELEGRAM_SEND_RATE)"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for GoalBot data (overrides $GOALBOT_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.DatabaseURL, "Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		jwtSecret:     fs.String("jwt-secret", config.JWTSecret, "HS256 secret for API tokens (overrides $JWT_SECRET)"),
		siteURL:       fs.String("site-url", config.SiteURL, "base URL for goal links (overrides $SITE_URL)"),
		persistOffset: fs.Bool("persist-offset", config.PersistOffset, "store the poll offset in the database (overrides $GOALBOT_PERSIST_OFFSET)"),
		debug:         fs.Bool("debug", config.Debug, "enable debug logging (overrides $GOALBOT_DEBUG)"),
	}

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	slog.Debug("flags parsed",
		"botTokenSet", *flags.botToken != "",
		"apiEndpoint", *flags.apiEndpoint,
		"pollTimeout", *flags.pollTimeout,
		"sendRate", *flags.sendRate,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"jwtSecretSet", *flags.jwtSecret != "",
		"siteURL", *flags.siteURL,
		"persistOffset", *flags.persistOffset)

	// Follow a new state directory when the DSN is still the default SQLite path
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// validateFlags rejects configurations the service cannot start with
func validateFlags(flags Flags) error {
	var errs []error
	if *flags.botToken == "" {
		errs = append(errs, errors.New("telegram bot token is required (set TELEGRAM_BOT_TOKEN or -bot-token)"))
	}
	if *flags.pollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll timeout must be positive, got %d", *flags.pollTimeout))
	}
	if *flags.sendRate <= 0 {
		errs = append(errs, fmt.Errorf("send rate must be positive, got %d", *flags.sendRate))
	}
	if *flags.jwtSecret == "" {
		slog.Warn("No JWT secret configured; account verification endpoint is disabled")
	}
	return errors.Join(errs...)
}

// ensureDirectoriesExist creates the state directory and, for SQLite, the database directory
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory", "dir", dir)
		if err := os.MkdirAll(dir, store.DefaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// buildTelegramOptions constructs Telegram client options
func buildTelegramOptions(flags Flags) []telegram.Option {
	tgOpts := []telegram.Option{
		telegram.WithToken(*flags.botToken),
		telegram.WithPollTimeout(*flags.pollTimeout),
		telegram.WithSendRate(*flags.sendRate),
		telegram.WithDebug(*flags.debug),
	}
	if *flags.apiEndpoint != "" {
		tgOpts = append(tgOpts, telegram.WithAPIEndpoint(*flags.apiEndpoint))
	}
	return tgOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildBotOptions constructs poll loop options
func buildBotOptions(flags Flags) []bot.Option {
	return []bot.Option{bot.WithBotName(bot.DefaultBotName)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{api.WithPersistOffset(*flags.persistOffset)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.jwtSecret != "" {
		apiOpts = append(apiOpts, api.WithJWTSecret(*flags.jwtSecret))
	}
	if *flags.siteURL != "" {
		apiOpts = append(apiOpts, api.WithSiteURL(*flags.siteURL))
	}
	return apiOpts
}
