package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/expiry"
	"github.com/vbonduro/shelflife/internal/grocery"
	"github.com/vbonduro/shelflife/internal/metrics"
	"github.com/vbonduro/shelflife/internal/record"
)

// Thresholds are the tunable constants of the recommendation engine. They may
// be overridden from the TOML file named by SHELFLIFE_CONFIG.
type Thresholds struct {
	ExpirySoonDays       int       `toml:"expiry_soon_days"`
	GroceryWindowDays    int       `toml:"grocery_window_days"`
	GroceryThresholdDays float64   `toml:"grocery_threshold_days"`
	WasteBreakpoints     []float64 `toml:"waste_breakpoints"`
	CO2PerKg             float64   `toml:"co2_per_kg"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ExpirySoonDays:       expiry.DefaultSoonDays,
		GroceryWindowDays:    grocery.DefaultWindowDays,
		GroceryThresholdDays: grocery.DefaultThresholdDays,
		WasteBreakpoints:     append([]float64(nil), metrics.DefaultWasteBreakpoints...),
		CO2PerKg:             record.DefaultCO2PerKg,
	}
}

type Config struct {
	ListenAddr string
	DBPath     string

	PrimaryBackend          string
	PrimaryTimeout          time.Duration
	ItemSheet               string
	EventSheet              string
	SheetsSpreadsheetID     string
	SheetsCredentialsFile   string
	SheetsRequestsPerSecond float64
	PostgresDSN             string

	ZeroStockPolicy domain.ZeroStockPolicy

	AssistantBackend string
	ClaudeAPIKey     string
	ClaudeModel      string
	GeminiAPIKey     string
	GeminiModel      string

	LogLevel   string
	LogFile    string
	ConfigFile string

	Thresholds Thresholds
}

// Load reads an optional .env file, the environment, and the optional
// thresholds file, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	cfg := &Config{
		ListenAddr:            getEnv("LISTEN_ADDR", ":8080"),
		DBPath:                getEnv("DB_PATH", "/data/shelflife.db"),
		PrimaryBackend:        getEnv("PRIMARY_BACKEND", "none"),
		ItemSheet:             getEnv("ITEM_SHEET", "DB"),
		EventSheet:            getEnv("EVENT_SHEET", "Ledger"),
		SheetsSpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetsCredentialsFile: getEnv("SHEETS_CREDENTIALS_FILE", ""),
		PostgresDSN:           getEnv("POSTGRES_DSN", ""),
		ZeroStockPolicy:       domain.ZeroStockPolicy(getEnv("ZERO_STOCK_POLICY", string(domain.ZeroStockRetain))),
		AssistantBackend:      getEnv("ASSISTANT_BACKEND", "none"),
		ClaudeAPIKey:          getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:           getEnv("CLAUDE_MODEL", "claude-3-5-haiku-latest"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFile:               getEnv("LOG_FILE", ""),
		ConfigFile:            getEnv("SHELFLIFE_CONFIG", ""),
		Thresholds:            DefaultThresholds(),
	}

	timeout, err := time.ParseDuration(getEnv("PRIMARY_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PRIMARY_TIMEOUT: %w", err))
	}
	cfg.PrimaryTimeout = timeout

	rps, err := strconv.ParseFloat(getEnv("SHEETS_REQUESTS_PER_SECOND", "1"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("SHEETS_REQUESTS_PER_SECOND: %w", err))
	}
	cfg.SheetsRequestsPerSecond = rps

	if cfg.ConfigFile != "" {
		if err := loadThresholds(cfg.ConfigFile, &cfg.Thresholds); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadThresholds(path string, t *Thresholds) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), t); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.PrimaryBackend {
	case "none", "memory":
	case "sheets":
		if c.SheetsSpreadsheetID == "" {
			errs = append(errs, errors.New("SHEETS_SPREADSHEET_ID is required for the sheets backend"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PRIMARY_BACKEND %q", c.PrimaryBackend))
	}
	if c.PrimaryTimeout <= 0 {
		errs = append(errs, errors.New("PRIMARY_TIMEOUT must be positive"))
	}
	if c.SheetsRequestsPerSecond <= 0 {
		errs = append(errs, errors.New("SHEETS_REQUESTS_PER_SECOND must be positive"))
	}

	switch c.ZeroStockPolicy {
	case domain.ZeroStockRetain, domain.ZeroStockRemove:
	default:
		errs = append(errs, fmt.Errorf("unknown ZERO_STOCK_POLICY %q", c.ZeroStockPolicy))
	}

	switch c.AssistantBackend {
	case "none":
	case "claude":
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude assistant"))
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini assistant"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ASSISTANT_BACKEND %q", c.AssistantBackend))
	}

	errs = append(errs, c.Thresholds.validate()...)
	return errors.Join(errs...)
}

func (t Thresholds) validate() []error {
	var errs []error
	if t.ExpirySoonDays <= 0 {
		errs = append(errs, errors.New("expiry_soon_days must be positive"))
	}
	if t.GroceryWindowDays <= 0 {
		errs = append(errs, errors.New("grocery_window_days must be positive"))
	}
	if t.GroceryThresholdDays <= 0 {
		errs = append(errs, errors.New("grocery_threshold_days must be positive"))
	}
	if t.CO2PerKg <= 0 {
		errs = append(errs, errors.New("co2_per_kg must be positive"))
	}
	if len(t.WasteBreakpoints) == 0 {
		errs = append(errs, errors.New("waste_breakpoints must not be empty"))
	}
	for i := 1; i < len(t.WasteBreakpoints); i++ {
		if t.WasteBreakpoints[i] <= t.WasteBreakpoints[i-1] {
			errs = append(errs, errors.New("waste_breakpoints must be strictly increasing"))
			break
		}
	}
	return errs
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}
