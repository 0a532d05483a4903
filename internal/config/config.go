// Package config loads settings from .env, an optional config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/extract"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreBigQuery = "bigquery"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Timezone   string           `mapstructure:"timezone"`
	Store      StoreConfig      `mapstructure:"store"`
	BigQuery   BigQueryConfig   `mapstructure:"bigquery"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Report     ReportConfig     `mapstructure:"report"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Notion     NotionConfig     `mapstructure:"notion"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type BigQueryConfig struct {
	ProjectID string `mapstructure:"project_id"`
	DatasetID string `mapstructure:"dataset_id"`
}

type GmailConfig struct {
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	RefreshToken      string  `mapstructure:"refresh_token"`
	RedirectURI       string  `mapstructure:"redirect_uri"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Configured reports whether mailbox credentials are present.
func (g GmailConfig) Configured() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

type IngestConfig struct {
	Days     int    `mapstructure:"days"`
	MaxPages int    `mapstructure:"max_pages"`
	Query    string `mapstructure:"query"`
}

type ExtractionConfig struct {
	CreditFloor    string `mapstructure:"credit_floor"`
	DeductionFloor string `mapstructure:"deduction_floor"`
	MinRefLength   int    `mapstructure:"min_ref_length"`
}

// ReportConfig names the lender whose account receives loan repayments.
type ReportConfig struct {
	LenderAccount string `mapstructure:"lender_account"`
}

type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

type GeminiConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

type JobsConfig struct {
	Workers    int `mapstructure:"workers"`
	MaxRetries int `mapstructure:"max_retries"`
}

// legacyEnv maps config keys to the unprefixed variable names older
// deployments export.
var legacyEnv = map[string]string{
	"gmail.client_id":     "GMAIL_CLIENT_ID",
	"gmail.client_secret": "GMAIL_CLIENT_SECRET",
	"gmail.refresh_token": "GMAIL_REFRESH_TOKEN",
	"gmail.redirect_uri":  "GMAIL_REDIRECT_URI",
	"timezone":            "APP_TZ",
	"notion.token":        "NOTION_TOKEN",
	"notion.database_id":  "NOTION_DATABASE_ID",
	"bigquery.project_id": "GCP_PROJECT_ID",
	"server.port":         "PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("timezone", "Asia/Kolkata")
	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.sqlite_path", "ledger.db")
	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset_id", "ledger")
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.refresh_token", "")
	v.SetDefault("gmail.redirect_uri", "http://localhost")
	v.SetDefault("gmail.requests_per_second", 5.0)
	v.SetDefault("gmail.burst", 5)
	v.SetDefault("ingest.days", 120)
	v.SetDefault("ingest.max_pages", 20)
	v.SetDefault("ingest.query", "")
	v.SetDefault("extraction.credit_floor", strconv.Itoa(extract.DefaultCreditFloor))
	v.SetDefault("extraction.deduction_floor", strconv.Itoa(extract.DefaultDeductionFloor))
	v.SetDefault("extraction.min_ref_length", extract.DefaultMinRefLength)
	v.SetDefault("report.lender_account", report.DefaultLenderAccount)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("gemini.enabled", false)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.max_retries", 3)
}

// Load reads .env, then config.yaml (or the file named by LEDGER_CONFIG),
// then the environment. Env overrides use the LEDGER_ prefix, e.g.
// LEDGER_STORE_DRIVER.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "LEDGER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StoreBigQuery:
		if c.BigQuery.ProjectID == "" {
			return fmt.Errorf("config: bigquery store needs bigquery.project_id (GCP_PROJECT_ID)")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("config: jobs.workers must be positive")
	}
	if _, err := c.ExtractOptions(); err != nil {
		return err
	}
	return nil
}

// ExtractOptions converts the extraction thresholds.
func (c Config) ExtractOptions() (extract.Options, error) {
	credit, err := decimal.NewFromString(c.Extraction.CreditFloor)
	if err != nil {
		return extract.Options{}, fmt.Errorf("config: extraction.credit_floor: %w", err)
	}
	deduction, err := decimal.NewFromString(c.Extraction.DeductionFloor)
	if err != nil {
		return extract.Options{}, fmt.Errorf("config: extraction.deduction_floor: %w", err)
	}
	if c.Extraction.MinRefLength < 1 {
		return extract.Options{}, fmt.Errorf("config: extraction.min_ref_length must be positive")
	}
	return extract.Options{
		CreditFloor:    credit,
		DeductionFloor: deduction,
		MinRefLength:   c.Extraction.MinRefLength,
	}, nil
}

// Lender returns the matcher for releases paid to the lender.
func (c Config) Lender() report.Lender {
	return report.NewLender(c.Report.LenderAccount)
}

// Location returns the configured reporting timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
