package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/gazaledger/internal/extract"
	"github.com/hyperifyio/gazaledger/internal/locate"
	"github.com/hyperifyio/gazaledger/internal/ocr"
	"github.com/hyperifyio/gazaledger/internal/textract"
)

// EnvPrefix namespaces every environment variable read into Config.
const EnvPrefix = "GAZALEDGER_"

// Ledger backends.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Config holds runtime configuration for the application. Every URL and path
// the pipeline touches lives here.
type Config struct {
	// Locating
	ListingURL  string   `yaml:"listingURL" json:"listingURL" env:"LISTING_URL"`
	TitlePrefix string   `yaml:"titlePrefix" json:"titlePrefix" env:"TITLE_PREFIX"`
	Locators    []string `yaml:"locators" json:"locators" env:"LOCATORS" envSeparator:","`
	IndexAPI    struct {
		URL     string `yaml:"url" json:"url" env:"URL"`
		AppName string `yaml:"appName" json:"appName" env:"APP_NAME"`
		Query   string `yaml:"query" json:"query" env:"QUERY"`
	} `yaml:"indexAPI" json:"indexAPI" envPrefix:"INDEX_API_"`

	// Resolving
	SiteBaseURL    string `yaml:"siteBaseURL" json:"siteBaseURL" env:"SITE_BASE_URL"`
	FileBaseURL    string `yaml:"fileBaseURL" json:"fileBaseURL" env:"FILE_BASE_URL"`
	GuessFilenames bool   `yaml:"guessFilenames" json:"guessFilenames" env:"GUESS_FILENAMES"`

	// Text
	TextMethods []string `yaml:"textMethods" json:"textMethods" env:"TEXT_METHODS" envSeparator:","`
	OCR         struct {
		Engine    string `yaml:"engine" json:"engine" env:"ENGINE"`
		Pdftoppm  string `yaml:"pdftoppm" json:"pdftoppm" env:"PDFTOPPM"`
		DPI       int    `yaml:"dpi" json:"dpi" env:"DPI"`
		Tesseract string `yaml:"tesseract" json:"tesseract" env:"TESSERACT"`
		Language  string `yaml:"language" json:"language" env:"LANGUAGE"`
		// Vision backend
		BaseURL string `yaml:"baseURL" json:"baseURL" env:"BASE_URL"`
		Model   string `yaml:"model" json:"model" env:"MODEL"`
		APIKey  string `yaml:"apiKey" json:"apiKey" env:"API_KEY"`
	} `yaml:"ocr" json:"ocr" envPrefix:"OCR_"`

	// Extraction
	PrefixSpan int `yaml:"prefixSpan" json:"prefixSpan" env:"PREFIX_SPAN"`
	SuffixSpan int `yaml:"suffixSpan" json:"suffixSpan" env:"SUFFIX_SPAN"`

	// Ledger
	Ledger struct {
		Backend        string `yaml:"backend" json:"backend" env:"BACKEND"`
		Path           string `yaml:"path" json:"path" env:"PATH"`
		RejectDecrease bool   `yaml:"rejectDecrease" json:"rejectDecrease" env:"REJECT_DECREASE"`
	} `yaml:"ledger" json:"ledger" envPrefix:"LEDGER_"`

	// HTTP
	HTTP struct {
		UserAgent       string        `yaml:"userAgent" json:"userAgent" env:"USER_AGENT"`
		PageTimeout     time.Duration `yaml:"pageTimeout" json:"pageTimeout" env:"PAGE_TIMEOUT"`
		DownloadTimeout time.Duration `yaml:"downloadTimeout" json:"downloadTimeout" env:"DOWNLOAD_TIMEOUT"`
		MaxAttempts     int           `yaml:"maxAttempts" json:"maxAttempts" env:"MAX_ATTEMPTS"`
		RetryInterval   time.Duration `yaml:"retryInterval" json:"retryInterval" env:"RETRY_INTERVAL"`
	} `yaml:"http" json:"http" envPrefix:"HTTP_"`

	// Cache
	Cache struct {
		Dir    string        `yaml:"dir" json:"dir" env:"DIR"`
		MaxAge time.Duration `yaml:"maxAge" json:"maxAge" env:"MAX_AGE"`
		Clear  bool          `yaml:"clear" json:"clear" env:"CLEAR"`
	} `yaml:"cache" json:"cache" envPrefix:"CACHE_"`

	// MetricsFile receives Prometheus text-format metrics after every run.
	// Empty disables.
	MetricsFile string `yaml:"metricsFile" json:"metricsFile" env:"METRICS_FILE"`

	Verbose bool `yaml:"verbose" json:"verbose" env:"VERBOSE"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	var c Config
	c.ListingURL = "https://www.ochaopt.org/publications/snapshots"
	c.TitlePrefix = locate.DefaultTitlePrefix
	c.Locators = []string{locate.StrategyListing, locate.StrategyIndexAPI}
	c.IndexAPI.URL = "https://api.reliefweb.int/v1/reports"
	c.IndexAPI.AppName = "gazaledger"
	c.IndexAPI.Query = locate.DefaultTitleQuery
	c.SiteBaseURL = "https://www.ochaopt.org"
	c.FileBaseURL = "https://www.ochaopt.org/sites/default/files/"
	c.GuessFilenames = true
	c.TextMethods = []string{textract.MethodTextLayer, textract.MethodOCR}
	c.OCR.Engine = ocr.EngineTesseract
	c.OCR.DPI = 300
	c.OCR.Language = "eng"
	c.PrefixSpan = extract.DefaultPrefixSpan
	c.SuffixSpan = extract.DefaultSuffixSpan
	c.Ledger.Backend = BackendCSV
	c.Ledger.Path = filepath.Join("data", "fatalities.csv")
	c.HTTP.UserAgent = "gazaledger/1.0 (+https://github.com/hyperifyio/gazaledger)"
	c.HTTP.PageTimeout = 30 * time.Second
	c.HTTP.DownloadTimeout = 60 * time.Second
	c.HTTP.MaxAttempts = 3
	c.HTTP.RetryInterval = 500 * time.Millisecond
	return c
}

// LoadOptions selects the sources LoadConfig layers over the defaults.
type LoadOptions struct {
	// File is an optional YAML or JSON config file.
	File string
	// EnvFiles are dotenv files. Later files override earlier ones; the real
	// environment overrides all of them. Missing files are skipped.
	EnvFiles []string
	// Environ replaces the process environment when non-nil.
	Environ map[string]string
}

// LoadConfig builds a Config from defaults, the config file, dotenv files and
// the environment, in that order of increasing precedence. Flags are applied
// by the caller afterwards.
func LoadConfig(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(opts.File) != "" {
		if err := LoadConfigFile(opts.File, &cfg); err != nil {
			return cfg, err
		}
	}
	environ, err := mergeEnvFiles(opts.Environ, opts.EnvFiles...)
	if err != nil {
		return cfg, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile overlays a YAML or JSON file onto cfg. Keys absent from the
// file keep their current values. JSON documents are re-encoded as YAML so
// that durations such as "30s" work in both formats.
func LoadConfigFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if filepath.Ext(path) == ".json" {
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		if b, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func mergeEnvFiles(base map[string]string, paths ...string) (map[string]string, error) {
	if base == nil {
		base = map[string]string{}
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				base[k] = v
			}
		}
	}
	dotenv := map[string]string{}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		vals, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range vals {
			dotenv[k] = v
		}
	}
	out := make(map[string]string, len(base)+len(dotenv))
	for k, v := range dotenv {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out, nil
}

// ValidateConfig reports every invalid setting.
func ValidateConfig(cfg Config) error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf("config: "+format, args...)) }

	if len(cfg.Locators) == 0 {
		bad("at least one locator is required")
	}
	for _, l := range cfg.Locators {
		switch l {
		case locate.StrategyListing:
			if !isHTTPURL(cfg.ListingURL) {
				bad("listingURL %q is not an http(s) URL", cfg.ListingURL)
			}
			if strings.TrimSpace(cfg.TitlePrefix) == "" {
				bad("titlePrefix is required")
			}
		case locate.StrategyIndexAPI:
			if !isHTTPURL(cfg.IndexAPI.URL) {
				bad("indexAPI.url %q is not an http(s) URL", cfg.IndexAPI.URL)
			}
			if strings.TrimSpace(cfg.IndexAPI.Query) == "" {
				bad("indexAPI.query is required")
			}
		default:
			bad("unknown locator %q", l)
		}
	}
	if cfg.SiteBaseURL != "" && !isHTTPURL(cfg.SiteBaseURL) {
		bad("siteBaseURL %q is not an http(s) URL", cfg.SiteBaseURL)
	}
	if cfg.GuessFilenames && !isHTTPURL(cfg.FileBaseURL) {
		bad("fileBaseURL %q is not an http(s) URL", cfg.FileBaseURL)
	}

	if len(cfg.TextMethods) == 0 {
		bad("at least one text method is required")
	}
	for _, m := range cfg.TextMethods {
		switch m {
		case textract.MethodTextLayer:
		case textract.MethodOCR:
			switch cfg.OCR.Engine {
			case ocr.EngineTesseract:
			case ocr.EngineVision:
				if strings.TrimSpace(cfg.OCR.Model) == "" {
					bad("ocr.model is required for the vision engine")
				}
			default:
				bad("unknown ocr engine %q", cfg.OCR.Engine)
			}
			if cfg.OCR.DPI <= 0 {
				bad("ocr.dpi must be positive")
			}
		default:
			bad("unknown text method %q", m)
		}
	}
	if cfg.PrefixSpan <= 0 || cfg.SuffixSpan <= 0 {
		bad("prefixSpan and suffixSpan must be positive")
	}

	switch cfg.Ledger.Backend {
	case BackendCSV, BackendSQLite:
	default:
		bad("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	if strings.TrimSpace(cfg.Ledger.Path) == "" {
		bad("ledger.path is required")
	}

	if cfg.HTTP.PageTimeout <= 0 || cfg.HTTP.DownloadTimeout <= 0 {
		bad("http timeouts must be positive")
	}
	if cfg.HTTP.MaxAttempts <= 0 {
		bad("http.maxAttempts must be positive")
	}
	if cfg.Cache.MaxAge < 0 {
		bad("cache.maxAge must not be negative")
	}
	return errors.Join(errs...)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
