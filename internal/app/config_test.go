package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ValidateConfig(cfg))
	require.Equal(t, []string{"listing-guess", "index-api"}, cfg.Locators)
	require.Equal(t, []string{"text-layer", "optical-recognition"}, cfg.TextMethods)
	require.Equal(t, filepath.Join("data", "fatalities.csv"), cfg.Ledger.Path)
	require.Equal(t, 30*time.Second, cfg.HTTP.PageTimeout)
	require.Equal(t, 3, cfg.HTTP.MaxAttempts)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gazaledger.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
listingURL: https://file.example/list
locators: [index-api]
ledger:
  path: from-file.csv
  rejectDecrease: true
http:
  pageTimeout: 5s
  maxAttempts: 7
`), 0o644))
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("GAZALEDGER_LEDGER_PATH=from-dotenv.csv\nGAZALEDGER_HTTP_MAX_ATTEMPTS=4\n"), 0o600))

	cfg, err := LoadConfig(LoadOptions{
		File:     file,
		EnvFiles: []string{dotenv},
		Environ: map[string]string{
			"GAZALEDGER_HTTP_MAX_ATTEMPTS": "2",
			"GAZALEDGER_TEXT_METHODS":      "text-layer",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "https://file.example/list", cfg.ListingURL, "file overrides default")
	require.Equal(t, []string{"index-api"}, cfg.Locators)
	require.Equal(t, "from-dotenv.csv", cfg.Ledger.Path, "dotenv overrides file")
	require.Equal(t, 2, cfg.HTTP.MaxAttempts, "environment overrides dotenv")
	require.Equal(t, []string{"text-layer"}, cfg.TextMethods)
	require.True(t, cfg.Ledger.RejectDecrease)
	require.Equal(t, 5*time.Second, cfg.HTTP.PageTimeout)
	require.Equal(t, 60*time.Second, cfg.HTTP.DownloadTimeout, "untouched keys keep defaults")
}

func TestLoadConfig_LaterEnvFileWins(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, ".env.a")
	b := filepath.Join(dir, ".env.b")
	require.NoError(t, os.WriteFile(a, []byte("GAZALEDGER_OCR_ENGINE=vision\nGAZALEDGER_OCR_MODEL=first\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("GAZALEDGER_OCR_MODEL=second\n"), 0o600))
	cfg, err := LoadConfig(LoadOptions{EnvFiles: []string{a, filepath.Join(dir, "missing.env"), b}, Environ: map[string]string{}})
	require.NoError(t, err)
	require.Equal(t, "vision", cfg.OCR.Engine)
	require.Equal(t, "second", cfg.OCR.Model)
}

func TestLoadConfigFile_JSONDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte("{\n\t\"http\": {\"downloadTimeout\": \"2m\"},\n\t\"ocr\": {\"dpi\": 150}\n}\n"), 0o644))
	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(path, &cfg))
	require.Equal(t, 2*time.Minute, cfg.HTTP.DownloadTimeout)
	require.Equal(t, 150, cfg.OCR.DPI)
	require.Equal(t, "tesseract", cfg.OCR.Engine)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	require.Error(t, LoadConfigFile(bad, &cfg))
}

func TestValidateConfig_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no locators":       func(c *Config) { c.Locators = nil },
		"unknown locator":   func(c *Config) { c.Locators = []string{"rss"} },
		"bad listing url":   func(c *Config) { c.ListingURL = "ftp://x" },
		"unknown text":      func(c *Config) { c.TextMethods = []string{"magic"} },
		"vision no model":   func(c *Config) { c.OCR.Engine = "vision" },
		"unknown backend":   func(c *Config) { c.Ledger.Backend = "parquet" },
		"empty ledger path": func(c *Config) { c.Ledger.Path = " " },
		"zero timeout":      func(c *Config) { c.HTTP.PageTimeout = 0 },
		"zero attempts":     func(c *Config) { c.HTTP.MaxAttempts = 0 },
		"bad span":          func(c *Config) { c.PrefixSpan = 0 },
		"guess without base": func(c *Config) {
			c.FileBaseURL = ""
		},
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		require.Error(t, ValidateConfig(cfg), name)
	}
}

func TestValidateConfig_OCRSettingsIgnoredWithoutOCR(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TextMethods = []string{"text-layer"}
	cfg.OCR.Engine = "vision"
	require.NoError(t, ValidateConfig(cfg))
}
