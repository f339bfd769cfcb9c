package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/gazaledger/internal/app"
	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("gazaledger failed")
		stop()
		os.Exit(1)
	}
}

type options struct {
	configFile string
	envFiles   []string

	ledgerPath     string
	backend        string
	locators       []string
	textMethods    []string
	ocrEngine      string
	metricsFile    string
	cacheDir       string
	rejectDecrease bool
	verbose        bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var (
		opts options
		cfg  app.Config
	)
	root := &cobra.Command{
		Use:           "gazaledger",
		Short:         "Append the latest reported Gaza fatality count to a date-keyed ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := app.LoadConfig(app.LoadOptions{File: opts.configFile, EnvFiles: opts.envFiles})
			if err != nil {
				return err
			}
			applyFlags(cmd, opts, &loaded)
			if loaded.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cfg, stdout)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Path to a YAML or JSON config file")
	pf.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "Dotenv files to read (later files win; the real environment wins over all)")
	pf.StringVar(&opts.ledgerPath, "ledger", "", "Ledger file path (default data/fatalities.csv)")
	pf.StringVar(&opts.backend, "backend", "", "Ledger backend: csv or sqlite")
	pf.StringSliceVar(&opts.locators, "locators", nil, "Locator strategies in order: listing-guess, index-api")
	pf.StringSliceVar(&opts.textMethods, "text", nil, "Text methods: text-layer, optical-recognition")
	pf.StringVar(&opts.ocrEngine, "ocr.engine", "", "OCR engine: tesseract or vision")
	pf.StringVar(&opts.metricsFile, "metrics.file", "", "Write Prometheus text-format run metrics to this file")
	pf.StringVar(&opts.cacheDir, "cache.dir", "", "HTTP cache directory for listing and landing pages")
	pf.BoolVar(&opts.rejectDecrease, "reject-decrease", false, "Fail the commit when the count is lower than the previous entry's")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Locate the latest snapshot, extract its count and commit it",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPipeline(cmd.Context(), cfg, stdout)
			},
		},
		&cobra.Command{
			Use:   "locate",
			Short: "Locate and resolve the latest snapshot without touching the ledger",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := app.New(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer a.Close()
				res, err := a.Locate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s %s %s\n", snapshot.FormatDate(res.Snapshot.Date), res.Snapshot.Source, res.Document.URL)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the ledger",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := app.New(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer a.Close()
				l, err := a.Ledger(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range l.Entries {
					fmt.Fprintf(stdout, "%s\t%s\n", snapshot.FormatDate(e.Date), humanize.Comma(e.FatalityCount))
				}
				return nil
			},
		},
	)
	return root
}

// applyFlags overrides cfg with the flags the user actually set.
func applyFlags(cmd *cobra.Command, opts options, cfg *app.Config) {
	changed := cmd.Flags().Changed
	if changed("ledger") {
		cfg.Ledger.Path = opts.ledgerPath
	}
	if changed("backend") {
		cfg.Ledger.Backend = opts.backend
	}
	if changed("locators") {
		cfg.Locators = opts.locators
	}
	if changed("text") {
		cfg.TextMethods = opts.textMethods
	}
	if changed("ocr.engine") {
		cfg.OCR.Engine = opts.ocrEngine
	}
	if changed("metrics.file") {
		cfg.MetricsFile = opts.metricsFile
	}
	if changed("cache.dir") {
		cfg.Cache.Dir = opts.cacheDir
	}
	if changed("reject-decrease") {
		cfg.Ledger.RejectDecrease = opts.rejectDecrease
	}
	if changed("verbose") {
		cfg.Verbose = opts.verbose
	}
}

func runPipeline(ctx context.Context, cfg app.Config, stdout io.Writer) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()
	res, err := a.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, res.Summary())
	return nil
}
