package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wyyt/AGPicCompress/internal/config"
	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/logger"
	"github.com/wyyt/AGPicCompress/internal/pipeline"
	"github.com/wyyt/AGPicCompress/internal/stats"
	"github.com/wyyt/AGPicCompress/internal/web"
)

var (
	cfgFile    string
	outputPath string
	quality    int
	qualitySet bool
	force      bool
	formatHint string
	verbose    bool
	quiet      bool
	port       int

	// Set at build time via -ldflags.
	version   = "dev"
	buildTime = "unknown"
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "agpiccompress <input>",
	Short: "Compress JPEG and PNG images with external codec backends",
	Long: `AGPicCompress compresses JPEG and PNG images by delegating the actual
encoding to dedicated codec backends: mozjpeg's jpegtran for lossless
JPEG re-optimization and pngquant (or a built-in quantizer) for PNG
palette reduction.

Features:
- Per-format backend routing with startup availability probing
- 0-100 quality level mapped to backend-specific parameters
- Quality 100 is lossless: no re-quantization, no palette reduction
- Atomic output writes (temp file + rename)
- Directory batch mode with a concurrent worker pool
- Optional EXIF preservation and compressed-file marking`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		qualitySet = cmd.Flags().Changed("quality")
		return runCompress(args[0])
	},
}

// serveCmd starts the web demo server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web demo server",
	Long: `Starts an HTTP server exposing the compression pipeline:
- POST /api/compress accepts an uploaded image plus quality parameter
- POST /api/batch compresses a directory with websocket progress events
- GET /api/status reports backend availability and statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// probeCmd prints backend availability.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe codec backend executables and print their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe()
	},
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file or directory (default: unique name next to input)")
	rootCmd.Flags().IntVarP(&quality, "quality", "q", 0, "quality level 0-100 (default from config, 80)")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite the input (or same-named output) instead of generating a unique name")
	rootCmd.Flags().StringVar(&formatHint, "format", "", "explicit format hint (jpeg, png)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the web server on (default from config, 8080)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
}

// runCompress compresses a single file or a directory tree.
func runCompress(input string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	quality = effectiveQuality(qualitySet, quality, cfg.DefaultQuality)

	p := pipeline.New(cfg, log)

	info, err := os.Stat(input)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "stat %s", input)
	}

	// Explicit file destination: run the request directly.
	if !info.IsDir() && outputPath != "" && !isDir(outputPath) {
		res, err := p.Run(context.Background(), pipeline.Request{
			SourcePath:      input,
			DestinationPath: outputPath,
			Quality:         quality,
			FormatHint:      formatHint,
		})
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}

	st := stats.NewStatistics()
	outcomes, err := p.RunBatch(context.Background(), pipeline.BatchRequest{
		InputPath: input,
		TargetDir: outputPath,
		Quality:   quality,
		Force:     force,
	}, st, func(out pipeline.FileOutcome) {
		if out.Err == nil {
			printResult(out.Result)
		}
	})
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Println("\n" + st.GetSummary())
	}

	// Propagate the first per-file failure so the exit code reflects it.
	for _, out := range outcomes {
		if out.Err != nil {
			return out.Err
		}
	}
	return nil
}

func printResult(res pipeline.Result) {
	if quiet {
		return
	}
	note := ""
	if res.NoImprovement {
		note = "  (no improvement)"
	}
	fmt.Printf("%s -> %s  %s -> %s  (-%.1f%%)%s\n",
		res.SourcePath, res.DestinationPath,
		humanize.Bytes(uint64(res.OriginalSize)), humanize.Bytes(uint64(res.CompressedSize)),
		res.Ratio()*100, note)
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	if port == 0 {
		port = cfg.Server.Port
	}

	p := pipeline.New(cfg, log)
	server := web.NewServer(cfg, log, p)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	if !quiet {
		fmt.Printf("AGPicCompress demo server listening on http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
	}

	<-sigChan
	fmt.Fprintln(os.Stderr, "Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runProbe prints the availability of every backend executable.
func runProbe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	p := pipeline.New(cfg, log)
	for _, st := range p.Availability().Current().Statuses() {
		if st.Available {
			fmt.Printf("%-10s available  %s\n", st.Name, st.Path)
		} else {
			fmt.Printf("%-10s missing    %s\n", st.Name, st.Detail)
		}
	}
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// effectiveQuality picks the quality level for a run. The configured
// default applies only when the flag was not given at all; an explicit
// value is passed through unchanged, so out-of-range input (including
// negatives) reaches the policy and fails with InvalidQuality.
func effectiveQuality(set bool, flag, configDefault int) int {
	if !set {
		return configDefault
	}
	return flag
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errs.KindOf(err).ExitCode())
	}
}
