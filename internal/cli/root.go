// Package cli contains the imgfetch command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/imgfetch/internal/config"
	"github.com/FranksOps/imgfetch/internal/download"
	"github.com/FranksOps/imgfetch/internal/fetcher"
	"github.com/FranksOps/imgfetch/internal/fingerprint"
	"github.com/FranksOps/imgfetch/internal/metrics"
	"github.com/FranksOps/imgfetch/internal/report"
	"github.com/FranksOps/imgfetch/internal/search/google"
	"github.com/FranksOps/imgfetch/internal/storage"
	"github.com/FranksOps/imgfetch/internal/storage/csvbackend"
	"github.com/FranksOps/imgfetch/internal/storage/jsonbackend"
	"github.com/FranksOps/imgfetch/internal/storage/postgres"
	"github.com/FranksOps/imgfetch/internal/storage/sqlite"
	"github.com/FranksOps/imgfetch/pkg/httpclient"
	"github.com/FranksOps/imgfetch/pkg/proxy"
	"github.com/FranksOps/imgfetch/pkg/ratelimit"
	"github.com/FranksOps/imgfetch/pkg/useragent"
)

const rateJitter = 0.2

var version = "dev"

// SetVersion sets the version string for the CLI
func SetVersion(v string) {
	version = v
}

// Execute builds the root command and runs it against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCmd returns a fresh imgfetch command with its flags registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "imgfetch <query> <num_images> <output_path> <api_key> <cse_id>",
		Short: "Download and resize images from Google image search",
		Long: `imgfetch searches Google Custom Search for png images matching a query,
downloads the first num_images results into output_path and resizes every
file in place to 500x500.

Example usage:
  imgfetch "red panda" 5 ./pandas $GOOGLE_API_KEY $GOOGLE_CSE_ID
  imgfetch cats 20 ./cats KEY CX --manifest sqlite --summary text`,
		Args:          validateArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		RunE: a.run,
	}

	f := cmd.Flags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default is .imgfetch.yaml)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: text or json")
	f.Duration("timeout", 30*time.Second, "HTTP timeout per request")
	f.String("fingerprint", string(fingerprint.ProfileGo), "TLS fingerprint for image downloads: go, chrome, firefox, safari, random")
	f.String("proxy-file", "", "file with one proxy URL per line")
	f.Float64("rps", 0, "maximum image downloads per second (0 = unlimited)")
	f.StringSlice("user-agent", nil, "User-Agent to rotate through (repeatable)")
	f.String("endpoint", google.DefaultEndpoint, "Custom Search API endpoint")
	f.String("manifest", "none", "record each image to: none, sqlite, postgres, json, csv")
	f.String("manifest-dsn", "", "manifest file path or postgres connection string")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 = disabled)")
	f.String("summary", "", "print a run summary: text, json, html")

	return cmd
}

func validateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(5)(cmd, args); err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: num_images must be an integer, got %q", fetcher.ErrInvalidArgument, args[1])
	}
	if n <= 0 {
		return fmt.Errorf("%w: num_images must be positive, got %d", fetcher.ErrInvalidArgument, n)
	}
	return nil
}

// initConfig loads configuration and builds the logger.
func (a *app) initConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Logging)

	a.logger.Debug("configuration loaded",
		"fingerprint", cfg.HTTP.Fingerprint,
		"timeout", cfg.HTTP.Timeout,
		"rps", cfg.HTTP.RPS,
		"manifest", cfg.Manifest.Backend,
	)
	return nil
}

func newLogger(w io.Writer, lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	numImages, _ := strconv.Atoi(args[1])

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Metrics.Port > 0 {
		srv, err := metrics.Start(fmt.Sprintf(":%d", a.cfg.Metrics.Port), a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				a.logger.Warn("stopping metrics server", "err", err)
			}
		}()
	}

	provider, err := a.newProvider()
	if err != nil {
		return err
	}

	manifest, err := openManifest(ctx, a.cfg.Manifest)
	if err != nil {
		return err
	}
	current := storage.NewMemory()
	var recorder storage.Backend = current
	if manifest != nil {
		recorder = storage.Multi(current, manifest)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			a.logger.Warn("closing manifest", "err", err)
		}
	}()

	f, err := fetcher.New(fetcher.Options{
		Provider: provider,
		Progress: cmd.OutOrStdout(),
		Logger:   a.logger,
		Recorder: recorder,
	})
	if err != nil {
		return err
	}

	_, runErr := f.FetchImages(ctx, args[0], numImages, args[2], args[3], args[4])

	if a.cfg.Report.Format != "" {
		records, err := current.Query(ctx, storage.Filter{})
		if err != nil {
			return err
		}
		if err := report.Write(cmd.OutOrStdout(), a.cfg.Report.Format, report.GenerateSummary(records)); err != nil {
			return err
		}
	}
	return runErr
}

func (a *app) newProvider() (*google.Provider, error) {
	hc := a.cfg.HTTP
	profile, err := fingerprint.Parse(hc.Fingerprint)
	if err != nil {
		return nil, err
	}

	var proxies *proxy.Pool
	if hc.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{})
		if err := proxies.LoadFile(hc.ProxyFile); err != nil {
			return nil, err
		}
		a.logger.Info("proxies loaded", "count", proxies.Len())
	}

	var limiter *ratelimit.Limiter
	if hc.RPS > 0 {
		limiter = ratelimit.NewLimiter(hc.RPS, rateJitter)
	}

	dl, err := download.New(download.Config{
		Timeout:     hc.Timeout,
		MaxBytes:    hc.MaxBytes,
		Agents:      useragent.NewPool(hc.UserAgents),
		Proxies:     proxies,
		Fingerprint: profile,
		Limiter:     limiter,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(httpclient.Config{Timeout: hc.Timeout})
	if err != nil {
		return nil, err
	}

	return google.New(google.Config{
		Endpoint:   a.cfg.Search.Endpoint,
		Client:     client,
		Downloader: dl,
		Logger:     a.logger,
	})
}

// openManifest opens the configured backend. It returns a nil Backend when the
// manifest is disabled.
func openManifest(ctx context.Context, mc config.ManifestConfig) (storage.Backend, error) {
	switch mc.Backend {
	case "sqlite":
		return sqlite.New(mc.DSN)
	case "postgres":
		return postgres.New(ctx, mc.DSN)
	case "json":
		return jsonbackend.New(mc.DSN)
	case "csv":
		return csvbackend.New(mc.DSN)
	default:
		return nil, nil
	}
}
