package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rentwing/rentwing/internal/bills"
	"github.com/rentwing/rentwing/internal/cache"
	"github.com/rentwing/rentwing/internal/config"
	"github.com/rentwing/rentwing/internal/errors"
	"github.com/rentwing/rentwing/internal/health"
	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/ledger"
	"github.com/rentwing/rentwing/internal/media"
	"github.com/rentwing/rentwing/internal/metrics"
	"github.com/rentwing/rentwing/internal/queue"
	"github.com/rentwing/rentwing/internal/syncer"
	"github.com/rentwing/rentwing/internal/transport"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type appOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &appOptions{}

	cmd := &cobra.Command{
		Use:           "rentwing",
		Short:         "Local-first rental ledger sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newFlushCommand(opts))
	cmd.AddCommand(newFullSyncCommand(opts))
	cmd.AddCommand(newReadCommand(opts))
	cmd.AddCommand(newUploadCommand(opts))
	cmd.AddCommand(newMetricsCommand(opts))
	return cmd
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *kv.Store
	engine *syncer.Engine
	prober *health.Prober
	client *transport.Client
}

func (a *app) close() {
	a.engine.WaitBackground()
	a.store.Close()
	a.logger.Sync()
}

// buildApp loads config, initializes the logger and wires every service.
func buildApp(opts *appOptions) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabaseFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := kv.Open(cfg.Storage.DatabaseFile)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	cacheStore := cache.NewStore(store, logger)
	q := queue.New(store)
	led := ledger.New(store, logger)
	mat := bills.NewMaterializer(led, logger)
	client := transport.NewClient(cfg.Backend.URL, cfg.Backend.RequestTimeout, m, logger)
	prober := health.NewProber(&health.ProberConfig{
		Endpoint: cfg.Backend.URL,
		Interval: cfg.Health.ProbeInterval,
		Timeout:  cfg.Health.ProbeTimeout,
	}, logger)

	engine := syncer.NewEngine(syncer.Options{
		Cache:        cacheStore,
		Queue:        q,
		Ledger:       led,
		Bills:        mat,
		Client:       client,
		Prober:       prober,
		Metrics:      m,
		Logger:       logger,
		ReadTTL:      cfg.Cache.ReadTTL,
		ResponseTTL:  cfg.Cache.ResponseTTL,
		TaskTimeout:  cfg.Sync.TaskTimeout,
		FlushOnWrite: cfg.Sync.FlushOnWrite,
	})

	logger.Info("Engine initialized",
		zap.String("database", cfg.Storage.DatabaseFile),
		zap.Bool("backend_configured", cfg.Backend.URL != ""))

	return &app{cfg: cfg, logger: logger, store: store, engine: engine, prober: prober, client: client}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("RENTWING_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("./config.yaml"); err == nil {
			path = "./config.yaml"
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func newStatusCommand(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			online := a.prober.Probe(ctx)
			pending, err := a.engine.PendingJobs(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\nonline: %v\npending jobs: %d\n",
				a.engine.Status(), online, pending)
			return nil
		},
	}
}

func newFlushCommand(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay the pending write queue to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			a.prober.Probe(cmd.Context())
			outcome := a.engine.Flush(cmd.Context())
			fmt.Printf("status: %s\ndelivered: %d\nremaining: %d\n",
				outcome.Status, outcome.Delivered, outcome.Remaining)
			if outcome.Err != nil {
				if errors.IsRecoverable(outcome.Err) {
					fmt.Printf("stopped: %v (queued writes kept, retry later)\n", outcome.Err)
				} else {
					fmt.Printf("stopped: %v\n", outcome.Err)
				}
			}
			return nil
		},
	}
}

func newFullSyncCommand(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fullsync",
		Short: "Bootstrap local data from the backend (discards pending writes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.engine.FullSync(cmd.Context(), func(completed, total int, label string) {
				if label != "" {
					fmt.Printf("[%d/%d] %s\n", completed, total, label)
				}
			})
			fmt.Printf("status: %s (%d/%d tasks)\n", report.Status, report.Completed, report.Total)
			for _, e := range report.Errors {
				fmt.Printf("error: %s\n", e)
			}
			return nil
		},
	}
}

func newReadCommand(opts *appOptions) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "read <action>",
		Short: "Read through the sync engine (cache, local rebuild, network)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			a.prober.Probe(cmd.Context())
			p := map[string]string{}
			for _, kvPair := range params {
				parts := strings.SplitN(kvPair, "=", 2)
				if len(parts) == 2 {
					p[parts[0]] = parts[1]
				}
			}
			result := a.engine.Read(cmd.Context(), args[0], p)
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "request parameter key=value")
	return cmd
}

func newUploadCommand(opts *appOptions) *cobra.Command {
	var (
		paymentID string
		maxDim    int
	)
	cmd := &cobra.Command{
		Use:   "upload <image-file>",
		Short: "Compress a receipt image and upload it as a payment attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			compressed, err := media.CompressReceipt(media.FromBytes(raw), maxDim)
			if err != nil {
				return err
			}
			a.logger.Info("Receipt compressed",
				zap.Int("original_bytes", len(raw)),
				zap.Int("upload_bytes", compressed.Size),
				zap.String("mime_type", compressed.MimeType))

			payload := map[string]any{
				"paymentId": paymentID,
				"fileName":  filepath.Base(args[0]),
				"mimeType":  compressed.MimeType,
				"data":      compressed.DataURL,
			}
			result, _, err := a.client.UploadAttachment(cmd.Context(), payload,
				func(loaded, total int64, done bool) {
					if done {
						fmt.Printf("uploaded %d bytes\n", total)
						return
					}
					fmt.Printf("uploading... %d/%d\n", loaded, total)
				})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&paymentID, "payment", "", "payment id to attach the receipt to")
	cmd.Flags().IntVar(&maxDim, "max-dim", media.DefaultMaxDim, "longest edge of the uploaded image in pixels")
	return cmd
}

func newMetricsCommand(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Serve the Prometheus metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			go a.prober.Start(cmd.Context())

			mux := http.NewServeMux()
			mux.Handle(a.cfg.Metrics.Path, promhttp.Handler())
			srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}

			a.logger.Info("Metrics server listening",
				zap.String("addr", a.cfg.Metrics.Addr),
				zap.String("path", a.cfg.Metrics.Path))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				return srv.Shutdown(context.Background())
			}
		},
	}
}
