package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/refreshd/internal/api"
	"github.com/dgnsrekt/refreshd/internal/cache"
	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/notify"
	"github.com/dgnsrekt/refreshd/internal/push"
	"github.com/dgnsrekt/refreshd/internal/refresh"
	"github.com/dgnsrekt/refreshd/internal/server"
	"github.com/dgnsrekt/refreshd/internal/transform"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh engine with its admin API",
		Long: `Run the refresh engine, open the configured watches, and serve the
admin API until interrupted.

Examples:
  # Serve with ./configs/default.yaml
  refreshd serve

  # Override the listen address
  refreshd serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context) error {
	if cfg.API.BaseURL == "" {
		return errors.WithHint(errors.New("api.base_url is required to serve"),
			"set api.base_url in the config file or REFRESHD_API_BASE_URL")
	}

	// Create client
	client := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		cfg.API.RatePerSecond,
		cfg.API.Timeout,
		cfg.API.RetryDelay,
		cfg.Engine.MaxRetries,
		logger,
	)

	pipeline := transform.NewPipeline()
	if err := pipeline.RegisterDefinitions(cfg.TransformDefinitions()); err != nil {
		return err
	}

	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		return err
	}
	notifier := notify.New(notifyCfg, logger)

	store := cache.NewMemoryStore(cfg.Cache.TTL)
	engine, err := refresh.New(client, store, pipeline, cfg.EngineOptions(), logger,
		refresh.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}
	engine.Start()
	defer engine.Stop()

	if err := openWatches(engine); err != nil {
		return err
	}

	var listener *push.Listener
	if cfg.Push.Enabled {
		listener, err = push.NewListener(cfg.Push.URL, engine, push.Options{
			Header:     pushHeader(cfg.API.APIKey),
			MinBackoff: cfg.Push.MinBackoff,
			MaxBackoff: cfg.Push.MaxBackoff,
		}, logger)
		if err != nil {
			return err
		}
	}

	router, err := server.NewRouter(server.NewHandler(engine, logger), logger)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	httpServer := newHTTPServer(gctx, cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout)

	g.Go(func() error {
		logger.Info("admin api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "admin api")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down admin api")
		return httpServer.Shutdown(shutdownCtx)
	})

	if listener != nil {
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("refreshd stopped", zap.Any("stats", engine.Stats().Totals))
	return err
}

// newHTTPServer builds the admin server. Request contexts derive from ctx, so
// long-lived streams end as soon as ctx is cancelled instead of holding up
// Shutdown.
func newHTTPServer(ctx context.Context, addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func pushHeader(apiKey string) http.Header {
	if apiKey == "" {
		return nil
	}
	return http.Header{"Authorization": {"Bearer " + apiKey}}
}

// openWatches subscribes every configured watch. Deliveries are logged.
func openWatches(engine *refresh.Engine) error {
	for _, w := range cfg.Watches {
		dataType := w.DataType
		id, err := engine.Subscribe(dataType, func(data any, md refresh.Metadata) {
			logger.Debug("watch delivery",
				zap.String("dataType", dataType),
				zap.String("source", string(md.Source)),
				zap.String("version", md.Version),
				zap.Int("conflicts", len(md.Conflicts)),
				zap.Duration("total", md.Performance.TotalTime),
			)
		}, w.Options())
		if err != nil {
			return errors.Wrapf(err, "watch %s", dataType)
		}
		logger.Info("watch opened", zap.String("dataType", dataType), zap.String("subscription", id))
	}
	return nil
}
