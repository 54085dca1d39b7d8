package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentworkforce/relaydrive/internal/config"
	"github.com/agentworkforce/relaydrive/internal/gateway"
	"github.com/agentworkforce/relaydrive/internal/httpapi"
	"github.com/agentworkforce/relaydrive/internal/relaydrive"
	"github.com/agentworkforce/relaydrive/internal/storage"
)

const gatewayReconnectDelay = 5 * time.Second

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("loading configuration")
	}
	logger.SetLevel(parseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogBackend, err := relaydrive.BuildCatalogBackendFromDSN(cfg.TopicsDSN)
	if err != nil {
		logger.WithError(err).Fatal("building topic catalog backend")
	}
	selectionBackend, err := relaydrive.BuildSelectionBackendFromDSN(cfg.UserTopicsDSN)
	if err != nil {
		logger.WithError(err).Fatal("building selection backend")
	}
	store := relaydrive.NewTopicStore(relaydrive.TopicStoreOptions{
		Catalog:            catalogBackend,
		Selections:         selectionBackend,
		DefaultDestination: cfg.DefaultDestinationID,
		Logger:             logger,
	})
	defer store.CloseBackends()

	if cfg.WatchCatalog && isPlainFileDSN(cfg.TopicsDSN) {
		go func() {
			if err := store.WatchCatalog(ctx, dsnFilePath(cfg.TopicsDSN)); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("catalog watcher stopped")
			}
		}()
	}

	client, err := storage.NewClient(ctx, storage.Config{
		Type:         cfg.StorageType,
		DriveBaseURL: cfg.DriveBaseURL,
		DriveToken:   cfg.DriveToken,
		S3Bucket:     cfg.S3Bucket,
		LocalPath:    cfg.LocalStoragePath,
	})
	if err != nil {
		logger.WithError(err).Fatal("building archive storage client")
	}
	uploader := relaydrive.NewUploader(relaydrive.UploaderOptions{
		Client:           client,
		MaxFileSize:      cfg.MaxFileSizeBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		TextFormat:       cfg.TextFormat,
		Logger:           logger,
	})

	var transport *gateway.WebsocketTransport
	var notifier relaydrive.Notifier
	if cfg.GatewayURL != "" {
		transport = gateway.NewWebsocketTransport(gateway.WebsocketOptions{
			URL:    cfg.GatewayURL,
			Token:  cfg.GatewayToken,
			Logger: logger,
		})
		notifier = gateway.ReactionNotifier{
			Transport: transport,
			Log:       logger.WithField("component", "notifier"),
		}
	}
	aggregator := relaydrive.NewAggregator(relaydrive.AggregatorOptions{
		Store:    store,
		Uploader: uploader,
		Notifier: notifier,
		Window:   cfg.DebounceWindow,
		Logger:   logger,
	})

	if transport != nil {
		dispatcher := gateway.NewDispatcher(gateway.DispatcherOptions{
			Transport:          transport,
			Store:              store,
			Uploader:           uploader,
			Aggregator:         aggregator,
			SendDetailedErrors: cfg.SendDetailedErrors,
			Logger:             logger,
		})
		go runGateway(ctx, logger, transport, dispatcher.Handle)
	}

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewServerWithConfig(store, aggregator, httpapi.ServerConfig{
			AuthToken: cfg.AdminToken,
		}),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", cfg.Addr).Info("relaydrive listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server failed")
	}
}

// runGateway keeps a gateway connection alive until shutdown, redialing
// after a short delay when the connection drops.
func runGateway(ctx context.Context, logger *logrus.Logger, transport *gateway.WebsocketTransport, handle func(context.Context, gateway.Event)) {
	for {
		err := transport.Run(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("gateway connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(gatewayReconnectDelay):
		}
	}
}

func parseLogLevel(raw string) logrus.Level {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// isPlainFileDSN reports whether the DSN names a local JSON file, the
// only backend kind the catalog watcher can observe.
func isPlainFileDSN(dsn string) bool {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "file://") {
		return true
	}
	return !strings.Contains(trimmed, "://")
}

func dsnFilePath(dsn string) string {
	return strings.TrimPrefix(strings.TrimSpace(dsn), "file://")
}
