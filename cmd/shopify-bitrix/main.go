package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SmartGR/shopify-bitrix/internal/bitrix"
	"github.com/SmartGR/shopify-bitrix/internal/cache"
	"github.com/SmartGR/shopify-bitrix/internal/config"
	"github.com/SmartGR/shopify-bitrix/internal/eduvem"
	"github.com/SmartGR/shopify-bitrix/internal/httpapi"
	"github.com/SmartGR/shopify-bitrix/internal/journal"
	"github.com/SmartGR/shopify-bitrix/internal/mapper"
	"github.com/SmartGR/shopify-bitrix/internal/metrics"
	"github.com/SmartGR/shopify-bitrix/internal/relay"
	"github.com/SmartGR/shopify-bitrix/internal/sequencer"
	"github.com/SmartGR/shopify-bitrix/internal/shopify"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mapping := mapper.Defaults()
	if cfg.MappingFile != "" {
		loaded, err := mapper.LoadFile(cfg.MappingFile)
		if err != nil {
			logger.Error("failed to load mapping file", "path", cfg.MappingFile, "error", err)
			os.Exit(1)
		}
		mapping = loaded
	}
	table := mapper.NewTable(mapping)
	if cfg.MappingFile != "" {
		if err := mapper.Watch(ctx, table, cfg.MappingFile, logger.With("component", "mapper")); err != nil {
			logger.Warn("mapping watcher unavailable", "error", err)
		}
	}

	crm, err := bitrix.NewClient(bitrix.ClientOptions{
		BaseURL:         cfg.BitrixWebhookBase,
		Logger:          logger.With("component", "bitrix"),
		ExternalIDField: mapping.FieldExternalID,
		LoyaltyField:    mapping.FieldLoyalty,
	})
	if err != nil {
		logger.Error("bitrix client setup failed", "error", err)
		os.Exit(1)
	}

	var store cache.Store
	if cfg.RedisAddr != "" {
		store = cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info("using redis cache", "addr", cfg.RedisAddr)
	} else {
		store = cache.NewMemory()
	}
	users := bitrix.NewUserDirectory(crm, store, cfg.UserCacheTTL)
	enums := bitrix.NewEnumCache(crm, cfg.EnumCacheTTL)

	source := shopify.NewClient(shopify.ClientOptions{
		Domain:      cfg.ShopifyDomain,
		AccessToken: cfg.ShopifyAccessToken,
		APIVersion:  cfg.ShopifyAPIVersion,
		Logger:      logger.With("component", "shopify"),
	})

	var enroller relay.Enroller
	if cfg.EduvemAPIToken != "" {
		enroller = eduvem.NewClient(eduvem.ClientOptions{
			BaseURL:  cfg.EduvemAPIURL,
			APIToken: cfg.EduvemAPIToken,
			Logger:   logger.With("component", "eduvem"),
		})
	}

	var backend journal.Backend
	if cfg.DatabaseURL != "" {
		backend, err = journal.NewPostgresBackend(cfg.DatabaseURL)
		if err != nil {
			logger.Error("journal backend setup failed", "error", err)
			os.Exit(1)
		}
		logger.Info("journal persisted to postgres")
	} else {
		backend = journal.NewMemoryBackend(0)
	}
	jrnl := journal.New(backend, logger.With("component", "journal"))
	defer jrnl.Close()

	seq := sequencer.New(logger.With("component", "sequencer"))
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SequencerActiveKeys.Set(float64(seq.ActiveKeys()))
			}
		}
	}()

	processor := relay.NewProcessor(relay.Options{
		Directory:   crm,
		Users:       users,
		Enums:       enums,
		Source:      source,
		Enroller:    enroller,
		Mapping:     table,
		Journal:     jrnl,
		Logger:      logger.With("component", "relay"),
		CallTimeout: cfg.CallTimeout,
	})

	server, err := httpapi.NewServer(processor, seq, jrnl, httpapi.Config{
		WebhookSecret:   cfg.ShopifyWebhookSecret,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		TaskTimeout:     cfg.TaskTimeout,
	}, logger.With("component", "httpapi"))
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Let in-flight chains finish before exiting.
	seq.Close()
	logger.Info("relay stopped")
}
