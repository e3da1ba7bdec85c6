package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/fetchkit"
	"github.com/always-cache/fetchkit/api"
	"github.com/always-cache/fetchkit/cache"
	cachekey "github.com/always-cache/fetchkit/pkg/cache-key"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	storageFlag        string
	dbFilenameFlag     string
	costLimitFlag      int64
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080, overrides config)")
	flag.StringVar(&storageFlag, "storage", "", "Storage backend: memory, sqlite, file, s3 or null (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "SQLite file or storage directory (overrides config)")
	flag.Int64Var(&costLimitFlag, "cost-limit", 0, "Memory storage limit in bytes (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config Config
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Str("file", configFilenameFlag).Msg("Could not read config")
		}
	}
	applyFlags(&config)
	if err := config.Rules.Compile(); err != nil {
		log.Fatal().Err(err).Msg("Invalid rules")
	}

	config.Storage.Logger = &log.Logger
	storage, err := cache.Open(config.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("type", config.Storage.Type).Msg("Could not open storage")
	}
	if closer, ok := storage.(io.Closer); ok {
		defer closer.Close()
	}

	manager := fetchkit.CreateManager(fetchkit.Config{
		Storage: storage,
		Logger:  &log.Logger,
	})
	defer manager.Close()
	keyer := cachekey.NewCacheKeyer(config.Namespace)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(config.Prefetch) > 0 {
		if err := prefetch(ctx, manager, keyer, config.Rules, config.Prefetch); err != nil {
			log.Error().Err(err).Msg("Prefetch incomplete")
		}
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", config.Port),
		Handler: api.New(api.Config{
			Manager: manager,
			Storage: storage,
			Rules:   config.Rules,
			Keyer:   keyer,
			Logger:  &log.Logger,
		}),
	}
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		manager.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving on port %d with %s storage", config.Port, storageName(config.Storage.Type))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func storageName(t string) string {
	if t == "" {
		return cache.TypeMemory
	}
	return t
}
