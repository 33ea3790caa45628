package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/waello/ozeshare/config"
	"github.com/waello/ozeshare/hub"
	httpServer "github.com/waello/ozeshare/server/http"
	websocketServer "github.com/waello/ozeshare/server/websocket"
	"github.com/waello/ozeshare/service"
	store "github.com/waello/ozeshare/storage/memory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configPath    = fs.StringP("config", "c", "", "path to yaml config file")
		apiListenAddr = fs.StringP("api-listen-addr", "a", "", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", "", "websocket listen address")
		logLevel      = fs.StringP("log-level", "l", "", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
	}
	// Flags win over file values.
	if *apiListenAddr != "" {
		cfg.Server.APIListenAddr = *apiListenAddr
	}
	if *wsListenAddr != "" {
		cfg.Server.WSListenAddr = *wsListenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	lvl, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	svc := service.NewService(service.Config{
		RoomStore: store.NewMemStore(),
		Fanout:    hub.NewHub(&logger),
		Logger:    &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  cfg.Server.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:              &logger,
		CoordinationService: svc,
		ListenAddr:          cfg.Server.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
