package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/waello/ozeshare/geo"
	"github.com/waello/ozeshare/model"
	"github.com/waello/ozeshare/publisher"
	"github.com/waello/ozeshare/session"
	"github.com/waello/ozeshare/subscriber"
	"github.com/waello/ozeshare/transport"
)

const snapshotInterval = 5 * time.Second

type snapshotter interface {
	Snapshot() session.Snapshot
	Notices() <-chan session.Notice
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		serverURL = fs.StringP("server-url", "s", "ws://localhost:8888/ws", "coordination endpoint url")
		mode      = fs.StringP("mode", "m", "share", "share (publish own location) or watch (follow a room)")
		room      = fs.StringP("room", "r", "", "room code to create or join")
		shareOwn  = fs.BoolP("share-own", "o", false, "watch mode: also share own location with the room")
		lat       = fs.Float64("lat", 48.8584, "simulated route origin latitude")
		lng       = fs.Float64("lng", 2.2945, "simulated route origin longitude")
		dumpState = fs.BoolP("dump-state", "d", false, "periodically dump the full session snapshot")
		logLevel  = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *room == "" {
		logger.Fatal().Msg("room code is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src := geo.NewSimulator(geo.SimulatorConfig{
		Route: []model.Position{
			{Lat: *lat, Lng: *lng},
			{Lat: *lat + 0.001, Lng: *lng + 0.001},
			{Lat: *lat + 0.002, Lng: *lng},
		},
		Seed: time.Now().UnixNano(),
	})

	switch *mode {
	case "share":
		runPublisher(ctx, &logger, *serverURL, *room, src, *dumpState)
	case "watch":
		runSubscriber(ctx, &logger, *serverURL, *room, src, *shareOwn, *dumpState)
	default:
		logger.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func runPublisher(ctx context.Context, logger *zerolog.Logger, url, room string, src geo.Source, dump bool) {
	ch := transport.NewClient(transport.Config{
		Logger: logger,
		URL:    url,
	})
	defer ch.Close()

	pub := publisher.New(publisher.Config{
		Logger:  logger,
		Channel: ch,
		Source:  src,
	})

	done := make(chan error, 1)
	go func() {
		done <- pub.Run(ctx)
	}()

	// Sharing can only start once the position source delivered a sample.
	go func() {
		for {
			err := pub.StartSharing(room)
			switch {
			case err == nil:
				return
			case errors.Is(err, publisher.ErrLocationNotAccessible):
				select {
				case <-ctx.Done():
					return
				case <-time.After(500 * time.Millisecond):
				}
			default:
				logger.Error().Err(err).Msg("cannot start sharing")
				return
			}
		}
	}()

	observe(ctx, logger, pub, dump)
	pub.StopSharing()
	if err := <-done; err != nil {
		logger.Error().Err(err).Msg("publisher stopped with error")
	}
}

func runSubscriber(ctx context.Context, logger *zerolog.Logger, url, room string, src geo.Source, shareOwn, dump bool) {
	ch := transport.NewClient(transport.Config{
		Logger:    logger,
		URL:       url,
		Reconnect: true,
	})
	defer ch.Close()

	sub := subscriber.New(subscriber.Config{
		Logger:  logger,
		Channel: ch,
		Source:  src,
	})

	done := make(chan error, 1)
	go func() {
		done <- sub.Run(ctx)
	}()

	if err := sub.Join(room); err != nil {
		logger.Fatal().Err(err).Msg("cannot join room")
	}
	if shareOwn {
		sub.StartSharingOwnLocation()
	}

	observe(ctx, logger, sub, dump)
	sub.Leave()
	if err := <-done; err != nil {
		logger.Error().Err(err).Msg("subscriber stopped with error")
	}
}

func observe(ctx context.Context, logger *zerolog.Logger, s snapshotter, dump bool) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notice := <-s.Notices():
			logger.Info().
				Str("level", string(notice.Level)).
				Msg(notice.Message)
		case <-ticker.C:
			snap := s.Snapshot()
			if dump {
				spew.Fdump(os.Stderr, snap)
				continue
			}
			ev := logger.Info().
				Str("connection", string(snap.Connection)).
				Str("access", string(snap.Access))
			if snap.LastPosition != nil {
				ev = ev.Float64("lat", snap.LastPosition.Lat).
					Float64("lng", snap.LastPosition.Lng)
			}
			ev.Msg("session")
		}
	}
}
