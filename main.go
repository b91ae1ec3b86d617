package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sparkplug-tck/adapters"
	"sparkplug-tck/application"
	"sparkplug-tck/probe"
	"sparkplug-tck/scenarios"
	"syscall"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
	FlagListenAddress,
	FlagResultLog,
	FlagResultsTopic,
	FlagStartDelay,
	FlagProbeTimeout,
	FlagProbeUsername,
	FlagProbePassword,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "sparkplug-tck",
		Usage:   "Sparkplug conformance test harness",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "sparkplug-tck").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			config, err := LoadConfig(ctx.String(FlagConfig.Name))
			if err != nil {
				return err
			}
			applyFlags(ctx, &config)

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			probeTLS, err := config.Probe.TLS.ClientTLS()
			if err != nil {
				return err
			}
			serverTLS, err := config.Broker.ServerTLS()
			if err != nil {
				return err
			}

			reporter := &application.MultiReporter{
				Reporters: []application.Reporter{
					&adapters.LogReporter{Log: logger.With().Str("module", "results").Logger()},
					adapters.NewResultLog(config.ResultLog),
				},
				Log: logger.With().Str("module", "reporter").Logger(),
			}

			controller, err := application.NewController(application.ControllerParams{
				Registry: scenarios.Registry(scenarios.Deps{
					Probe: probe.EngineParams{
						Username:  config.Probe.Username,
						Password:  config.Probe.Password,
						TLSConfig: probeTLS,
						Timeout:   config.Probe.Timeout,
						Dialer: adapters.NewPahoDialer(adapters.PahoDialerParams{
							ConnectTimeout:   config.Probe.Timeout,
							OperationTimeout: config.Probe.Timeout,
							Log:              logger.With().Str("module", "probe-client").Logger(),
						}),
					},
					StartDelay: config.StartDelay,
					Log:        logger.With().Str("module", "scenario").Logger(),
				}),
				Reporter: reporter,
				Log:      logger.With().Str("module", "controller").Logger(),
			})
			if err != nil {
				return err
			}

			hook, err := adapters.NewConformanceHook(adapters.ConformanceHookParams{
				Controller: controller,
				Log:        logger.With().Str("module", "hook").Logger(),
			})
			if err != nil {
				return err
			}

			broker, err := adapters.NewBroker(adapters.BrokerParams{
				Address:   config.ListenAddress,
				TLSConfig: serverTLS,
				Hooks:     []mqtt.Hook{hook},
				// a test still running is reported before the broker goes away
				OnShutdown: controller.End,
				Log:        logger.With().Str("module", "broker").Logger(),
			})
			if err != nil {
				return err
			}

			hook.SetPublisher(broker)

			topicReporter, err := adapters.NewTopicReporter(broker, config.ResultsTopic)
			if err != nil {
				return err
			}
			reporter.Reporters = append(reporter.Reporters, topicReporter)

			g, gCtx := errgroup.WithContext(appCtx)
			g.Go(func() error {
				return broker.Run(gCtx)
			})

			logger.Info().Msg("service started")
			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}
