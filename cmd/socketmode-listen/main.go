// socketmode-listen connects an app to Socket Mode, logs every envelope it receives and
// acknowledges it. Useful for checking that an app-level token and its event subscriptions
// work before any real handlers exist.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/slacknet/slacksdk/config"
	"github.com/slacknet/slacksdk/connection/socketmessage"
	"github.com/slacknet/slacksdk/logger"
	"github.com/slacknet/slacksdk/metrics"
	"github.com/slacknet/slacksdk/socketmode"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "socketmode-listen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logLevel, metricsAddr string
	var connections int
	var printVersion bool

	flagSet := pflag.NewFlagSet("socketmode-listen", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a yaml config file")
	flagSet.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flagSet.IntVar(&connections, "connections", 0, "override the configured number of connections")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	flagSet.BoolVar(&printVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if printVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if connections > 0 {
		cfg.NumberOfConnections = connections
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{
		FilePath:       cfg.Log.FilePath,
		ConsoleWriters: []io.Writer{os.Stdout},
		LogLevel:       cfg.Log.Level,
	})
	if err != nil {
		return err
	}
	log.AddSdkVersion(version)

	m := metrics.New()
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		if err := m.Register(registry); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		go serveMetrics(log, metricsAddr, registry)
	}

	client, err := socketmode.New(log, cfg.AppToken, append(socketmode.FromConfig(cfg), socketmode.WithMetrics(m))...)
	if err != nil {
		return err
	}
	registerLoggingHandlers(log.GetComponentLogger("listener"), client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Listening with %d connection(s), press ctrl-c to stop", cfg.NumberOfConnections)
	return client.Run(ctx)
}

func registerLoggingHandlers(log *logger.Logger, client *socketmode.Client) {
	router := client.Router()

	router.OnDefaultEvent(func(ctx context.Context, event *socketmessage.EventsApiPayload) error {
		log.Infof("event %s (%s) from team %s: %s", event.Event.Type, event.EventId, event.TeamId, event.Event.Raw)
		return nil
	})

	router.OnDefaultInteraction(func(ctx context.Context, interaction *socketmessage.InteractivePayload) (any, error) {
		log.Infof("%s interaction %q from user %s", interaction.Type, interaction.RoutingKey(), interaction.User.Id)
		return nil, nil
	})

	router.OnDefaultSlashCommand(func(ctx context.Context, command *socketmessage.SlashCommandPayload) (any, error) {
		log.Infof("%s %q from user %s in %s", command.Command, command.Text, command.UserId, command.ChannelId)
		return nil, nil
	})
}

func serveMetrics(log *logger.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Infof("Serving metrics on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("metrics server stopped: %s", err)
	}
}
