package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mirage-sh/mirage/cli/config"
	"github.com/mirage-sh/mirage/iox"
	"github.com/mirage-sh/mirage/log"
	"github.com/mirage-sh/mirage/metrics"
	"github.com/mirage-sh/mirage/server"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the narration HTTP/SSE server",
		Flags: []cli.Flag{
			ConfigFlag,
			ListenFlag,
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if listen := c.String("listen"); listen != "" {
		cfg.Listen = listen
	}

	logger := log.NewProcessLogger()

	sink, err := buildSink(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), 1)
	}
	defer iox.DiscardClose(sink)

	archiver, err := buildArchiver(c.Context, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archiver: %v", err), 1)
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), 1)
	}
	defer func() { iox.CloseAll(adapters...) }()

	producer, err := buildProducer(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("model: %v", err), 1)
	}

	backend := cfg.Storage.Backend
	if backend == "" {
		backend = "memory"
	}

	srv, err := server.New(server.Config{
		Producer:      producer,
		Sink:          sink,
		Archiver:      archiver,
		Adapters:      adapters,
		Fields:        cfg.Fields,
		FlushInterval: cfg.FlushInterval.Duration,
		Collector:     metrics.NewCollector(backend, cfg.Model.Model),
		Logger:        logger,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("server: %v", err), 1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		logger.Info("shutting down", nil)
		_ = srv.Shutdown()
	}()

	if err := srv.Run(cfg.Listen); err != nil {
		return cli.Exit(fmt.Sprintf("server: %v", err), 1)
	}
	return nil
}
