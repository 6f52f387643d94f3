package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/tachyon/internal/core/models"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/peer/client"
	"github.com/zeusync/tachyon/internal/transport"
	"github.com/zeusync/tachyon/internal/transport/quic"
	"github.com/zeusync/tachyon/internal/transport/websocket"
)

func main() {
	var (
		transportName = flag.String("transport", "websocket", "websocket or quic")
		addr          = flag.String("addr", "ws://127.0.0.1:8080/tachyon", "server URL (websocket) or host:port (quic)")
		name          = flag.String("name", "", "name sent with the handshake")
		prefabHandle  = flag.String("prefab", "", "prefab to instantiate once ready")
		level         = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logLevel, err := log.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := log.New(logLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	properties := map[string]any{}
	if *name != "" {
		properties["name"] = *name
	}
	cli := client.New[transport.Socket](transport.Sender, client.Options[transport.Socket]{
		Logger:     logger,
		Properties: properties,
	})

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var conn interface {
		transport.Socket
		Done() <-chan struct{}
	}
	switch *transportName {
	case "websocket":
		conn, err = websocket.Dial(dialCtx, *addr, cli.Dispatcher(), websocket.Config{WriteTimeout: 10 * time.Second}, logger)
	case "quic":
		conn, err = quic.Dial(dialCtx, *addr, quic.ClientTLS(true), cli.Dispatcher(), quic.Config{WriteTimeout: 10 * time.Second}, logger)
	default:
		err = fmt.Errorf("unknown transport %q", *transportName)
	}
	if err != nil {
		logger.Fatal("Failed to connect", log.String("addr", *addr), log.Error(err))
	}
	defer func() { _ = conn.Close() }()

	if err = cli.Start(conn); err != nil {
		logger.Fatal("Failed to start handshake", log.Error(err))
	}
	if err = cli.WaitReady(dialCtx); err != nil {
		logger.Fatal("Handshake did not complete", log.Error(err))
	}

	if *prefabHandle != "" {
		if err = cli.RequestInstantiatePrefab(*prefabHandle, models.Components{}); err != nil {
			logger.Error("Failed to request prefab", log.String("prefab", *prefabHandle), log.Error(err))
		}
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.Info("Mirror state", log.Int("viewed_entities", cli.Dispatcher().ViewedEntities().Len()))
			if problem, ok := cli.LastProblem(); ok {
				logger.Info("Last problem",
					log.String("problem", problem.ProblemCode.String()),
					log.String("problem_id", problem.ProblemID))
			}
		case <-conn.Done():
			logger.Info("Connection closed")
			return
		case <-ctx.Done():
			return
		}
	}
}
