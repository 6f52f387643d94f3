package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/tachyon/internal/config"
	"github.com/zeusync/tachyon/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(1)
		}
	}

	srv, err := injector.InitializeServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing server:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Server stopped with error:", err)
		os.Exit(1)
	}
}
