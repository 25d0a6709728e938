package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"claudekimi/internal/config"
	"claudekimi/internal/provider"
	openaiprovider "claudekimi/internal/provider/openai"
	"claudekimi/internal/server"
)

const serveUsage = `Usage:
  claudekimi serve [--config <path>] [--env <path>] [--port <port>]

Flags:
  --config string   Path to optional YAML configuration file
  --env    string   Path to optional .env file (default ".env" when present)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var envPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&envPath, "env", "", "path to .env file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath, envPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	backend, err := openaiprovider.New(cfg.Upstream, provider.NewHTTPClient())
	if err != nil {
		return fmt.Errorf("initialise backend provider: %w", err)
	}

	srv, err := server.New(cfg, backend)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
