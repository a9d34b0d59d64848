// Command ecal-dap is the DAP front-end entry point. It wires together
// configuration and the transport runner, and
// hands each new session a fresh interp/mini.Interpreter collaborator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ecal-dap/ecal-dap/internal/core/config"
	"github.com/ecal-dap/ecal-dap/internal/interp"
	"github.com/ecal-dap/ecal-dap/internal/interp/mini"
	"github.com/ecal-dap/ecal-dap/internal/session"
	"github.com/ecal-dap/ecal-dap/internal/transport"
	"github.com/ecal-dap/ecal-dap/internal/wire"
)

func main() {
	mode := flag.String("mode", "stdio", `transport mode: "stdio" or "tcp:<port>"`)
	flag.Parse()

	logger := log.New(os.Stderr, "ecal-dap: ", log.LstdFlags)

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if *mode == "stdio" && cfg.Transport != "" {
		*mode = cfg.Transport
	}

	newSession := func(conn *wire.Conn) *session.Session {
		factory := func() interp.Interpreter { return mini.New() }
		return session.New(conn, factory, cfg, logger)
	}

	ctx := context.Background()

	if *mode == "stdio" {
		if err := transport.RunStdio(ctx, newSession, logger); err != nil {
			logger.Fatalf("stdio transport: %v", err)
		}
		return
	}

	port, err := parseTCPMode(*mode)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if err := transport.RunTCP(ctx, port, newSession, logger); err != nil {
		logger.Fatalf("tcp transport: %v", err)
	}
}

func parseTCPMode(mode string) (int, error) {
	rest, ok := strings.CutPrefix(mode, "tcp:")
	if !ok {
		return 0, fmt.Errorf("unrecognized -mode %q, want \"stdio\" or \"tcp:<port>\"", mode)
	}
	port, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid tcp port in -mode %q: %w", mode, err)
	}
	return port, nil
}
