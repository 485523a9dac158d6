// Command maekawa-node runs a full Maekawa mutual-exclusion cluster as a
// single process: every participating node listens on its own loopback
// port, dials every other node, and drives its request loop until all
// nodes have completed their configured iteration count.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/config"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/orchestrator"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("maekawa-node", flag.ContinueOnError)
	configFile := fs.String("config", "", "optional YAML config file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	getFlagConfig := config.RegisterFlags(fs, config.Defaults())

	if err := fs.Parse(args); err != nil {
		return 2
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := logging.New(os.Stderr, level)

	cfg, err := config.LoadFile(config.Defaults(), *configFile)
	if err != nil {
		log.Errorf("load config file: %v", err)
		return 1
	}
	cfg, err = config.LoadEnv(cfg)
	if err != nil {
		log.Errorf("load env config: %v", err)
		return 1
	}
	cfg = getFlagConfig(cfg)

	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	orch := orchestrator.New(cfg, log)
	log.Infof("starting maekawa cluster: %d nodes, base port %d, %d iterations each", cfg.NumNodes, cfg.BasePort, cfg.Iterations)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("cluster run failed: %v", err)
		return 1
	}

	log.Infof("cluster run complete")
	return 0
}
