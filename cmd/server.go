package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nbserver"
)

var (
	configFilePath string
	port           int
)

func init() {
	flag.StringVar(&configFilePath, "c", "", "path to configuration file (.toml or .yaml).")
	flag.IntVar(&port, "p", 0, "listening port, overrides the configuration file.")
}

func loadConfig() (*nbserver.Config, error) {
	config := nbserver.DefaultConfig()
	if configFilePath != "" {
		loaded, err := nbserver.LoadConfig(configFilePath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	if port != 0 {
		config.Server.Port = port
	}
	if config.Server.Port == 0 {
		return nil, fmt.Errorf("usage: %s [-c config] -p <port>", os.Args[0])
	}
	return config, config.Validate()
}

func initLog(config *nbserver.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := config.LogLevel()
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func terminate(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	config, err := loadConfig()
	if err != nil {
		terminate("%v", err)
	}
	initLog(config)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := nbserver.NewServer(ctx, config)
	if err != nil {
		terminate("can't start server: %v", err)
	}
	log.Info().Msgf("%d supported connections with %s poller", server.Reactor().MaxConnections(), config.Server.Poller)

	done := make(chan error, 1)
	go func() {
		done <- server.Serve()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("terminated by signal")
	case err := <-done:
		terminate("reactor stopped: %v", err)
	}
}
