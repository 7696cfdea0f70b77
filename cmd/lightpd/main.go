package main

import (
	"flag"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/app"
	"github.com/dokzlo13/lightpd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	checkOnly := flag.Bool("check", false, "Validate the configuration and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *checkOnly {
		fmt.Printf("%s: ok (driver=%s, http=%s)\n", configPath, cfg.Channel.Driver, cfg.HTTP.Addr())
		return
	}

	setupLogging(&cfg.Log, cfg.Device.Name)
	log.Info().Str("config", configPath).Msg("Starting lightpd")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if err := application.Run(app.SignalContext()); err != nil {
		log.Fatal().Err(err).Msg("lightpd stopped with error")
	}
}

func setupLogging(cfg *config.LogConfig, device string) {
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if cfg.UseJSON {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		})
	}
	log.Logger = logger.With().Timestamp().Str("device", device).Logger()

	level, err := zerolog.ParseLevel(cfg.GetLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
