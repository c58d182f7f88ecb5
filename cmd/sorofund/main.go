package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/engine"
)

type Opts struct {
	ConfigPath string `long:"config" short:"c" default:"config.toml" env:"SOROFUND_CONFIG_PATH"`
	Debug      bool   `long:"debug"`
	NoBanner   bool   `long:"no-banner"`

	Args struct {
		// Command is one of serve (default), audit, inspect or reputation
		Command    string `positional-arg-name:"command"`
		CampaignID string `positional-arg-name:"campaign-id"`
	} `positional-args:"yes"`
}

const banner = `
  ___               ___             _ 
 / __| ___ _ _ ___ | __|  _ _ _  __| |
 \__ \/ _ \ '_/ _ \| _| || | ' \/ _' |
 |___/\___/_| \___/|_| \_,_|_||_\__,_|
`

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Parse args
	opts := Opts{}
	_, err := flags.Parse(&opts)
	if err != nil {
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	command := opts.Args.Command
	if command == "" {
		command = "serve"
	}

	if !opts.NoBanner && command == "serve" {
		log.Info(banner)
	}

	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("running sorofund")

	// Load TOML file
	log.Debugf("loading configuration %q", opts.ConfigPath)
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration file")
	}

	if cfg.Log.Filename != "" {
		log.Infof("writing logs to %s", cfg.Log.Filename)
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.Filename,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
			Compress:   cfg.Log.Compress,
		})
	}

	database, err := db.NewBadger(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}

	defer func() {
		if err := database.Close(); err != nil {
			log.WithError(err).Error("failed to close database")
		}
	}()

	eng, err := engine.New(database, cfg.Engine)
	if err != nil {
		log.WithError(err).Fatal("failed to create engine")
	}

	switch command {
	case "serve":
		err = serve(ctx, cancel, stop, cfg, database, eng)
	case "audit":
		err = audit(ctx, eng)
	case "inspect":
		err = inspect(ctx, eng, opts.Args.CampaignID)
	case "reputation":
		err = reputation(ctx, eng)
	default:
		log.Errorf("unknown command %q, use serve, audit, inspect or reputation", command)
		os.Exit(2)
	}

	if err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
