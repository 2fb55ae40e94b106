package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/services/scan"
	"github.com/mkkang/swingbot/internal/services/sell"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "scan":
		os.Exit(runScan(os.Args[2:]))
	case "sell":
		os.Exit(runSell(os.Args[2:]))
	case "schedule":
		os.Exit(runSchedule(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `swingbot — scheduled market scanning and portfolio review

Usage:
  swingbot scan [flags]      evaluate buy rules over the universe, write a buy report
  swingbot sell [flags]      review holdings against sell rules, write a sell report
  swingbot schedule [flags]  run scan/sell on the configured cron expressions

Common flags:
  -config path   TOML config file (default $SWINGBOT_CONFIG, then config.toml)
`)
}

// loadConfig reads the TOML config plus .env and environment overrides.
func loadConfig(path string) (*common.Config, *common.Logger, error) {
	if path == "" {
		path = os.Getenv("SWINGBOT_CONFIG")
	}
	if path == "" {
		path = "config.toml"
	}
	cfg, err := common.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, common.NewLogger(cfg.Logging.Level), nil
}

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file")
	watchlist := fs.String("watchlist", "", "watchlist file (overrides config)")
	limit := fs.Int("limit", 0, "max watchlist tickers (0 = config value)")
	universe := fs.String("universe", "", "watchlist | screener | both")
	screenerLimit := fs.Int("screener-limit", 0, "max screener tickers (0 = config value)")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	service, err := scan.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize scan")
		return 1
	}
	return service.Run(context.Background(), scan.Options{
		WatchlistPath: *watchlist,
		Limit:         *limit,
		Universe:      *universe,
		ScreenerLimit: *screenerLimit,
	})
}

func runSell(args []string) int {
	fs := flag.NewFlagSet("sell", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file")
	holdingsPath := fs.String("holdings", "", "holdings file (overrides config)")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *holdingsPath != "" {
		cfg.Holdings.Path = *holdingsPath
	}

	service, err := sell.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize sell review")
		return 1
	}
	return service.Run(context.Background())
}

func runSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file")
	scanCron := fs.String("scan-cron", "", "cron expression for scan (overrides config)")
	sellCron := fs.String("sell-cron", "", "cron expression for sell (overrides config)")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *scanCron != "" {
		cfg.Schedule.ScanCron = *scanCron
	}
	if *sellCron != "" {
		cfg.Schedule.SellCron = *sellCron
	}
	if cfg.Schedule.ScanCron == "" && cfg.Schedule.SellCron == "" {
		logger.Error().Msg("schedule requires scan_cron and/or sell_cron (config [schedule] or flags)")
		return 1
	}

	scheduler := cron.New()

	if cfg.Schedule.ScanCron != "" {
		_, err := scheduler.AddFunc(cfg.Schedule.ScanCron, func() {
			service, err := scan.New(cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize scheduled scan")
				return
			}
			code := service.Run(context.Background(), scan.Options{})
			logger.Info().Int("exit", code).Msg("scheduled scan finished")
		})
		if err != nil {
			logger.Error().Err(err).Str("cron", cfg.Schedule.ScanCron).Msg("invalid scan cron expression")
			return 1
		}
	}
	if cfg.Schedule.SellCron != "" {
		_, err := scheduler.AddFunc(cfg.Schedule.SellCron, func() {
			service, err := sell.New(cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize scheduled sell review")
				return
			}
			code := service.Run(context.Background())
			logger.Info().Int("exit", code).Msg("scheduled sell review finished")
		})
		if err != nil {
			logger.Error().Err(err).Str("cron", cfg.Schedule.SellCron).Msg("invalid sell cron expression")
			return 1
		}
	}

	scheduler.Start()
	logger.Info().
		Str("scan_cron", cfg.Schedule.ScanCron).
		Str("sell_cron", cfg.Schedule.SellCron).
		Msg("Scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received")
	<-scheduler.Stop().Done()
	logger.Info().Msg("Scheduler stopped")
	return 0
}
