package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meanrev/pairsbot/api"
	"github.com/meanrev/pairsbot/internal/config"
	"github.com/meanrev/pairsbot/pkg/binance"
	"github.com/meanrev/pairsbot/pkg/ledger"
	"github.com/meanrev/pairsbot/pkg/trader"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairsbot",
		Short: "Mean-reversion pairs trading bot",
		Long:  `A market-neutral trading bot that trades the rolling z-score of the dollar-neutral spread between two perpetual futures`,
		Run:   runBot,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) {
	// Local development credentials, ignored when absent
	_ = godotenv.Load()

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level and format
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
		logger.Fatal("Binance API credentials are not configured")
	}

	// Create context for the market data stream
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize exchange client and trade ledger
	client := binance.NewFuturesClient(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Testnet, logger)

	tradeLedger, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open trade ledger")
	}

	// Create the trading engine
	engine := trader.NewEngine(cfg, client, tradeLedger, logger)

	// Mark price stream feeds the dashboard only
	symbols := []string{cfg.Trading.Symbol1, cfg.Trading.Symbol2}
	stream := binance.NewMarkPriceStream(symbols, cfg.Binance.Testnet, logger)
	if err := stream.Connect(ctx); err != nil {
		logger.WithError(err).Warn("Mark price stream unavailable, live prices disabled")
	}

	// Start the engine
	if err := engine.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start trading engine")
	}

	// Start API server
	apiServer := api.NewServer(engine, client, stream, tradeLedger, symbols, logger, cfg.Server.Port)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.WithFields(logrus.Fields{
		"symbol1": cfg.Trading.Symbol1,
		"symbol2": cfg.Trading.Symbol2,
		"testnet": cfg.Binance.Testnet,
	}).Info("Pairs bot is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	// Graceful shutdown: the engine closes any open position on the way out
	engine.Stop()
	stream.Close()
	cancel()

	logger.Info("Pairs bot stopped")
}
