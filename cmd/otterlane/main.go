package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ottermq/otterlane/config"
	"github.com/ottermq/otterlane/internal/core/broker"
	"github.com/ottermq/otterlane/pkg/logger"
	"github.com/ottermq/otterlane/web"
)

var (
	VERSION = "dev"
)

// @title Otterlane API
// @version 1.0
// @description Management API for the Otterlane message core
// @host localhost:3000
// @BasePath /api/
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	}

	rootCmd := &cobra.Command{
		Use:          "otterlane",
		Short:        "Multi-protocol message core",
		Long:         "Otterlane stores messages from AMQP 1.0, AMQP 0-9-1 and MQTT producers and delivers them to consumers of any of those protocols.",
		Version:      VERSION,
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (yaml, toml or json)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "otterlane", VERSION)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}

func serve(configFile string) error {
	// Load configuration from .env file, environment variables, config file, or defaults
	cfg, err := config.LoadConfig(VERSION, configFile)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := broker.NewBroker(cfg, ctx, broker.Options{})
	if err != nil {
		return err
	}
	b.Start()

	var webServer *web.WebServer
	if cfg.EnableWebAPI {
		webServer, err = web.NewWebServer(&web.Config{
			Username:         cfg.Username,
			Password:         cfg.Password,
			JwtKey:           cfg.JwtSecret,
			JwtTTL:           cfg.JwtTTL,
			WebServerPort:    cfg.WebPort,
			ApiPrefix:        cfg.ApiPrefix,
			EnableMetrics:    cfg.EnableMetrics,
			MetricsNamespace: cfg.MetricsNamespace,
		}, b)
		if err != nil {
			return err
		}

		// open "server.log" for appending
		logfile, err := os.OpenFile(filepath.Join(cfg.DataDir, "server.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open access log: %w", err)
		}
		defer logfile.Close()

		webServer.SetupApp(logfile)
		go func() {
			if err := webServer.Listen(); err != nil {
				log.Error().Err(err).Msg("Web server error")
			}
		}()
	} else {
		log.Info().Msg("Web API disabled - skipping web server initialization")
	}

	// Handle OS signals for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("Shutting down Otterlane...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if webServer != nil {
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown web server")
		}
	}
	if err := b.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown broker")
		return err
	}
	log.Info().Msg("Server gracefully stopped")
	return nil
}
