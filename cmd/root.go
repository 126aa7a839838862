package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/mqttdemo/app"
	"github.com/kilianp07/mqttdemo/config"
	"github.com/kilianp07/mqttdemo/infra/logger"
)

var (
	cfgPath  string
	interval time.Duration
	count    int
)

var rootCmd = &cobra.Command{
	Use:           "mqttdemo",
	Short:         "MQTT telemetry demo client",
	Long:          "Connects to an MQTT broker, prints commands received on the command topic and publishes synthetic temperature and humidity readings.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "pause between publishes (overrides telemetry.interval_ms)")
	rootCmd.Flags().IntVar(&count, "count", 0, "stop after this many publishes (overrides telemetry.count)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") {
		cfg.Telemetry.IntervalMS = int(interval / time.Millisecond)
	}
	if cmd.Flags().Changed("count") {
		cfg.Telemetry.Count = count
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return err
	}
	return serve(cfg, (*app.Service).Run)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve builds the Service and runs fn until SIGINT/SIGTERM or fn returns.
func serve(cfg *config.Config, fn func(*app.Service, context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return fn(svc, ctx)
}
