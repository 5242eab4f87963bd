package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sonos-orchestrator/internal/actionlog"
	"sonos-orchestrator/internal/config"
	"sonos-orchestrator/internal/logger"
	"sonos-orchestrator/internal/notify"
	"sonos-orchestrator/internal/scene"
	"sonos-orchestrator/internal/scheduler"
	"sonos-orchestrator/internal/sonos"
	"sonos-orchestrator/internal/store"
)

var (
	configPath = "./config.yaml"
	dbPath     = ""
	logLevel   = ""
)

func main() {
	// Broker credentials may live in a local .env file.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "sonos-orchestrator",
		Short: "Scene orchestration and playback scheduling for Sonos speakers",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", configPath, "Bootstrap config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", dbPath, "Database file path (default: <data_dir>/sonos.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level (debug, info, warn, error), overrides config")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(applySceneCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(initConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Fatal error: %v", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration server",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runServer(); err != nil {
				logger.Error("Server error: %v", err)
				os.Exit(1)
			}
		},
	}
}

func applySceneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-scene <scene-id>",
		Short: "Apply a stored scene once and exit",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runApplyScene(args[0]); err != nil {
				logger.Error("%v", err)
				os.Exit(1)
			}
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent orchestration activity",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runHistory(limit); err != nil {
				logger.Error("%v", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a commented default config file",
		Run: func(cmd *cobra.Command, args []string) {
			if err := config.Generate(configPath); err != nil {
				logger.Error("%v", err)
				os.Exit(1)
			}
			fmt.Println("Wrote", configPath)
		},
	}
}

// loadConfig reads the bootstrap file, applies flag overrides and
// initializes the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logger.INFO
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using INFO\n", cfg.LogLevel)
	}
	logger.Init(level, cfg.LogColors)

	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	path := dbPath
	if path == "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path = cfg.DatabasePath()
	}
	return store.Open(path)
}

func newConnector(cfg *config.Config) *sonos.Connector {
	connector := sonos.NewConnector()
	connector.Port = cfg.SonosPort
	return connector
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("Starting Sonos orchestration server...")

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Error closing store: %v", err)
		}
	}()

	alog, err := actionlog.New(st.Bolt())
	if err != nil {
		return err
	}
	connector := newConnector(cfg)

	var notifier *notify.Notifier
	if cfg.MQTT.Broker != "" {
		notifier, err = notify.New(notify.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			logger.Warn("Notifications disabled: %v", err)
			notifier = nil
		} else {
			defer notifier.Close()
			logger.Info("MQTT connected")
		}
	}

	var sceneNotifier scene.Notifier
	if notifier != nil {
		sceneNotifier = notifier
	}
	engine := scene.New(connector, st, alog, sceneNotifier)
	defer engine.Shutdown()

	windowLoop := scheduler.NewWindowLoop(st, connector, engine, alog)
	windowLoop.Interval = cfg.PollInterval()
	dailyLoop := scheduler.NewDailyLoop(st, connector, alog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		windowLoop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dailyLoop.Run(ctx)
	}()

	logger.Info("Server is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	logger.Info("Shutting down...")
	wg.Wait()
	return nil
}

func runApplyScene(sceneID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	alog, err := actionlog.New(st.Bolt())
	if err != nil {
		return err
	}
	engine := scene.New(newConnector(cfg), st, alog, nil)
	defer engine.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res, err := engine.ApplyByID(ctx, sceneID, "cli")
	if err != nil {
		return fmt.Errorf("apply cancelled: %w", err)
	}

	fmt.Println(res.Message)
	if res.RecoveryActivated {
		fmt.Println("Recovery rule was activated.")
	}
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

func runHistory(limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	alog, err := actionlog.New(st.Bolt())
	if err != nil {
		return err
	}
	entries, err := alog.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No activity recorded yet.")
		return nil
	}

	for _, e := range entries {
		by := e.PerformedBy
		if by == "" {
			by = "system"
		}
		fmt.Printf("%s  %-22s %-20s %s\n", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, by, e.Details)
	}
	return nil
}
