package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"charge-controller/internal/api"
	"charge-controller/internal/charging"
	"charge-controller/internal/config"
	"charge-controller/internal/models"
	"charge-controller/internal/mqtt"
	"charge-controller/internal/ocpp"
	"charge-controller/internal/teleinfo"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "charge-controller",
	Short: "EV charger current controller driven by grid power",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("strategy", "", "charging strategy override (auto, car, battery)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("charging.strategy", rootCmd.PersistentFlags().Lookup("strategy"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logger.SetLevel(level)

	logger.Infof("Starting charge controller (strategy %s, suspend %ds)", cfg.Charging.Strategy, cfg.Charging.SuspendTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := models.NewReadingStore(cfg.Charging.EnableOnStart, cfg.Charging.DynamicOnStart)

	var actuators charging.MultiActuator

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(cfg, logger, store)
		if err != nil {
			return fmt.Errorf("failed to create MQTT client: %w", err)
		}
		actuators = append(actuators, mqttClient)
	}

	var ocppServer *ocpp.Server
	if cfg.OCPP.Enabled {
		ocppServer = ocpp.NewServer(cfg, logger, store)
		actuators = append(actuators, ocppServer)
	}

	chargingManager, err := charging.NewManager(cfg, logger, store, actuators)
	if err != nil {
		return err
	}

	if mqttClient != nil {
		mqttClient.SetStatusCallback(chargingManager.NotifyStatus)
	}
	if ocppServer != nil {
		ocppServer.SetStatusCallback(chargingManager.NotifyStatus)
		chargingManager.AddStatusSource("ocpp", ocppServer)
	}

	var wg sync.WaitGroup

	if cfg.Server.Enabled {
		apiServer := api.NewServer(cfg, logger, chargingManager)
		chargingManager.SetUpdateCallback(apiServer.Publish)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				logger.Errorf("HTTP server error: %v", err)
				cancel()
			}
		}()
	}

	if ocppServer != nil {
		go ocppServer.Start()
	}

	if cfg.Teleinfo.Enabled {
		reader := teleinfo.NewReader(cfg, logger, store)
		chargingManager.AddStatusSource("teleinfo", reader)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Supervise(ctx); err != nil {
				logger.Errorf("Teleinfo error: %v", err)
			}
		}()
	}

	if mqttClient != nil {
		if err := mqttClient.Connect(); err != nil {
			return err
		}
		defer mqttClient.Disconnect()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		chargingManager.Start(ctx)
	}()

	logger.Info("All services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down...")
	cancel()

	if ocppServer != nil {
		ocppServer.Stop()
	}

	wg.Wait()
	logger.Info("Shutdown complete")
	return nil
}
