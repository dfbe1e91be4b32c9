package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/jgriss/fusionsolar2mqtt/internal/adapter/actor"
	"github.com/jgriss/fusionsolar2mqtt/internal/adapter/source"
	"github.com/jgriss/fusionsolar2mqtt/internal/adapter/store"
	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/actor"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/service"
	"github.com/jgriss/fusionsolar2mqtt/internal/metrics"
	"github.com/jgriss/fusionsolar2mqtt/internal/server"
	"github.com/jgriss/fusionsolar2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// metric state store
	stateStore, err := store.Open(context.Background(), cfg.StateConfig, logger)
	if err != nil {
		logger.Fatal("could not open state store", zap.String("backend", cfg.StateConfig.Backend), zap.Error(err))
	}
	defer stateStore.Close()

	pollMetrics := metrics.NewPollMetrics()

	reconciler := service.NewReconciler(service.ReconcilerConfig{
		Credentials:            cfg.FusionSolar.Credentials(),
		FetchTimeout:           cfg.MonitorConfig.FetchTimeout(),
		MaxConsecutiveFailures: int(cfg.MonitorConfig.MaxConsecutiveFailures),
	}, source.NewFusionSolarFactory(cfg.MonitorConfig.FetchTimeout(), logger), stateStore, logger,
		service.WithPollMetrics(pollMetrics))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, reconciler, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Fatal("could not spawn master actor", zap.Error(err))
	}

	watchCredentials(cfg, ctx, pid, logger)

	server := server.NewServer(*cfg, ctx, pid, pollMetrics.Handler())
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master actor did not stop cleanly", zap.Error(err))
	}
	as.Shutdown()
}

// watchCredentials resumes polling with the new account credentials whenever
// the config file changes them.
func watchCredentials(cfg *config.Config, rootContext *pactor.RootContext, master *pactor.PID, logger *zap.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	current := cfg.FusionSolar.Credentials()
	viper.OnConfigChange(func(e fsnotify.Event) {
		var fsCfg config.FusionSolarConfig
		if err := viper.UnmarshalKey("fusionsolar", &fsCfg); err != nil {
			logger.Error("config: could not reload fusionsolar section", zap.String("file", e.Name), zap.Error(err))
			return
		}
		creds := fsCfg.Credentials()
		if creds == current {
			return
		}
		if creds.Username == "" || creds.Password == "" {
			logger.Warn("config: ignoring incomplete fusionsolar credentials", zap.String("file", e.Name))
			return
		}
		logger.Info("config: fusionsolar credentials changed", zap.String("username", creds.Username))
		current = creds
		rootContext.Send(master, domain.ReauthenticateRequest{Credentials: creds})
	})
	viper.WatchConfig()
}

func initConfig() (*config.Config, error) {

	// alias PORT => FUSIONSOLAR_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("FUSIONSOLAR_PORT", port)
	}

	setConfigDefaults()

	// mqtt.host => FUSIONSOLAR_MQTT_HOST
	viper.SetEnvPrefix("fusionsolar")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) pactor.Actor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("fusionsolar.username", "")
	viper.SetDefault("fusionsolar.password", "")
	viper.SetDefault("fusionsolar.subdomain", "region03eu5")
	viper.SetDefault("monitor.poll_interval_seconds", 240)
	viper.SetDefault("monitor.fetch_timeout_seconds", 60)
	viper.SetDefault("monitor.max_consecutive_failures", 2)
	viper.SetDefault("state.backend", config.STATE_BACKEND_FILE)
	viper.SetDefault("state.path", "fusionsolar_state.json")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "fusionsolar")
	viper.SetDefault("mqtt.ha_discovery_enable", true)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.FusionSolar.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
