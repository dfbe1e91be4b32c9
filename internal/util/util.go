package util

import (
	"github.com/jgriss/fusionsolar2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		FusionSolar: config.FusionSolarConfig{
			Username:  "test@example.com",
			Password:  "secret",
			Subdomain: "region01eu5",
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "fusionsolar",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalSeconds:    60,
			FetchTimeoutSeconds:    30,
			MaxConsecutiveFailures: 2,
		},
		StateConfig: config.StateConfig{
			Backend: config.STATE_BACKEND_MEMORY,
		},
		Port: 8080,
	}
}
