package observability

import (
	"strings"

	"github.com/smallbiznis/tokenmeter/internal/config"
	"github.com/spf13/viper"
)

const (
	defaultServiceName   = "tokenmeter"
	defaultSamplingRatio = 0.1
)

// Config drives the logger, tracer and meter providers.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig overlays OTEL_* and LOG_* variables on the application config.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", defaultSamplingRatio)

	out := Config{
		ServiceName:          cfg.AppName,
		Environment:          v.GetString("DEPLOYMENT_ENV"),
		Version:              v.GetString("SERVICE_VERSION"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelExporterProtocol: v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL"),
		OtelSamplingRatio:    v.GetFloat64("OTEL_SAMPLING_RATIO"),
	}
	return out.normalized()
}

func (c Config) normalized() Config {
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.Environment = strings.TrimSpace(c.Environment)
	c.Version = strings.TrimSpace(c.Version)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.OtelExporterEndpoint = strings.TrimSpace(c.OtelExporterEndpoint)
	c.OtelExporterProtocol = strings.ToLower(strings.TrimSpace(c.OtelExporterProtocol))
	if c.OtelSamplingRatio < 0 || c.OtelSamplingRatio > 1 {
		c.OtelSamplingRatio = defaultSamplingRatio
	}
	return c
}

// Debug reports whether development logging should be used.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
