package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger 設定全域 zerolog，ENV=production 時輸出 JSON
func InitLogger(serviceName string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	env := Environment()
	var out io.Writer = os.Stdout
	if env != "production" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", AppConfig.App.AppVersion).
		Str("environment", env).
		Str("hostname", hostname()).
		Logger()

	zerolog.SetGlobalLevel(logLevel(os.Getenv("LOG_LEVEL"), AppConfig.App.LogLevel))
}

// Environment ENV 環境變數，預設 development
func Environment() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// logLevel 環境變數 LOG_LEVEL 優先於 config.yml，無法解析時為 info
func logLevel(fromEnv, fromConfig string) zerolog.Level {
	for _, candidate := range []string{fromEnv, fromConfig} {
		if candidate == "" {
			continue
		}
		if level, err := zerolog.ParseLevel(candidate); err == nil {
			return level
		}
	}
	return zerolog.InfoLevel
}
