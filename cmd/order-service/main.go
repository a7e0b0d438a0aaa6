package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-service/internal/app"
	"github.com/vladislavdragonenkov/orders-service/internal/version"
)

// Переменные окружения для переопределения конфигурации.
const (
	envMetricsAddr          = "ORDERS_METRICS_ADDR"
	envStorageDriver        = "ORDERS_STORAGE_DRIVER"
	envPostgresDSN          = "ORDERS_POSTGRES_DSN"
	envPostgresAutoMigrate  = "ORDERS_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers         = "ORDERS_KAFKA_BROKERS"
	envValidateRequestTopic = "ORDERS_VALIDATE_REQUEST_TOPIC"
	envValidateReplyTopic   = "ORDERS_VALIDATE_REPLY_TOPIC"
	envValidateTimeout      = "ORDERS_VALIDATE_TIMEOUT"
	envAllowMockCatalog     = "ORDERS_ALLOW_MOCK_CATALOG"
	envOutboxPollInterval   = "ORDERS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize      = "ORDERS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts    = "ORDERS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay     = "ORDERS_OUTBOX_RETRY_DELAY"
)

// envLookup позволяет подменять чтение окружения в тестах.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv формирует конфигурацию приложения из переменных
// окружения. Некорректные значения не прерывают запуск: поле остаётся
// со значением по умолчанию, а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	if v, ok := lookup(envMetricsAddr); ok && strings.TrimSpace(v) != "" {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envPostgresDSN); ok && strings.TrimSpace(v) != "" {
		cfg.PostgresDSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = strings.TrimSpace(v)
	}
	if v, ok := lookup(envValidateRequestTopic); ok && strings.TrimSpace(v) != "" {
		cfg.ValidateRequestTopic = strings.TrimSpace(v)
	}
	if v, ok := lookup(envValidateReplyTopic); ok && strings.TrimSpace(v) != "" {
		cfg.ValidateReplyTopic = strings.TrimSpace(v)
	}
	if v, ok := lookup(envValidateTimeout); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0"); err != nil {
			warn(envValidateTimeout, v, err)
		} else {
			cfg.ValidateTimeout = parsed
		}
	}
	if v, ok := lookup(envAllowMockCatalog); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envAllowMockCatalog, v, err)
		} else {
			cfg.AllowMockCatalog = parsed
		}
	}
	if v, ok := lookup(envOutboxPollInterval); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0"); err != nil {
			warn(envOutboxPollInterval, v, err)
		} else {
			cfg.OutboxPollInterval = parsed
		}
	}
	if v, ok := lookup(envOutboxBatchSize); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envOutboxBatchSize, v, err)
		} else {
			cfg.OutboxBatchSize = parsed
		}
	}
	if v, ok := lookup(envOutboxMaxAttempts); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envOutboxMaxAttempts, v, err)
		} else {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if v, ok := lookup(envOutboxRetryDelay); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0"); err != nil {
			warn(envOutboxRetryDelay, v, err)
		} else {
			cfg.OutboxRetryDelay = parsed
		}
	}

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(raw string, valid func(int) bool, constraint string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value")
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", constraint)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, constraint string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value")
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", constraint)
	}
	return value, nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	setupLogger()

	// .env подхватывается только если существует.
	_ = godotenv.Load()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_brokers":  cfg.KafkaBrokers,
		"version":        version.GetVersion(),
	}).Info("starting orders service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("service exited with error")
	}

	log.Info("orders service stopped")
}
