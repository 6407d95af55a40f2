package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

// readConfig читает конфигурацию из окружения и закрепляет роль процесса.
func readConfig() (app.Config, error) {
	if err := app.LoadDotEnv(); err != nil {
		return app.Config{}, err
	}
	cfg, err := app.ConfigFromEnv()
	if err != nil {
		return app.Config{}, err
	}
	cfg.Role = app.RoleInventory
	return cfg, nil
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	if err := app.SetupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("некорректные настройки логирования")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем inventory-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("inventory-service остановлен")
}
