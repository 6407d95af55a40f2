package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SetupLogger настраивает глобальный logrus: уровень и формат text|json.
func SetupLogger(level, format string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (use text|json)", format)
	}

	log.SetLevel(lvl)
	return nil
}
