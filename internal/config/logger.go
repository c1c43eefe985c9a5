package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// An unknown level falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if c.Logging.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}
