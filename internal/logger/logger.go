package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It is usable before Init with logrus
// defaults so that library code and tests never hit a nil logger.
var Log = logrus.New()

// Init configures Log from LOG_LEVEL and LOG_FORMAT. Call once from main.
func Init() {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		level = "info"
	}
	Configure(level, os.Getenv("LOG_FORMAT"))
	Log.SetOutput(os.Stdout)
}

// Configure applies an explicit level and format ("json" or "text").
// Unknown levels fall back to info.
func Configure(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
