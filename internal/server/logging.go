package server

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets the level and formatter of the process-wide logger.
// Unknown levels fall back to info, unknown formats to text.
func ConfigureLogging(level, format string) {
	log.SetOutput(os.Stdout)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
