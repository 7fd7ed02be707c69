// Package logging configures the process-wide logrus logger.
//
// Components log through For(component), which tags every entry with a
// "component" field; messages keep the short "component: what happened"
// register with details as fields.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init sets the level and formatter of the standard logrus logger. Unknown
// levels fall back to info; format "json" selects the JSON formatter and
// anything else the text formatter.
func Init(level, format string) {
	InitTo(os.Stderr, level, format)
}

// InitTo is Init with an explicit output, used by tests.
func InitTo(w io.Writer, level, format string) {
	lg := logrus.StandardLogger()
	lg.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		lg.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		lg.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	if err != nil && level != "" {
		lg.WithField("level", level).Warn("logging: unknown level, using info")
	}
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
