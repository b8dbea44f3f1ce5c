package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const appName = "cardlink-agent"

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

// Configure installs the global logger for the process. Later calls are no-ops.
func Configure(level string) {
	configure(ProfileRuntime, level, os.Stdout)
}

func ConfigureTests() {
	configure(ProfileTest, "debug", os.Stderr)
}

func configure(profile Profile, level string, out io.Writer) {
	configureOnce.Do(func() {
		output := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
		if profile == ProfileTest {
			output.NoColor = true
		}
		ctx := zerolog.New(output).With()
		if profile == ProfileRuntime {
			ctx = ctx.Timestamp()
		}
		log.Logger = ctx.Str("app", appName).Logger()
		zerolog.SetGlobalLevel(ParseLevel(level))
	})
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
