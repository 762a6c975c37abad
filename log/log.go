package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/constant"
)

// NewDefault is the logger used before configuration is loaded: pretty
// output at info level.
func NewDefault() zerolog.Logger {
	return build(console(), zerolog.InfoLevel)
}

func FromConfig(conf config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.Level)
	if nil != err {
		panic("invalid logging level: " + conf.Level)
	}

	switch strings.ToLower(conf.Format) {
	case "json":
		return build(os.Stderr, level)
	case "pretty":
		return build(console(), level)
	default:
		panic("invalid logging format: " + conf.Format)
	}
}

func console() io.Writer {
	return zerolog.ConsoleWriter{ //nolint:exhaustruct
		Out:          os.Stderr,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.UTC,
	}
}

func build(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.
		New(w).
		Hook(&stackHook{}).
		With().
		Timestamp().
		Str("version", constant.Version).
		Str("compile_time", constant.CompileTime).
		Logger().
		Level(level)
}
