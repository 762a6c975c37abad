package log

import (
	"runtime"

	"github.com/rs/zerolog"
)

// stackHook attaches a call stack to error-level and above events.
type stackHook struct{}

func (h *stackHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.ErrorLevel {
		return
	}

	st := traces(5)
	arr := zerolog.Arr()
	for _, s := range st {
		arr.Dict(zerolog.Dict().
			Int("line", s.Line).
			Str("file", s.File).
			Str("function", s.Function),
		)
	}
	e.Array("stack", arr)
}

type stackTrace struct {
	Line     int
	File     string
	Function string
}

func traces(skip int) []stackTrace {
	const depth = 64
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	st := make([]stackTrace, 0, n)
	for {
		frame, ok := frames.Next()
		st = append(st, stackTrace{
			Line:     frame.Line,
			File:     frame.File,
			Function: frame.Function,
		})
		if !ok {
			break
		}
	}

	return st
}
