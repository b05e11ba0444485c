package gologger

import (
	"context"
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologProvider backs glog loggers with zerolog. Each named logger carries
// its name in the component field.
type ZerologProvider struct {
	base zerolog.Logger
}

func NewZerologProvider(w io.Writer, level string) *ZerologProvider {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return &ZerologProvider{base: zerolog.New(w).Level(parsed).With().Timestamp().Logger()}
}

func (p *ZerologProvider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	logger := p.base
	if name = strings.TrimSpace(name); name != "" {
		logger = logger.With().Str("component", name).Logger()
	}
	return zerologLogger{log: logger}
}

type zerologLogger struct {
	log zerolog.Logger
}

func (l zerologLogger) Trace(msg string, args ...any) { l.emit(l.log.Trace(), msg, args) }
func (l zerologLogger) Debug(msg string, args ...any) { l.emit(l.log.Debug(), msg, args) }
func (l zerologLogger) Info(msg string, args ...any)  { l.emit(l.log.Info(), msg, args) }
func (l zerologLogger) Warn(msg string, args ...any)  { l.emit(l.log.Warn(), msg, args) }
func (l zerologLogger) Error(msg string, args ...any) { l.emit(l.log.Error(), msg, args) }

// Fatal logs at fatal level without exiting; the caller owns shutdown.
func (l zerologLogger) Fatal(msg string, args ...any) {
	l.emit(l.log.WithLevel(zerolog.FatalLevel), msg, args)
}

func (l zerologLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return zerologLogger{log: l.log.With().Ctx(ctx).Logger()}
}

func (l zerologLogger) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		event = event.Interface(key, args[i+1])
	}
	if len(args)%2 == 1 {
		event = event.Interface("extra", args[len(args)-1])
	}
	event.Msg(msg)
}
