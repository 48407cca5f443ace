package utils

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logSink is the single destination of every logger handed out by GetLogger,
// so redirecting it also moves loggers that components already hold.
type logSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *logSink) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

var sink = &logSink{out: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}}

func init() {
	log.Logger = zerolog.New(sink).With().Timestamp().Logger()
}

func InitLogger(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	sink.set(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	})
}

func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// SetLogOutput redirects logging, used while the live display owns the terminal.
func SetLogOutput(w io.Writer) {
	sink.set(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	})
}
