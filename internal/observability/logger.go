package observability

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger.
// Only the first call takes effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		logLevel, err := zerolog.ParseLevel(level)
		if err != nil || level == "" {
			logLevel = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(logLevel)

		if pretty {
			// Pretty console output for development
			output := zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
			globalLogger = zerolog.New(output).With().Timestamp().Logger()
		} else {
			globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		}

		log.Logger = globalLogger
	})
}

// GetLogger returns the global logger, initializing it with defaults if needed
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// WithComponent returns a logger tagged with the component name
func WithComponent(component string) zerolog.Logger {
	return GetLogger().With().Str("component", component).Logger()
}

// WithSessionID returns a logger tagged with a session ID, generating one when empty
func WithSessionID(logger zerolog.Logger, sessionID string) zerolog.Logger {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return logger.With().Str("session_id", sessionID).Logger()
}

// NewSessionID generates a new session ID
func NewSessionID() string {
	return "sess-" + uuid.New().String()
}
