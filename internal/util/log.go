package util

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds a leveled logger writing to stderr. Stdout is
// reserved for the primary result channel and must stay clean.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil { lvl = zerolog.InfoLevel }
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}
