package llm

import (
	"log/slog"

	"github.com/sternelee/forge-agent/internal/logging"
)

// SetLogLevel sets the log level for the entire go-agent library.
// The level is global to the process. Of the LLM providers only Gemini logs through it;
// Claude and OpenAI print debug output with the standard log package, gated on their
// WithDebug option or on GO_AGENT_DEBUG being exactly "1".
//
// Common levels:
//   - slog.LevelError: Only errors
//   - slog.LevelWarn: Warnings and errors (default)
//   - slog.LevelInfo: Informational messages, warnings, and errors
//   - slog.LevelDebug: Verbose debugging output
//
// This can also be controlled via the GO_AGENT_DEBUG environment variable:
//   - 0 = Error
//   - 1 = Warn (default)
//   - 2 = Info
//   - 3 = Debug
func SetLogLevel(level slog.Level) {
	logging.SetLogLevel(level)
}
