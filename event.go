package silt

import "time"

// Event is one structured log event as handed to the sink. Fields the
// producer does not know stay zero and project to NULL columns.
type Event struct {
	// Time is when the event was logged. Emit fills a zero Time with
	// the current time.
	Time time.Time

	// Level is the producing framework's numeric severity; LevelName
	// is its spelling ("INFO", "ERROR", ...).
	Level     int
	LevelName string

	// Logger is the producing logger's name.
	Logger string

	// Message is the raw message text. When the sink has a Formatter
	// configured, the stored message is rendered from the whole event
	// instead.
	Message string

	// Function is the fully qualified call-site function, for example
	// "github.com/acme/app/server.(*Server).run". File and Line locate
	// the call site in source.
	Function string
	File     string
	Line     int

	ProcessID   int
	ProcessName string

	// ThreadID and ThreadName carry the producer's worker identity
	// when it has one to report.
	ThreadID   int64
	ThreadName string

	// Err is the event's error context, if any. Stack optionally
	// carries a trace formatted at the log site; it is stored
	// verbatim. The slog handler fills both when it sees an
	// error-valued attribute.
	Err   error
	Stack string

	// Extra holds free-form attributes. A value whose key matches a
	// declared additional column is stored in that column; the rest
	// are JSON-encoded together into the extra column.
	Extra map[string]any
}
