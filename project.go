package silt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/siltlog/silt/internal/store"
)

// Formatter renders the stored message from a whole event. When nil,
// Event.Message is stored as-is.
type Formatter func(Event) string

// projector turns events into insert rows aligned with the gateway's
// column order. Names in that order beyond the fixed base set are the
// declared columns extras route into. The column set is fixed for the
// sink's lifetime, so every row in a batch has the same shape.
type projector struct {
	format     Formatter
	columns    []string
	additional map[string]bool
}

func newProjector(format Formatter, columns []string) *projector {
	set := make(map[string]bool)
	for _, c := range columns {
		if !store.IsBaseColumn(c) {
			set[c] = true
		}
	}
	return &projector{format: format, columns: columns, additional: set}
}

// Row projects one event into insert values. It never panics: the
// formatter and value stringification run guarded, and anything the
// event cannot supply stays NULL.
func (p *projector) Row(ev Event) []any {
	values := map[string]any{
		"created_at": ev.Time.UTC().Format(store.TimeLayout),
		"level":      ev.Level,
		"message":    renderMessage(p.format, ev),
	}
	if ev.LevelName != "" {
		values["level_name"] = ev.LevelName
	}
	if ev.Logger != "" {
		values["logger_name"] = ev.Logger
	}
	if ev.Function != "" {
		pkg, fn := splitFunction(ev.Function)
		values["function_name"] = fn
		if pkg != "" {
			values["module"] = pkg
		}
	}
	if ev.File != "" {
		values["filename"] = ev.File
	}
	if ev.Line > 0 {
		values["line_number"] = ev.Line
	}
	if ev.ProcessID != 0 {
		values["process_id"] = ev.ProcessID
	}
	if ev.ProcessName != "" {
		values["process_name"] = ev.ProcessName
	}
	if ev.ThreadID != 0 {
		values["thread_id"] = ev.ThreadID
	}
	if ev.ThreadName != "" {
		values["thread_name"] = ev.ThreadName
	}
	if ev.Err != nil {
		values["exception"] = stringify(ev.Err)
	}
	if ev.Stack != "" {
		values["stack_trace"] = ev.Stack
	}

	var extras map[string]any
	for k, v := range ev.Extra {
		if store.IsBaseColumn(k) {
			continue // already represented by a named column
		}
		if p.additional[k] {
			values[k] = v
			continue
		}
		if extras == nil {
			extras = make(map[string]any, len(ev.Extra))
		}
		extras[k] = jsonSafe(v)
	}
	if len(extras) > 0 {
		// Every value above is either marshal-clean or already text,
		// so this cannot fail; if it somehow does, extra degrades to
		// NULL.
		if b, err := json.Marshal(extras); err == nil {
			values["extra"] = string(b)
		}
	}

	row := make([]any, len(p.columns))
	for i, c := range p.columns {
		if v, ok := values[c]; ok {
			row[i] = v
		}
	}
	return row
}

// splitFunction splits a fully qualified function name into its
// package path and bare function name, e.g.
// "github.com/acme/app/server.(*Server).run" ->
// ("github.com/acme/app/server", "(*Server).run").
func splitFunction(fn string) (pkg, name string) {
	slash := strings.LastIndex(fn, "/")
	dot := strings.Index(fn[slash+1:], ".")
	if dot < 0 {
		return "", fn
	}
	dot += slash + 1
	return fn[:dot], fn[dot+1:]
}

// renderMessage runs the formatter guarded; a panicking formatter
// falls back to the raw message.
func renderMessage(f Formatter, ev Event) (msg string) {
	if f == nil {
		return ev.Message
	}
	defer func() {
		if r := recover(); r != nil {
			msg = ev.Message
		}
	}()
	return f(ev)
}

// jsonSafe returns v when it JSON-encodes with its content intact, and
// its textual form otherwise. Error values without a custom marshaler
// encode to "{}" (their fields are unexported), so those degrade to
// text as well.
func jsonSafe(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = stringify(v)
		}
	}()
	b, err := json.Marshal(v)
	if err != nil {
		return stringify(v)
	}
	if _, ok := v.(error); ok && string(b) == "{}" {
		return stringify(v)
	}
	return v
}

// stringify is the textual fallback for values that cannot be
// JSON-encoded, guarded against panicking String and Error
// implementations.
func stringify(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T(unprintable)", v)
		}
	}()
	return fmt.Sprint(v)
}
