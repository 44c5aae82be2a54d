package silt

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"slices"
)

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Level is the minimum record level the handler accepts.
	// Nil means slog.LevelInfo.
	Level slog.Leveler

	// Logger is stored as logger_name for records that do not carry a
	// "logger" attribute. Empty means "root".
	Logger string
}

// Handler adapts a Sink to log/slog. Records become events: the level
// is stored on slog's numeric scale, the call site is resolved from
// the record PC, attributes are flattened into the extra set with
// dotted group prefixes, the first error-valued attribute becomes the
// event error (with a stack captured at handle time), and a string
// attribute keyed "logger" overrides the logger name.
type Handler struct {
	sink     *Sink
	level    slog.Leveler
	logger   string
	procID   int
	procName string

	prefix string // dotted prefix from open groups
	attrs  []flatAttr
}

type flatAttr struct {
	key string
	val slog.Value
}

// NewHandler returns a slog handler that emits into s. opts may be nil.
func NewHandler(s *Sink, opts *HandlerOptions) *Handler {
	h := &Handler{
		sink:     s,
		logger:   "root",
		procID:   os.Getpid(),
		procName: processName(),
	}
	if opts != nil {
		h.level = opts.Level
		if opts.Logger != "" {
			h.logger = opts.Logger
		}
	}
	return h
}

func processName() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Base(exe)
}

// Enabled reports whether records at the given level are handled.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

// Handle converts the record to an event and emits it. It always
// returns nil: storage problems downstream are contained by the sink.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ev := Event{
		Time:        r.Time,
		Level:       int(r.Level),
		LevelName:   r.Level.String(),
		Logger:      h.logger,
		Message:     r.Message,
		ProcessID:   h.procID,
		ProcessName: h.procName,
	}

	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		ev.Function = frame.Function
		ev.File = frame.File
		ev.Line = frame.Line
	}

	var extra map[string]any
	add := func(key string, v slog.Value) {
		if ev.Err == nil && v.Kind() == slog.KindAny {
			if err, ok := v.Any().(error); ok {
				ev.Err = err
				return
			}
		}
		if key == "logger" && v.Kind() == slog.KindString {
			ev.Logger = v.String()
			return
		}
		if extra == nil {
			extra = make(map[string]any, len(h.attrs)+r.NumAttrs())
		}
		extra[key] = v.Any()
	}

	for _, fa := range h.attrs {
		add(fa.key, fa.val)
	}
	r.Attrs(func(a slog.Attr) bool {
		flattenAttr(h.prefix, a, add)
		return true
	})

	if ev.Err != nil {
		ev.Stack = string(debug.Stack())
	}
	ev.Extra = extra

	h.sink.Emit(ev)
	return nil
}

// WithAttrs returns a handler whose records carry the given attributes,
// flattened under the currently open groups.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		flattenAttr(h.prefix, a, func(key string, v slog.Value) {
			h2.attrs = append(h2.attrs, flatAttr{key: key, val: v})
		})
	}
	return h2
}

// WithGroup returns a handler that prefixes subsequent attribute keys
// with name and a dot.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := *h
	h2.attrs = slices.Clip(h.attrs)
	return &h2
}

// flattenAttr resolves a and walks group values, emitting leaf
// attributes with dotted keys. Empty-keyed groups inline their members;
// empty leaf attrs are discarded, per the slog handler conventions.
func flattenAttr(prefix string, a slog.Attr, emit func(key string, v slog.Value)) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			flattenAttr(p, ga, emit)
		}
		return
	}
	if a.Key == "" {
		return
	}
	emit(prefix+a.Key, v)
}
