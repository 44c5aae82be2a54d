package silt

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/siltlog/silt/internal/store"
)

// Column is one caller-declared additional table column: identifier
// plus declared SQL type, appended to the base schema in declaration
// order.
type Column = store.Column

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultTable             = "logs"
	DefaultCapacity          = 1000
	DefaultFlushInterval     = 5 * time.Second
	DefaultStopTimeout       = time.Second
	DefaultRetentionSchedule = "@hourly"
)

// identRe matches identifiers safe to embed in DDL.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config describes one sink. Zero fields take the defaults above; the
// whole configuration is fixed once the sink is created.
type Config struct {
	// Path is the SQLite database file. Parent directories are
	// created as needed.
	Path string

	// Table is the destination table name.
	Table string

	// Capacity is the buffered-event count that triggers an inline
	// flush on the emitting goroutine.
	Capacity int

	// FlushInterval is the background flush period. Zero means
	// DefaultFlushInterval; a negative value disables the background
	// loop, leaving capacity-triggered and explicit flushes only.
	FlushInterval time.Duration

	// StopTimeout bounds how long Close waits for the background
	// loop to exit before proceeding with the final flush.
	StopTimeout time.Duration

	// Columns declares additional typed columns after the base set.
	// They are populated from extra attributes with matching keys.
	// Declared columns never alter a table that already exists.
	Columns []Column

	// Formatter renders the stored message from a whole event; nil
	// stores Event.Message as-is.
	Formatter Formatter

	// Retention enables age-based pruning when MaxAge is positive.
	Retention Retention
}

// Retention configures scheduled deletion of old rows.
type Retention struct {
	// MaxAge is how long rows are kept. Zero disables pruning.
	MaxAge time.Duration

	// Schedule is a cron expression (descriptors such as "@hourly"
	// and "@every 30m" allowed) controlling when pruning runs. Empty
	// means DefaultRetentionSchedule.
	Schedule string
}

func (c *Config) applyDefaults() {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Retention.MaxAge > 0 && c.Retention.Schedule == "" {
		c.Retention.Schedule = DefaultRetentionSchedule
	}
}

// validate collects every fault before reporting, so a broken config
// is fixed in one round trip.
func (c *Config) validate() error {
	var errs []string

	if c.Path == "" {
		errs = append(errs, "Path must not be empty")
	}
	if !identRe.MatchString(c.Table) {
		errs = append(errs, fmt.Sprintf("Table: invalid identifier %q", c.Table))
	}

	seen := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		if !identRe.MatchString(col.Name) {
			errs = append(errs, fmt.Sprintf("Columns: invalid identifier %q", col.Name))
			continue
		}
		if store.IsBaseColumn(col.Name) {
			errs = append(errs, fmt.Sprintf("Columns: %q collides with a base column", col.Name))
		}
		if seen[col.Name] {
			errs = append(errs, fmt.Sprintf("Columns: duplicate column %q", col.Name))
		}
		seen[col.Name] = true
		if strings.TrimSpace(col.Type) == "" || strings.ContainsAny(col.Type, ";\n\r") {
			errs = append(errs, fmt.Sprintf("Columns: %q has invalid declared type %q", col.Name, col.Type))
		}
	}

	if c.Retention.MaxAge < 0 {
		errs = append(errs, "Retention.MaxAge must not be negative")
	}
	if c.Retention.MaxAge > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("Retention.Schedule: invalid cron expression %q: %v", c.Retention.Schedule, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
