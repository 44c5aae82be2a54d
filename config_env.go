package silt

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigFromEnv builds a Config from SILT_-prefixed environment
// variables:
//
//	SILT_PATH                database file (required)
//	SILT_TABLE               table name
//	SILT_CAPACITY            buffer capacity
//	SILT_FLUSH_INTERVAL      Go duration; negative disables the loop
//	SILT_STOP_TIMEOUT        Go duration
//	SILT_COLUMNS             additional columns as "name:TYPE,name:TYPE"
//	SILT_RETENTION_MAX_AGE   Go duration; zero disables pruning
//	SILT_RETENTION_SCHEDULE  cron expression
//
// Unset variables stay zero and take the usual defaults when the sink
// is created.
func ConfigFromEnv() (Config, error) {
	var errs []string
	cfg := Config{}

	cfg.Path = envStr("SILT_PATH", "")
	cfg.Table = envStr("SILT_TABLE", "")
	cfg.Capacity = envInt("SILT_CAPACITY", 0, &errs)
	cfg.FlushInterval = envDuration("SILT_FLUSH_INTERVAL", 0, &errs)
	cfg.StopTimeout = envDuration("SILT_STOP_TIMEOUT", 0, &errs)
	cfg.Columns = envColumns("SILT_COLUMNS", &errs)
	cfg.Retention.MaxAge = envDuration("SILT_RETENTION_MAX_AGE", 0, &errs)
	cfg.Retention.Schedule = envStr("SILT_RETENTION_SCHEDULE", "")

	if cfg.Path == "" {
		errs = append(errs, "SILT_PATH must be set")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("env config invalid:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

// envColumns parses comma-separated "name:TYPE" pairs.
func envColumns(key string, errs *[]string) []Column {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var cols []Column
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		name, typ = strings.TrimSpace(name), strings.TrimSpace(typ)
		if !ok || name == "" || typ == "" {
			*errs = append(*errs, fmt.Sprintf("%s: invalid column %q (want name:TYPE)", key, part))
			continue
		}
		cols = append(cols, Column{Name: name, Type: typ})
	}
	return cols
}
