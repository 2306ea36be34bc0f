package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// Set via BPETOK_DEBUG in the environment
	Debug bool
	// Set via BPETOK_SHARED in the environment
	Shared bool
	// Set via BPETOK_CACHE_SIZE in the environment
	CacheSize int
	// Set via BPETOK_CONCURRENCY in the environment
	Concurrency int
	// Set via BPETOK_PATTERN in the environment
	Pattern string
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BPETOK_DEBUG":       {"BPETOK_DEBUG", Debug, "Show additional debug information (e.g. BPETOK_DEBUG=1)"},
		"BPETOK_SHARED":      {"BPETOK_SHARED", Shared, "Back the merge cache with the concurrent map so one tokenizer can be shared across goroutines"},
		"BPETOK_CACHE_SIZE":  {"BPETOK_CACHE_SIZE", CacheSize, "Maximum number of cached merge results, 0 for unbounded (default 0)"},
		"BPETOK_CONCURRENCY": {"BPETOK_CONCURRENCY", Concurrency, "Number of lock stripes in the shared merge cache, 0 starts at GOMAXPROCS and grows under contention (default 0)"},
		"BPETOK_PATTERN":     {"BPETOK_PATTERN", Pattern, "Pretokenizer preset (gpt2, cl100k, o200k) or a raw pattern"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	// default values
	Debug = false
	Shared = false
	CacheSize = 0
	Concurrency = 0
	Pattern = ""

	if debug := clean("BPETOK_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	if shared := clean("BPETOK_SHARED"); shared != "" {
		s, err := strconv.ParseBool(shared)
		if err != nil {
			slog.Error("invalid setting, ignoring", "BPETOK_SHARED", shared, "error", err)
		} else {
			Shared = s
		}
	}

	if size := clean("BPETOK_CACHE_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 0 {
			slog.Error("invalid setting must be zero or greater", "BPETOK_CACHE_SIZE", size, "error", err)
		} else {
			CacheSize = n
		}
	}

	if level := clean("BPETOK_CONCURRENCY"); level != "" {
		n, err := strconv.Atoi(level)
		if err != nil || n < 0 {
			slog.Error("invalid setting must be zero or greater", "BPETOK_CONCURRENCY", level, "error", err)
		} else {
			Concurrency = n
		}
	}

	// patterns are taken verbatim; only surrounding whitespace is dropped
	Pattern = strings.TrimSpace(os.Getenv("BPETOK_PATTERN"))
}
