package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the variable's value, or false when it is unset or empty.
func envValue(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

// envParsed parses k with parse, returning def when unset or unparsable.
func envParsed[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := envValue(k)
	if !ok {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return out
}

func envString(k, def string) string {
	if v, ok := envValue(k); ok {
		return v
	}
	return def
}

func envInt(k string, def int) int { return envParsed(k, def, strconv.Atoi) }

func envFloat(k string, def float64) float64 {
	return envParsed(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envDuration(k string, def time.Duration) time.Duration {
	return envParsed(k, def, time.ParseDuration)
}

// envBool accepts 1/0, true/false, yes/no, y/n and on/off in any case.
func envBool(k string, def bool) bool {
	return envParsed(k, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

// envList splits a comma-separated variable, dropping blank items.
func envList(k string) []string {
	v, ok := envValue(k)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
