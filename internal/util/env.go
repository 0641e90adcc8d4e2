package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable, falling back to def
// when it is unset or unrecognized. Beyond strconv.ParseBool's forms,
// yes/no and on/off are accepted for operator convenience.
func ParseBoolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv unrecognized value, using default", "key", key, "value", raw, "default", def)
	return def
}
