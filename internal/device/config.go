package device

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config selects and sizes the device a Context opens.
type Config struct {
	// Runtime is the registered runtime name, e.g. "emulator".
	Runtime string
	// DeviceID is the ordinal of the accelerator to bind.
	DeviceID int
	// MemoryLimit caps device memory in bytes. Zero means unlimited.
	MemoryLimit int64
}

// DefaultConfig is the emulator on device 0 without a memory cap.
func DefaultConfig() Config {
	return Config{Runtime: "emulator"}
}

// ConfigFromEnv overlays QUIVER_RUNTIME, QUIVER_DEVICE_ID and
// QUIVER_MEMORY_LIMIT onto DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("QUIVER_RUNTIME"); v != "" {
		cfg.Runtime = v
	}
	if v := os.Getenv("QUIVER_DEVICE_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid QUIVER_DEVICE_ID %q: %w", v, err)
		}
		cfg.DeviceID = id
	}
	if v := os.Getenv("QUIVER_MEMORY_LIMIT"); v != "" {
		n, err := ParseBytes(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid QUIVER_MEMORY_LIMIT: %w", err)
		}
		cfg.MemoryLimit = n
	}
	return cfg, nil
}

// ParseBytes parses sizes like 4GB, 512MB, 64K or 1024.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	var val int64
	var unit string
	n, err := fmt.Sscanf(s, "%d%s", &val, &unit)
	if n == 0 {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid byte size %q: negative", s)
	}

	switch strings.ToUpper(unit) {
	case "GB", "G", "GIB":
		return val * 1024 * 1024 * 1024, nil
	case "MB", "M", "MIB":
		return val * 1024 * 1024, nil
	case "KB", "K", "KIB":
		return val * 1024, nil
	case "", "B":
		return val, nil
	}
	return 0, fmt.Errorf("invalid byte size %q: unknown unit %q", s, unit)
}
