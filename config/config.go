// Package config loads the bus link settings from a TOML file.
//
// Every key is optional; keys left out keep their defaults:
//
//	device         = "/dev/hvc0"      # or "tcp://host:port" for a simulated bus
//	baud           = 38400
//	max_write      = 4096             # at most 4096
//	max_read       = 65536
//	read_buffer    = 4096
//	timeout        = "5s"             # "0s" = wait forever
//	rate_limit     = 20.0             # exchanges per second, 0 = unpaced
//	rate_burst     = 1
//	resync_retries = 0                # reset and re-issue after framing loss
//	log_level      = "info"
//	bus            = "vm-1"           # inventory name, defaults to the hostname
//	etcd_endpoints = ["127.0.0.1:2379"]
//	ttl            = 10
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"hlapi-bus/protocol"
)

const (
	DefaultDevice = "/dev/hvc0"
	DefaultBaud   = 38400
)

// SupportedBauds lists the line speeds the device layer can set.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400}

type Config struct {
	Device        string
	Baud          int
	Limits        protocol.Limits
	Timeout       time.Duration
	RateLimit     float64
	RateBurst     int
	ResyncRetries int
	LogLevel      string
	Bus           string
	EtcdEndpoints []string
	TTL           int64
}

type fileConfig struct {
	Device        string   `toml:"device"`
	Baud          int      `toml:"baud"`
	MaxWrite      int      `toml:"max_write"`
	MaxRead       int      `toml:"max_read"`
	ReadBuffer    int      `toml:"read_buffer"`
	Timeout       string   `toml:"timeout"`
	RateLimit     float64  `toml:"rate_limit"`
	RateBurst     int      `toml:"rate_burst"`
	ResyncRetries int      `toml:"resync_retries"`
	LogLevel      string   `toml:"log_level"`
	Bus           string   `toml:"bus"`
	EtcdEndpoints []string `toml:"etcd_endpoints"`
	TTL           int64    `toml:"ttl"`
}

func Default() Config {
	bus, err := os.Hostname()
	if err != nil || bus == "" {
		bus = "hlapi"
	}
	return Config{
		Device:    DefaultDevice,
		Baud:      DefaultBaud,
		Limits:    protocol.DefaultLimits(),
		RateBurst: 1,
		LogLevel:  "info",
		Bus:       bus,
		TTL:       10,
	}
}

// Load overlays the keys defined in path on Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("max_write") {
		cfg.Limits.MaxWrite = raw.MaxWrite
	}
	if meta.IsDefined("max_read") {
		cfg.Limits.MaxRead = raw.MaxRead
	}
	if meta.IsDefined("read_buffer") {
		cfg.Limits.ReadBuffer = raw.ReadBuffer
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("resync_retries") {
		cfg.ResyncRetries = raw.ResyncRetries
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("bus") {
		cfg.Bus = strings.TrimSpace(raw.Bus)
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = normalizeEndpoints(raw.EtcdEndpoints)
	}
	if meta.IsDefined("ttl") {
		cfg.TTL = raw.TTL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the link cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Device == "" {
		errs = append(errs, errors.New("device must be set"))
	}
	if !c.Simulated() && !supportedBaud(c.Baud) {
		errs = append(errs, fmt.Errorf("unsupported baud %d", c.Baud))
	}
	// Two delimiters and at least one payload byte.
	if c.Limits.MaxWrite < 3 {
		errs = append(errs, fmt.Errorf("max_write %d too small", c.Limits.MaxWrite))
	}
	if c.Limits.MaxWrite > protocol.MaxWriteSize {
		errs = append(errs, fmt.Errorf("max_write %d above the bus limit of %d", c.Limits.MaxWrite, protocol.MaxWriteSize))
	}
	if c.Limits.MaxRead <= 0 {
		errs = append(errs, fmt.Errorf("max_read must be positive, got %d", c.Limits.MaxRead))
	}
	if c.Limits.ReadBuffer <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer must be positive, got %d", c.Limits.ReadBuffer))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		errs = append(errs, fmt.Errorf("invalid rate %g/%d", c.RateLimit, c.RateBurst))
	}
	if c.ResyncRetries < 0 {
		errs = append(errs, fmt.Errorf("resync_retries must not be negative, got %d", c.ResyncRetries))
	}
	if c.TTL <= 0 {
		errs = append(errs, fmt.Errorf("ttl must be positive, got %d", c.TTL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Simulated reports whether Device names a simulated bus address instead of
// a character device.
func (c Config) Simulated() bool {
	return strings.HasPrefix(c.Device, "tcp://")
}

// Address returns the host:port of a simulated bus.
func (c Config) Address() string {
	return strings.TrimPrefix(c.Device, "tcp://")
}

func supportedBaud(baud int) bool {
	for _, b := range SupportedBauds {
		if b == baud {
			return true
		}
	}
	return false
}

func normalizeEndpoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ep := range in {
		if v := strings.TrimSpace(ep); v != "" {
			out = append(out, v)
		}
	}
	return out
}
