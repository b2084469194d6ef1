package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultPath = "timedsend.yaml"
	EnvPrefix   = "TIMEDSEND_"
)

type Config struct {
	Store      StoreConfig      `json:"store"`
	Driver     DriverConfig     `json:"driver"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Supervisor SupervisorConfig `json:"supervisor"`
	API        APIConfig        `json:"api"`
	Log        LogConfig        `json:"log"`
}

type StoreConfig struct {
	Driver      string   `json:"driver" validate:"oneof=json sqlite"`
	Path        string   `json:"path" validate:"required"`
	LockTimeout Duration `json:"lock_timeout" validate:"gt=0"`
}

type DriverConfig struct {
	URL string `json:"url" validate:"required,url"`
	// Command launches the driver under the supervisor. Empty means the
	// driver is managed elsewhere and only probed.
	Command          []string `json:"command"`
	Dir              string   `json:"dir"`
	StatusTimeout    Duration `json:"status_timeout" validate:"gt=0"`
	GroupsTimeout    Duration `json:"groups_timeout" validate:"gt=0"`
	SendTimeout      Duration `json:"send_timeout" validate:"gt=0"`
	SendRatePerSec   int      `json:"send_rate_per_sec" validate:"gte=0"`
	AddressSeparator string   `json:"address_separator" validate:"required"`
}

type DispatchConfig struct {
	Interval       Duration `json:"interval" validate:"gt=0"`
	StrictContacts bool     `json:"strict_contacts"`
	WatchStore     bool     `json:"watch_store"`
	MetricsAddr    string   `json:"metrics_addr"`
}

type SupervisorConfig struct {
	PollInterval  Duration `json:"poll_interval" validate:"gt=0"`
	BaseBackoff   Duration `json:"base_backoff" validate:"gt=0"`
	MaxRestarts   int      `json:"max_restarts" validate:"gt=0"`
	DriverGrace   Duration `json:"driver_grace" validate:"gte=0"`
	DispatchGrace Duration `json:"dispatch_grace" validate:"gte=0"`
	StopTimeout   Duration `json:"stop_timeout" validate:"gt=0"`
}

type APIConfig struct {
	Addr string `json:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" validate:"oneof=console json"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:      "json",
			Path:        "schedules/schedule.json",
			LockTimeout: Duration(10 * time.Second),
		},
		Driver: DriverConfig{
			URL:              "http://127.0.0.1:5001",
			Command:          []string{"node", "server.js"},
			StatusTimeout:    Duration(2 * time.Second),
			GroupsTimeout:    Duration(5 * time.Second),
			SendTimeout:      Duration(30 * time.Second),
			SendRatePerSec:   1,
			AddressSeparator: "@",
		},
		Dispatch: DispatchConfig{
			Interval:   Duration(10 * time.Second),
			WatchStore: true,
		},
		Supervisor: SupervisorConfig{
			PollInterval:  Duration(10 * time.Second),
			BaseBackoff:   Duration(5 * time.Second),
			MaxRestarts:   5,
			DriverGrace:   Duration(5 * time.Second),
			DispatchGrace: Duration(2 * time.Second),
			StopTimeout:   Duration(5 * time.Second),
		},
		API: APIConfig{Addr: ":5000"},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration from defaults, the file at path, a .env file
// in the working directory and TIMEDSEND_* variables, in increasing order of
// precedence. A missing file is only an error when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !required:
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	jb, err := coerceToJSON(path, data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing data")
		}
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

// clearableEnv lists variables that apply even when set to an empty value.
var clearableEnv = map[string]bool{"DRIVER_COMMAND": true}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func dur(dst func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = Duration(d)
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var envVars = []envVar{
	{"STORE_DRIVER", str(func(c *Config) *string { return &c.Store.Driver })},
	{"STORE_PATH", str(func(c *Config) *string { return &c.Store.Path })},
	{"STORE_LOCK_TIMEOUT", dur(func(c *Config) *Duration { return &c.Store.LockTimeout })},
	{"DRIVER_URL", str(func(c *Config) *string { return &c.Driver.URL })},
	{"DRIVER_COMMAND", func(c *Config, v string) error { c.Driver.Command = strings.Fields(v); return nil }},
	{"DRIVER_DIR", str(func(c *Config) *string { return &c.Driver.Dir })},
	{"DRIVER_SEND_RATE_PER_SEC", integer(func(c *Config) *int { return &c.Driver.SendRatePerSec })},
	{"DISPATCH_INTERVAL", dur(func(c *Config) *Duration { return &c.Dispatch.Interval })},
	{"DISPATCH_STRICT_CONTACTS", boolean(func(c *Config) *bool { return &c.Dispatch.StrictContacts })},
	{"DISPATCH_WATCH_STORE", boolean(func(c *Config) *bool { return &c.Dispatch.WatchStore })},
	{"DISPATCH_METRICS_ADDR", str(func(c *Config) *string { return &c.Dispatch.MetricsAddr })},
	{"SUPERVISOR_POLL_INTERVAL", dur(func(c *Config) *Duration { return &c.Supervisor.PollInterval })},
	{"SUPERVISOR_BASE_BACKOFF", dur(func(c *Config) *Duration { return &c.Supervisor.BaseBackoff })},
	{"SUPERVISOR_MAX_RESTARTS", integer(func(c *Config) *int { return &c.Supervisor.MaxRestarts })},
	{"API_ADDR", str(func(c *Config) *string { return &c.API.Addr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok || (strings.TrimSpace(v) == "" && !clearableEnv[ev.name]) {
			continue
		}
		if err := ev.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}
