// Package config loads punchsync configuration.
//
// A CUE file is unified with the embedded schema, which supplies defaults
// and constraints. PUNCHSYNC_* environment variables are filled in on top
// before validation, so overrides are held to the same constraints.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/roach88/punchsync/internal/punch"
)

//go:embed schema.cue
var schemaCUE []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PUNCHSYNC_"

// Config is the decoded configuration.
type Config struct {
	Database string         `json:"database"`
	Timezone string         `json:"timezone"`
	Workers  int            `json:"workers"`
	Log      LogConfig      `json:"log"`
	Ledger   LedgerConfig   `json:"ledger"`
	Poll     PollConfig     `json:"poll"`
	Push     PushConfig     `json:"push"`
	Devices  []DeviceConfig `json:"devices" validate:"unique=Serial,dive"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type LedgerConfig struct {
	MaxEntries int      `json:"max_entries"`
	TTL        Duration `json:"ttl"`
	Retention  Duration `json:"retention"`
}

type PollConfig struct {
	Enabled       bool     `json:"enabled"`
	Schedule      string   `json:"schedule"`
	BaseURL       string   `json:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	Token         string   `json:"token"`
	Timeout       Duration `json:"timeout"`
	Lookback      Duration `json:"lookback"`
	InitialWindow Duration `json:"initial_window"`
	PageSize      int      `json:"page_size"`
}

type PushConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Token   string `json:"token"`
	Events  bool   `json:"events"`
}

// DeviceConfig declares one terminal.
type DeviceConfig struct {
	Serial         string   `json:"serial" validate:"required,max=64"`
	OrganizationID int64    `json:"organization_id" validate:"gt=0"`
	Alias          string   `json:"alias,omitempty" validate:"max=255"`
	Poll           bool     `json:"poll"`
	Socket         string   `json:"socket,omitempty" validate:"omitempty,hostname_port"`
	Timeout        Duration `json:"timeout,omitempty"`
}

// Device converts the entry into a directory record.
func (d DeviceConfig) Device() punch.Device {
	return punch.Device{Serial: d.Serial, OrganizationID: d.OrganizationID, Alias: d.Alias}
}

// Duration is a time.Duration written as a Go duration string ("15m").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// kind is how an environment value is filled into CUE.
type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
)

// envOverrides maps PUNCHSYNC_<NAME> to a CUE path.
var envOverrides = []struct {
	name string
	path string
	kind kind
}{
	{"DATABASE", "database", kindString},
	{"TIMEZONE", "timezone", kindString},
	{"WORKERS", "workers", kindInt},
	{"LOG_LEVEL", "log.level", kindString},
	{"LOG_FORMAT", "log.format", kindString},
	{"LEDGER_MAX_ENTRIES", "ledger.max_entries", kindInt},
	{"LEDGER_TTL", "ledger.ttl", kindString},
	{"LEDGER_RETENTION", "ledger.retention", kindString},
	{"POLL_ENABLED", "poll.enabled", kindBool},
	{"POLL_SCHEDULE", "poll.schedule", kindString},
	{"POLL_BASE_URL", "poll.base_url", kindString},
	{"POLL_TOKEN", "poll.token", kindString},
	{"POLL_TIMEOUT", "poll.timeout", kindString},
	{"POLL_LOOKBACK", "poll.lookback", kindString},
	{"PUSH_ENABLED", "push.enabled", kindBool},
	{"PUSH_ADDR", "push.addr", kindString},
	{"PUSH_TOKEN", "push.token", kindString},
	{"PUSH_EVENTS", "push.events", kindBool},
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads the CUE file at path (empty for defaults only) and applies
// environment overrides from the process environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	return parse(src, path, lookup)
}

// Parse decodes CUE source without touching the environment.
func Parse(src []byte) (*Config, error) {
	return parse(src, "config.cue", func(string) (string, bool) { return "", false })
}

func parse(src []byte, filename string, lookup LookupFunc) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, fmt.Errorf("compile config: %s", details(err))
		}
		v = v.Unify(file)
	}

	for _, o := range envOverrides {
		raw, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		var val any = raw
		switch o.kind {
		case kindInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err)
			}
			val = n
		case kindBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err)
			}
			val = b
		}
		v = v.FillPath(cue.ParsePath(o.path), val)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %s", details(err))
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode config: %s", details(err))
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func details(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
