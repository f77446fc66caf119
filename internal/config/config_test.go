package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "punchsync.db", cfg.Database)
	assert.Equal(t, "Local", cfg.Timezone)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 100000, cfg.Ledger.MaxEntries)
	assert.Equal(t, 72*time.Hour, cfg.Ledger.TTL.Std())
	assert.Equal(t, 30*24*time.Hour, cfg.Ledger.Retention.Std())
	assert.False(t, cfg.Poll.Enabled)
	assert.Equal(t, "@every 5m", cfg.Poll.Schedule)
	assert.Equal(t, 15*time.Minute, cfg.Poll.Lookback.Std())
	assert.Equal(t, 200, cfg.Poll.PageSize)
	assert.Equal(t, ":8081", cfg.Push.Addr)
	assert.True(t, cfg.Push.Events)
	assert.Empty(t, cfg.Devices)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestParse_File(t *testing.T) {
	src := `
database: "/var/lib/punchsync/data.db"
timezone: "Asia/Kolkata"
workers:  8
log: format: "json"
poll: {
	enabled:  true
	base_url: "http://10.0.0.5:8090"
	schedule: "*/10 * * * *"
}
devices: [
	{serial: "X1", organization_id: 1, alias: "front door", socket: "0.0.0.0:4370"},
	{serial: "Y1", organization_id: 2, poll: false, timeout: "5s"},
]
`
	cfg, err := Parse([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/punchsync/data.db", cfg.Database)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Poll.Enabled)
	assert.Equal(t, "*/10 * * * *", cfg.Poll.Schedule)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "X1", cfg.Devices[0].Serial)
	assert.True(t, cfg.Devices[0].Poll, "poll defaults to true")
	assert.Equal(t, "0.0.0.0:4370", cfg.Devices[0].Socket)
	assert.Equal(t, "front door", cfg.Devices[0].Device().Alias)
	assert.False(t, cfg.Devices[1].Poll)
	assert.Equal(t, 5*time.Second, cfg.Devices[1].Timeout.Std())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `databse: "x.db"`},
		{"workers out of range", `workers: 0`},
		{"bad log level", `log: level: "loud"`},
		{"bad duration", `ledger: ttl: "three days"`},
		{"device without tenant", `devices: [{serial: "X1"}]`},
		{"empty serial", `devices: [{serial: "", organization_id: 1}]`},
		{"duplicate serial", `devices: [{serial: "X1", organization_id: 1}, {serial: "X1", organization_id: 2}]`},
		{"bad socket address", `devices: [{serial: "X1", organization_id: 1, socket: "nowhere"}]`},
		{"poll without base url", `poll: enabled: true`},
		{"unknown timezone", `timezone: "Mars/Olympus"`},
		{"syntax error", `workers: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestLoadWith_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "punchsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(`database: "file.db"
workers: 2
`), 0o644))

	cfg, err := LoadWith(path, env(map[string]string{
		"PUNCHSYNC_DATABASE":      "env.db",
		"PUNCHSYNC_WORKERS":       "6",
		"PUNCHSYNC_PUSH_ENABLED":  "true",
		"PUNCHSYNC_LOG_LEVEL":     "debug",
		"PUNCHSYNC_POLL_LOOKBACK": "1h",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Database)
	assert.Equal(t, 6, cfg.Workers)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Hour, cfg.Poll.Lookback.Std())
}

func TestLoadWith_EnvOverrideViolatesSchema(t *testing.T) {
	_, err := LoadWith("", env(map[string]string{"PUNCHSYNC_WORKERS": "500"}))
	assert.Error(t, err)

	_, err = LoadWith("", env(map[string]string{"PUNCHSYNC_WORKERS": "many"}))
	assert.Error(t, err)

	_, err = LoadWith("", env(map[string]string{"PUNCHSYNC_PUSH_ENABLED": "sometimes"}))
	assert.Error(t, err)
}

func TestLoadWith_MissingFile(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "absent.cue"), env(nil))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PUNCHSYNC_TEST_DOTENV=from-file\nPUNCHSYNC_TEST_PRESET=from-file\n"), 0o644))

	t.Setenv("PUNCHSYNC_TEST_PRESET", "from-env")
	t.Setenv("PUNCHSYNC_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("PUNCHSYNC_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("PUNCHSYNC_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("PUNCHSYNC_TEST_PRESET"), "existing variables win")
}

func TestDuration_JSON(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, d, back)
	assert.Error(t, back.UnmarshalJSON([]byte(`12`)))
}
