package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"API_TOKEN", "DEVICE_TOKEN_KEY",
		"DATABASE_HOST", "DATABASE_PORT", "DATABASE_USERNAME", "DATABASE_PASSWORD",
		"DATABASE_NAME", "DATABASE_TLS_MODE",
		"RELAY_TENANT_ID", "RELAY_SECRET", "RELAY_SERVER_ID", "VOLTEEC_DEPLOYMENT",
		"NUT_HOST", "NUT_PORT", "NUT_UPS", "NUT_USERNAME", "NUT_PASSWORD", "NUT_POLL_INTERVAL",
	}
	for _, v := range vars {
		orig, had := os.LookupEnv(v)
		os.Unsetenv(v) //nolint:errcheck
		if had {
			t.Cleanup(func() { os.Setenv(v, orig) }) //nolint:errcheck
		}
	}
}

func TestLoad_DefaultsWithNoFileOrEnv(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.NUT.Host != "localhost" || cfg.NUT.Port != 3493 {
		t.Errorf("NUT defaults = %+v", cfg.NUT)
	}
	if cfg.NUT.PollInterval.Duration != 1*time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.NUT.PollInterval.Duration)
	}
	if !cfg.Degraded() {
		t.Error("Degraded() = false, want true when API_TOKEN unset")
	}
	if cfg.Environment() != "sandbox" {
		t.Errorf("Environment() = %q, want sandbox", cfg.Environment())
	}
}

func TestLoad_MissingFileSkippedSilently(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/to/config.toml")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.NUT.Host != "localhost" {
		t.Errorf("expected defaults when file missing, got %+v", cfg.NUT)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_TOKEN", "secret-token")        //nolint:errcheck
	os.Setenv("NUT_HOST", "192.168.1.50")         //nolint:errcheck
	os.Setenv("NUT_PORT", "3494")                 //nolint:errcheck
	os.Setenv("NUT_POLL_INTERVAL", "5s")          //nolint:errcheck
	os.Setenv("VOLTEEC_DEPLOYMENT", "production") //nolint:errcheck

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APITOKEN != "secret-token" {
		t.Errorf("APITOKEN = %q", cfg.APITOKEN)
	}
	if cfg.NUT.Host != "192.168.1.50" {
		t.Errorf("NUT.Host = %q", cfg.NUT.Host)
	}
	if cfg.NUT.Port != 3494 {
		t.Errorf("NUT.Port = %d", cfg.NUT.Port)
	}
	if cfg.NUT.PollInterval.Duration != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.NUT.PollInterval.Duration)
	}
	if cfg.Degraded() {
		t.Error("Degraded() = true, want false when API_TOKEN set")
	}
	if cfg.Environment() != "production" {
		t.Errorf("Environment() = %q, want production", cfg.Environment())
	}
}

func TestLoad_InvalidPortIgnored(t *testing.T) {
	clearEnv(t)
	os.Setenv("NUT_PORT", "not-a-number") //nolint:errcheck
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.NUT.Port != 3493 {
		t.Errorf("NUT.Port = %d, want default 3493 preserved on invalid override", cfg.NUT.Port)
	}
}

func TestLoad_InvalidTLSModeIgnored(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_TLS_MODE", "nonsense") //nolint:errcheck
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.TLSMode != TLSModePrefer {
		t.Errorf("TLSMode = %q, want default prefer preserved", cfg.Database.TLSMode)
	}
}

func TestLoad_PollIntervalAcceptsBareSeconds(t *testing.T) {
	clearEnv(t)
	os.Setenv("NUT_POLL_INTERVAL", "2.5") //nolint:errcheck
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := time.Duration(2.5 * float64(time.Second))
	if cfg.NUT.PollInterval.Duration != want {
		t.Errorf("PollInterval = %v, want %v", cfg.NUT.PollInterval.Duration, want)
	}
}

func TestDurationUnmarshalText_Invalid(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("UnmarshalText() error = nil, want error for invalid duration")
	}
}

func TestNUTConfig_UPSList(t *testing.T) {
	cases := []struct {
		name string
		ups  string
		want []string
	}{
		{"single name", "ups", []string{"ups"}},
		{"comma separated", "ups1,ups2,ups3", []string{"ups1", "ups2", "ups3"}},
		{"comma with spaces", "ups1, ups2 , ups3", []string{"ups1", "ups2", "ups3"}},
		{"whitespace separated", "ups1 ups2  ups3", []string{"ups1", "ups2", "ups3"}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := NUTConfig{UPS: tc.ups}
			got := n.UPSList()
			if len(got) != len(tc.want) {
				t.Fatalf("UPSList() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("UPSList()[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}
