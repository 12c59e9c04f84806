package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/geoinforme/parcelreport/internal/report"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 120
auth:
  enabled: true
  api_key: secret
registry:
  base_url: https://ovc.catastro.test
  user_agent: test-agent
  buffer_meters: 150
weather:
  base_url: https://opendata.aemet.test/opendata/api
  api_key: aemet-key
fetch:
  max_attempts: 2
  backoff_initial_ms: 100
  backoff_max_ms: 500
  attempt_timeout_seconds: 10
render:
  enabled: true
  max_parallel: 2
  timeout_seconds: 30
storage:
  provider: gcs
  gcs_bucket: report-archives
db:
  dsn: postgres://localhost/parcelreport
pubsub:
  project_id: geo-project
  topic_name: report-completions
plans:
  free_quota: 5
  pro_quota: 100
  period_days: 30
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Registry.BufferMeters != 150 {
		t.Fatalf("expected registry overrides to apply, got %+v", cfg.Registry)
	}
	if cfg.Weather.APIKey != "aemet-key" {
		t.Fatalf("expected weather key to load")
	}
	if cfg.Storage.Provider != "gcs" || cfg.Storage.GCSBucket != "report-archives" {
		t.Fatalf("expected gcs storage config, got %+v", cfg.Storage)
	}
	if got := cfg.AttemptTimeout(); got != 10*time.Second {
		t.Fatalf("expected attempt timeout 10s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Fetch.MaxAttempts)
	}
	if cfg.Storage.Provider != "local" {
		t.Fatalf("expected default storage provider local, got %q", cfg.Storage.Provider)
	}
}

func TestPlanFor(t *testing.T) {
	t.Parallel()

	cfg := Config{Plans: PlansConfig{FreeQuota: 10, ProQuota: 500, PeriodDays: 30}}

	free := cfg.PlanFor("free")
	if free.Tier != report.PlanFree || free.Quota != 10 {
		t.Fatalf("unexpected free plan: %+v", free)
	}
	pro := cfg.PlanFor("pro")
	if pro.Tier != report.PlanPro || pro.Quota != 500 {
		t.Fatalf("unexpected pro plan: %+v", pro)
	}
	ent := cfg.PlanFor("enterprise")
	if !ent.Unlimited() {
		t.Fatalf("expected enterprise plan to be unlimited: %+v", ent)
	}
	unknown := cfg.PlanFor("mystery")
	if unknown.Tier != report.PlanFree {
		t.Fatalf("unknown tier should map to free, got %+v", unknown)
	}
	if free.Period != 30*24*time.Hour {
		t.Fatalf("expected 30 day period, got %v", free.Period)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Fetch:   FetchConfig{MaxAttempts: 3, AttemptTimeoutSeconds: 30},
		Storage: StorageConfig{Provider: "local", LocalDir: "./archives"},
		Plans:   PlansConfig{FreeQuota: 10, ProQuota: 500, PeriodDays: 30},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid max attempts",
			cfg: func() Config {
				c := base
				c.Fetch.MaxAttempts = 0
				return c
			}(),
			want: "fetch.max_attempts",
		},
		{
			name: "invalid attempt timeout",
			cfg: func() Config {
				c := base
				c.Fetch.AttemptTimeoutSeconds = 0
				return c
			}(),
			want: "fetch.attempt_timeout_seconds",
		},
		{
			name: "render missing max parallel",
			cfg: func() Config {
				c := base
				c.Render.Enabled = true
				c.Render.MaxParallel = 0
				return c
			}(),
			want: "render.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Provider = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown storage provider",
			cfg: func() Config {
				c := base
				c.Storage.Provider = "s3"
				return c
			}(),
			want: "storage.provider",
		},
		{
			name: "invalid period",
			cfg: func() Config {
				c := base
				c.Plans.PeriodDays = 0
				return c
			}(),
			want: "plans.period_days",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
