package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	got := parseAnyCSV([]any{"x", " ", "y", 3})
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, problems := Load("api", 9091)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.HTTPPort != 9091 {
		t.Fatalf("expected default port 9091, got %d", cfg.HTTPPort)
	}
	if cfg.ZoomAPIBaseURL != "https://api.zoom.us/v2" {
		t.Fatalf("unexpected zoom base url %q", cfg.ZoomAPIBaseURL)
	}
	if cfg.JWTTTL().Hours() != 10 {
		t.Fatalf("expected 10h token ttl, got %s", cfg.JWTTTL())
	}
}

func TestLoadEnvOverridesAndProblems(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name      string
		env       map[string]string
		wantField string
		check     func(t *testing.T, cfg Config)
	}{
		{
			name: "port fallback",
			env:  map[string]string{"PORT": "7000"},
			check: func(t *testing.T, cfg Config) {
				if cfg.HTTPPort != 7000 {
					t.Fatalf("expected PORT to apply, got %d", cfg.HTTPPort)
				}
			},
		},
		{
			name: "http port wins over port",
			env:  map[string]string{"PORT": "7000", "HTTP_PORT": "7001"},
			check: func(t *testing.T, cfg Config) {
				if cfg.HTTPPort != 7001 {
					t.Fatalf("expected HTTP_PORT to win, got %d", cfg.HTTPPort)
				}
			},
		},
		{
			name:      "bad integer",
			env:       map[string]string{"DB_MAX_CONNS": "many"},
			wantField: "DB_MAX_CONNS",
		},
		{
			name:      "bad boolean",
			env:       map[string]string{"ASYNQ_ENABLED": "maybe"},
			wantField: "ASYNQ_ENABLED",
		},
		{
			name:      "out of range ratio resets",
			env:       map[string]string{"OTEL_SAMPLE_RATIO": "2"},
			wantField: "OTEL_SAMPLE_RATIO",
			check: func(t *testing.T, cfg Config) {
				if cfg.OtelSampleRatio != 1.0 {
					t.Fatalf("expected ratio reset to 1, got %v", cfg.OtelSampleRatio)
				}
			},
		},
		{
			name: "asynq falls back to redis addr",
			env:  map[string]string{"ASYNQ_ENABLED": "true", "REDIS_ADDR": "redis:6379"},
			check: func(t *testing.T, cfg Config) {
				if cfg.AsynqRedisAddr != "redis:6379" {
					t.Fatalf("expected asynq redis fallback, got %q", cfg.AsynqRedisAddr)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "test")
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, problems := Load("api", 9091)
			if tt.wantField != "" && !hasProblem(problems, tt.wantField) {
				t.Fatalf("expected problem for %s, got %#v", tt.wantField, problems)
			}
			if tt.wantField == "" && len(problems) != 0 {
				t.Fatalf("unexpected problems: %#v", problems)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "cfg.json")
	body := `{"HTTP_PORT": 8100, "LOG_LEVEL": "debug", "KAFKA_BROKERS": ["a:9092", "b:9092"], "AUDIT_ENABLED": true}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, problems := Load("api", 9091)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.HTTPPort != 8100 {
		t.Fatalf("expected file port, got %d", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env to override file, got %q", cfg.LogLevel)
	}
	if len(cfg.KafkaBrokers) != 2 || !cfg.AuditEnabled {
		t.Fatalf("file values not applied: %#v %v", cfg.KafkaBrokers, cfg.AuditEnabled)
	}
}

func TestLoadMissingSecretIsAProblem(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "")
	_, problems := Load("api", 9091)
	if !hasProblem(problems, "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET problem, got %#v", problems)
	}
}

func hasProblem(problems []Problem, field string) bool {
	for _, p := range problems {
		if p.Field == field {
			return true
		}
	}
	return false
}
