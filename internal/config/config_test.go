package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"POOL_URL":       "stratum+tcp://pool.example:4444",
				"WALLET_ADDRESS": "wallet1",
				"NUM_THREADS":    "8",
				"INTENSITY":      "0.5",
				"HASH_ALGORITHM": "sha256d",
			},
			wantErr: false,
		},
		{
			name:    "zero threads",
			envVars: map[string]string{"NUM_THREADS": "0"},
			wantErr: true,
		},
		{
			name:    "intensity above one",
			envVars: map[string]string{"INTENSITY": "1.5"},
			wantErr: true,
		},
		{
			name:    "unknown algorithm",
			envVars: map[string]string{"HASH_ALGORITHM": "scrypt"},
			wantErr: true,
		},
		{
			name:    "influx without token",
			envVars: map[string]string{"INFLUX_URL": "http://localhost:8086"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && cfg == nil {
				t.Error("Load() returned nil config without error")
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WorkerPassword != "x" {
		t.Errorf("WorkerPassword = %q, want x", cfg.WorkerPassword)
	}
	if cfg.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Intensity != 0.75 {
		t.Errorf("Intensity = %v, want 0.75", cfg.Intensity)
	}
	if cfg.StatsInterval != 2*time.Second {
		t.Errorf("StatsInterval = %v, want 2s", cfg.StatsInterval)
	}
	if cfg.HashAlgorithm != "blake3" {
		t.Errorf("HashAlgorithm = %q", cfg.HashAlgorithm)
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.PostgresURL != "" || cfg.RedisURL != "" {
		t.Error("report sinks should be disabled by default")
	}
}

func TestValidate_RequiresPoolWithoutAPI(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := cfg.Validate(); err == nil {
		t.Error("expected error without pool url and api")
	}

	cfg.APIListenAddr = "127.0.0.1:8080"
	if err := cfg.Validate(); err != nil {
		t.Errorf("API mode should not require pool: %v", err)
	}

	cfg.APIListenAddr = ""
	cfg.PoolURL = "pool.example:3333"
	cfg.WalletAddress = "wallet"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "7")
	t.Setenv("TEST_BAD_INT", "seven")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "150ms")
	t.Setenv("TEST_SLICE", "a:9092, b:9092,,c:9092")

	if got := getEnvInt("TEST_INT", 1); got != 7 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 1); got != 1 {
		t.Errorf("getEnvInt fallback = %d", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat = %v", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool = false")
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Errorf("getEnvDuration = %v", got)
	}
	want := []string{"a:9092", "b:9092", "c:9092"}
	if got := getEnvSlice("TEST_SLICE", nil); !reflect.DeepEqual(got, want) {
		t.Errorf("getEnvSlice = %v, want %v", got, want)
	}
	if got := getEnvSlice("TEST_UNSET_SLICE", []string{"d"}); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("getEnvSlice default = %v", got)
	}
}
