package config

import (
	"os"
	"reflect"
	"testing"
)

func withEnv(t *testing.T, envs map[string]string) {
	t.Helper()

	original := make(map[string]string)
	for k := range envs {
		original[k] = os.Getenv(k)
	}

	for k, v := range envs {
		_ = os.Setenv(k, v)
	}

	t.Cleanup(func() {
		for k, v := range original {
			if v == "" {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, v)
			}
		}
	})
}

func TestGetConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *Config
		shouldErr bool
	}{
		{
			name: "valid config",
			envs: map[string]string{
				"SERVICE_NAME": "svc",
				"TRACE_URL":    "http://trace",
				"STORE_TYPE":   "postgres",
				"QUEUE_TYPE":   "jetstream",
				"STORAGE_TYPE": "minio",
			},
			expected: &Config{
				SERVICE_NAME: "svc",
				TRACE_URL:    "http://trace",
				STORE_TYPE:   "postgres",
				QUEUE_TYPE:   "jetstream",
				STORAGE_TYPE: "minio",
			},
		},
		{
			name: "defaults to memory backends",
			envs: map[string]string{
				"SERVICE_NAME": "svc",
			},
			expected: &Config{
				SERVICE_NAME: "svc",
				STORE_TYPE:   "memory",
				QUEUE_TYPE:   "memory",
				STORAGE_TYPE: "memory",
			},
		},
		{
			name:      "invalid config: missing service name",
			envs:      map[string]string{},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestGetMasterConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *MasterConfig
		shouldErr bool
	}{
		{
			name: "all defaults",
			envs: map[string]string{},
			expected: &MasterConfig{
				PORT:               "8080",
				MAX_ATTEMPTS:       3,
				ACK_TIMEOUT_MS:     5000,
				HEARTBEAT_GRACE_MS: 15000,
				SUBMIT_RATE:        50,
				SUBMIT_BURST:       100,
			},
		},
		{
			name: "overrides applied",
			envs: map[string]string{
				"PORT":               "9090",
				"MAX_ATTEMPTS":       "5",
				"ACK_TIMEOUT_MS":     "2000",
				"HEARTBEAT_GRACE_MS": "30000",
				"SUBMIT_RATE":        "10",
				"SUBMIT_BURST":       "20",
			},
			expected: &MasterConfig{
				PORT:               "9090",
				MAX_ATTEMPTS:       5,
				ACK_TIMEOUT_MS:     2000,
				HEARTBEAT_GRACE_MS: 30000,
				SUBMIT_RATE:        10,
				SUBMIT_BURST:       20,
			},
		},
		{
			name: "invalid master config: bad max attempts",
			envs: map[string]string{
				"MAX_ATTEMPTS": "abc",
			},
			shouldErr: true,
		},
		{
			name: "invalid master config: bad ack timeout",
			envs: map[string]string{
				"ACK_TIMEOUT_MS": "xyz",
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetMasterConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestGetWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *WorkerConfig
		shouldErr bool
	}{
		{
			name: "valid worker config with defaults",
			envs: map[string]string{
				"MASTER_URL": "http://localhost:8080",
			},
			expected: &WorkerConfig{
				MASTER_URL:            "http://localhost:8080",
				CAPACITY:              4,
				HEARTBEAT_INTERVAL_MS: 5000,
				LEASE_WAIT_MS:         25000,
				COMPILE_TIMEOUT_MS:    60000,
				COMPILE_MEMORY_MB:     512,
			},
		},
		{
			name:      "invalid worker config: missing master url",
			envs:      map[string]string{},
			shouldErr: true,
		},
		{
			name: "invalid worker config: zero capacity",
			envs: map[string]string{
				"MASTER_URL": "http://localhost:8080",
				"CAPACITY":   "0",
			},
			shouldErr: true,
		},
		{
			name: "invalid worker config: bad capacity",
			envs: map[string]string{
				"MASTER_URL": "http://localhost:8080",
				"CAPACITY":   "many",
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetWorkerConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestGetNatsConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *NatsConfig
		shouldErr bool
	}{
		{
			name: "valid nats config",
			envs: map[string]string{
				"JETSTREAM_URL": "nats://localhost:4222",
			},
			expected: &NatsConfig{
				URL: "nats://localhost:4222",
			},
		},
		{
			name:      "invalid nats config: missing url",
			envs:      map[string]string{},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetNatsConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestGetPostgresConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *PostgresConfig
		shouldErr bool
	}{
		{
			name: "valid postgres config",
			envs: map[string]string{
				"POSTGRES_URL": "postgres://localhost/db",
			},
			expected: &PostgresConfig{
				URL: "postgres://localhost/db",
			},
		},
		{
			name:      "invalid postgres config: missing url",
			envs:      map[string]string{},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetPostgresConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestGetMinioConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *MinioConfig
		shouldErr bool
	}{
		{
			name: "valid minio config",
			envs: map[string]string{
				"MINIO_ENDPOINT":    "localhost:9000",
				"MINIO_JOBS_BUCKET": "jobs",
				"MINIO_USE_SSL":     "true",
				"MINIO_ACCESS_KEY":  "ak",
				"MINIO_SECRET_KEY":  "sk",
			},
			expected: &MinioConfig{
				URL:         "localhost:9000",
				JOBS_BUCKET: "jobs",
				USE_SSL:     true,
				ACCESS_KEY:  "ak",
				SECRET_KEY:  "sk",
			},
		},
		{
			name: "invalid minio config: invalid ssl value",
			envs: map[string]string{
				"MINIO_ENDPOINT":    "localhost",
				"MINIO_JOBS_BUCKET": "jobs",
				"MINIO_USE_SSL":     "yes",
			},
			shouldErr: true,
		},
		{
			name: "invalid minio config: endpoint empty",
			envs: map[string]string{
				"MINIO_ENDPOINT":    "",
				"MINIO_JOBS_BUCKET": "jobs",
				"MINIO_USE_SSL":     "true",
				"MINIO_ACCESS_KEY":  "ak",
				"MINIO_SECRET_KEY":  "sk",
			},
			shouldErr: true,
		},
		{
			name: "invalid minio config: secretkey empty",
			envs: map[string]string{
				"MINIO_ENDPOINT":    "localhost:9000",
				"MINIO_JOBS_BUCKET": "jobs",
				"MINIO_USE_SSL":     "true",
				"MINIO_ACCESS_KEY":  "ak",
				"MINIO_SECRET_KEY":  "",
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetMinioConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestGetFreeCacheConfig(t *testing.T) {
	tests := []struct {
		name      string
		envs      map[string]string
		expected  *FreeCacheConfig
		shouldErr bool
	}{
		{
			name: "valid freecache config",
			envs: map[string]string{
				"FREECACHE_TTL":  "10",
				"FREECACHE_SIZE": "2048",
			},
			expected: &FreeCacheConfig{
				TTL:        10,
				SIZE_BYTES: 2048,
			},
		},
		{
			name: "invalid freecache config: invalid size",
			envs: map[string]string{
				"FREECACHE_TTL":  "10",
				"FREECACHE_SIZE": "bad",
			},
			shouldErr: true,
		},
		{
			name: "invalid freecache config: invalid ttl",
			envs: map[string]string{
				"FREECACHE_TTL":  "bad",
				"FREECACHE_SIZE": "2048",
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.envs)

			cfg, err := GetFreeCacheConfig()
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("got %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
