package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	SERVICE_NAME string
	TRACE_URL    string
	STORE_TYPE   string
	QUEUE_TYPE   string
	STORAGE_TYPE string
}

type MasterConfig struct {
	PORT               string
	MAX_ATTEMPTS       int
	ACK_TIMEOUT_MS     int
	HEARTBEAT_GRACE_MS int
	SUBMIT_RATE        int
	SUBMIT_BURST       int
}

type WorkerConfig struct {
	MASTER_URL            string
	CAPACITY              int
	HEARTBEAT_INTERVAL_MS int
	LEASE_WAIT_MS         int
	COMPILE_TIMEOUT_MS    int
	COMPILE_MEMORY_MB     int
}

type PostgresConfig struct {
	URL string
}

type NatsConfig struct {
	URL string
}

type MinioConfig struct {
	URL         string
	JOBS_BUCKET string
	ACCESS_KEY  string
	SECRET_KEY  string
	USE_SSL     bool
}

type FreeCacheConfig struct {
	SIZE_BYTES int
	TTL        int
}

func env(key string) string {
	v := os.Getenv(key)
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

func GetConfig() (*Config, error) {
	sn := env("SERVICE_NAME")
	if sn == "" {
		return nil, fmt.Errorf("KEY: SERVICE_NAME is empty")
	}
	return &Config{
		SERVICE_NAME: sn,
		TRACE_URL:    env("TRACE_URL"),
		STORE_TYPE:   envOrDefault("STORE_TYPE", "memory"),
		QUEUE_TYPE:   envOrDefault("QUEUE_TYPE", "memory"),
		STORAGE_TYPE: envOrDefault("STORAGE_TYPE", "memory"),
	}, nil
}

func GetMasterConfig() (*MasterConfig, error) {
	ma, err := convertStringToInt(envOrDefault("MAX_ATTEMPTS", "3"), "MAX_ATTEMPTS")
	if err != nil {
		return nil, err
	}
	at, err := convertStringToInt(envOrDefault("ACK_TIMEOUT_MS", "5000"), "ACK_TIMEOUT_MS")
	if err != nil {
		return nil, err
	}
	hg, err := convertStringToInt(envOrDefault("HEARTBEAT_GRACE_MS", "15000"), "HEARTBEAT_GRACE_MS")
	if err != nil {
		return nil, err
	}
	sr, err := convertStringToInt(envOrDefault("SUBMIT_RATE", "50"), "SUBMIT_RATE")
	if err != nil {
		return nil, err
	}
	sb, err := convertStringToInt(envOrDefault("SUBMIT_BURST", "100"), "SUBMIT_BURST")
	if err != nil {
		return nil, err
	}
	return &MasterConfig{
		PORT:               envOrDefault("PORT", "8080"),
		MAX_ATTEMPTS:       ma,
		ACK_TIMEOUT_MS:     at,
		HEARTBEAT_GRACE_MS: hg,
		SUBMIT_RATE:        sr,
		SUBMIT_BURST:       sb,
	}, nil
}

func GetWorkerConfig() (*WorkerConfig, error) {
	mu := env("MASTER_URL")
	if mu == "" {
		return nil, fmt.Errorf("KEY: MASTER_URL is empty")
	}
	cap, err := convertStringToInt(envOrDefault("CAPACITY", "4"), "CAPACITY")
	if err != nil {
		return nil, err
	}
	if cap < 1 {
		return nil, fmt.Errorf("KEY: CAPACITY must be at least 1")
	}
	hi, err := convertStringToInt(envOrDefault("HEARTBEAT_INTERVAL_MS", "5000"), "HEARTBEAT_INTERVAL_MS")
	if err != nil {
		return nil, err
	}
	lw, err := convertStringToInt(envOrDefault("LEASE_WAIT_MS", "25000"), "LEASE_WAIT_MS")
	if err != nil {
		return nil, err
	}
	ct, err := convertStringToInt(envOrDefault("COMPILE_TIMEOUT_MS", "60000"), "COMPILE_TIMEOUT_MS")
	if err != nil {
		return nil, err
	}
	cm, err := convertStringToInt(envOrDefault("COMPILE_MEMORY_MB", "512"), "COMPILE_MEMORY_MB")
	if err != nil {
		return nil, err
	}
	return &WorkerConfig{
		MASTER_URL:            mu,
		CAPACITY:              cap,
		HEARTBEAT_INTERVAL_MS: hi,
		LEASE_WAIT_MS:         lw,
		COMPILE_TIMEOUT_MS:    ct,
		COMPILE_MEMORY_MB:     cm,
	}, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{
		URL: url,
	}, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	return &NatsConfig{
		URL: url,
	}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_ENDPOINT is empty")
	}

	jb := env("MINIO_JOBS_BUCKET")
	if jb == "" {
		return nil, fmt.Errorf("KEY: MINIO_JOBS_BUCKET is empty")
	}

	ssl := env("MINIO_USE_SSL")
	if ssl != "true" && ssl != "false" {
		return nil, fmt.Errorf("KEY: MINIO_USE_SSL is invalid")
	}

	ak := env("MINIO_ACCESS_KEY")
	if ak == "" {
		return nil, fmt.Errorf("KEY: MINIO_ACCESS_KEY is empty")
	}

	sk := env("MINIO_SECRET_KEY")
	if sk == "" {
		return nil, fmt.Errorf("KEY: MINIO_SECRET_KEY is empty")
	}

	return &MinioConfig{
		URL:         url,
		JOBS_BUCKET: jb,
		USE_SSL:     ssl == "true",
		ACCESS_KEY:  ak,
		SECRET_KEY:  sk,
	}, nil
}

func GetFreeCacheConfig() (*FreeCacheConfig, error) {
	size, err := convertStringToInt(envOrDefault("FREECACHE_SIZE", "10485760"), "FREECACHE_SIZE")
	if err != nil {
		return nil, err
	}
	ttl, err := convertStringToInt(envOrDefault("FREECACHE_TTL", "300"), "FREECACHE_TTL")
	if err != nil {
		return nil, err
	}
	return &FreeCacheConfig{
		SIZE_BYTES: size,
		TTL:        ttl,
	}, nil
}
