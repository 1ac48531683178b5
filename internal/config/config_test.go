package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// inEmptyDir runs Load from a directory without rowhouse.toml.
func inEmptyDir(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestGetDefaultWorkers_Bounds(t *testing.T) {
	actual := getDefaultWorkers()
	if actual < 2 || actual > 16 {
		t.Errorf("getDefaultWorkers() = %d, want between 2 and 16", actual)
	}
}

func TestLoad_Defaults(t *testing.T) {
	inEmptyDir(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.MaxPayloadSize != 64*1024*1024 {
		t.Errorf("Server.MaxPayloadSize = %d, want 64MB", cfg.Server.MaxPayloadSize)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.LocalPath != "./data/input" {
		t.Errorf("Storage = %s %s, want local ./data/input", cfg.Storage.Backend, cfg.Storage.LocalPath)
	}
	if cfg.Output.LocalPath != "./data/output" {
		t.Errorf("Output.LocalPath = %s, want ./data/output", cfg.Output.LocalPath)
	}
	if !cfg.Output.Parquet {
		t.Error("Output.Parquet should default to true")
	}
	if got := strings.Join(cfg.Processor.SplitPath, "."); got != "type" {
		t.Errorf("Processor.SplitPath = %q, want type", got)
	}
	if cfg.Processor.SourceColumn != "s3_source_path" || cfg.Processor.ModifiedColumn != "s3_last_modified_utc" {
		t.Errorf("metadata columns = %s, %s", cfg.Processor.SourceColumn, cfg.Processor.ModifiedColumn)
	}
	if !cfg.Processor.DefaultCoerce {
		t.Error("Processor.DefaultCoerce should default to true")
	}
	if cfg.Processor.Workers != getDefaultWorkers() {
		t.Errorf("Processor.Workers = %d, want %d", cfg.Processor.Workers, getDefaultWorkers())
	}
	if cfg.Parquet.Compression != "snappy" {
		t.Errorf("Parquet.Compression = %s, want snappy", cfg.Parquet.Compression)
	}
	if !cfg.Ledger.Enabled {
		t.Error("Ledger.Enabled should default to true")
	}
	if cfg.Scheduler.Enabled || cfg.MQTT.Enabled || cfg.Postgres.Enabled || cfg.ClickHouse.Enabled {
		t.Error("optional components should default to disabled")
	}
	if len(cfg.ClickHouse.Addr) != 1 || cfg.ClickHouse.Addr[0] != "localhost:9000" {
		t.Errorf("ClickHouse.Addr = %v, want [localhost:9000]", cfg.ClickHouse.Addr)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	inEmptyDir(t)

	t.Setenv("ROWHOUSE_PROCESSOR_SPLIT_PATH", "header.action")
	t.Setenv("ROWHOUSE_PROCESSOR_WORKERS", "7")
	t.Setenv("ROWHOUSE_STORAGE_BACKEND", "s3")
	t.Setenv("ROWHOUSE_STORAGE_S3_BUCKET", "landing")
	t.Setenv("ROWHOUSE_OUTPUT_KEY_TEMPLATE", "out/{table}/{run_id}.parquet")
	t.Setenv("ROWHOUSE_SCHEDULER_PREFIXES", "raw/a/, raw/b/")
	t.Setenv("ROWHOUSE_MQTT_TOPICS", "minio/events")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := strings.Join(cfg.Processor.SplitPath, "|"); got != "header|action" {
		t.Errorf("Processor.SplitPath = %q, want header|action", got)
	}
	if cfg.Processor.Workers != 7 {
		t.Errorf("Processor.Workers = %d, want 7 (from env)", cfg.Processor.Workers)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.S3Bucket != "landing" {
		t.Errorf("Storage = %s/%s, want s3/landing", cfg.Storage.Backend, cfg.Storage.S3Bucket)
	}
	if cfg.Output.Backend != "local" {
		t.Errorf("Output.Backend = %s, input override leaked into output", cfg.Output.Backend)
	}
	if cfg.Output.KeyTemplate != "out/{table}/{run_id}.parquet" {
		t.Errorf("Output.KeyTemplate = %s", cfg.Output.KeyTemplate)
	}
	if len(cfg.Scheduler.Prefixes) != 2 || cfg.Scheduler.Prefixes[1] != "raw/b/" {
		t.Errorf("Scheduler.Prefixes = %v, want [raw/a/ raw/b/]", cfg.Scheduler.Prefixes)
	}
	if len(cfg.MQTT.Topics) != 1 || cfg.MQTT.Topics[0] != "minio/events" {
		t.Errorf("MQTT.Topics = %v", cfg.MQTT.Topics)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	inEmptyDir(t)

	toml := `
[processor]
split_path = "header.action"
mapping_file = "tables.yaml"
default_coerce = false

[parquet]
compression = "zstd"

[scheduler]
enabled = true
prefixes = ["raw/2024/"]

[postgres]
enabled = true
dsn = "postgres://localhost/etl"
`
	if err := os.WriteFile("rowhouse.toml", []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Processor.MappingFile != "tables.yaml" {
		t.Errorf("Processor.MappingFile = %s", cfg.Processor.MappingFile)
	}
	if cfg.Processor.DefaultCoerce {
		t.Error("Processor.DefaultCoerce should be false from file")
	}
	if cfg.Parquet.Compression != "zstd" {
		t.Errorf("Parquet.Compression = %s, want zstd", cfg.Parquet.Compression)
	}
	if !cfg.Scheduler.Enabled || len(cfg.Scheduler.Prefixes) != 1 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_InvalidSize(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("ROWHOUSE_PROCESSOR_MAX_OBJECT_SIZE", "1TB")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject an unknown size unit")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Processor: ProcessorConfig{
				SplitPath:   []string{"type"},
				MappingFile: "tables.json",
				Workers:     2,
			},
			Output: OutputConfig{Parquet: true},
		}
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "no_mapping", modify: func(c *Config) { c.Processor.MappingFile = "" }, wantErr: "mapping_file"},
		{name: "no_split_path", modify: func(c *Config) { c.Processor.SplitPath = nil }, wantErr: "split_path"},
		{name: "empty_segment", modify: func(c *Config) { c.Processor.SplitPath = []string{"a", ""} }, wantErr: "empty segment"},
		{name: "no_workers", modify: func(c *Config) { c.Processor.Workers = 0 }, wantErr: "workers"},
		{name: "no_outputs", modify: func(c *Config) { c.Output.Parquet = false }, wantErr: "no output"},
		{name: "postgres_only", modify: func(c *Config) {
			c.Output.Parquet = false
			c.Postgres = PostgresConfig{Enabled: true, DSN: "postgres://x"}
		}},
		{name: "postgres_without_dsn", modify: func(c *Config) { c.Postgres.Enabled = true }, wantErr: "postgres.dsn"},
		{name: "clickhouse_without_addr", modify: func(c *Config) { c.ClickHouse.Enabled = true }, wantErr: "clickhouse.addr"},
		{name: "scheduler_without_prefixes", modify: func(c *Config) { c.Scheduler.Enabled = true }, wantErr: "scheduler.prefixes"},
		{name: "mqtt_without_topics", modify: func(c *Config) { c.MQTT.Enabled = true }, wantErr: "mqtt.topics"},
		{name: "tls_without_cert", modify: func(c *Config) { c.Server.TLSEnabled = true }, wantErr: "tls_cert_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

// TLS Configuration Tests

func TestServerConfig_ValidateTLS_Disabled(t *testing.T) {
	cfg := &ServerConfig{TLSEnabled: false}
	if err := cfg.ValidateTLS(); err != nil {
		t.Errorf("ValidateTLS() with TLS disabled should not error: %v", err)
	}
}

func TestServerConfig_ValidateTLS_MissingKeyFile(t *testing.T) {
	cfg := &ServerConfig{TLSEnabled: true, TLSCertFile: "/path/to/cert.pem"}
	err := cfg.ValidateTLS()
	if err == nil || !strings.Contains(err.Error(), "tls_key_file") {
		t.Errorf("ValidateTLS() error = %v, want missing key file", err)
	}
}

func TestServerConfig_ValidateTLS_CertFileNotFound(t *testing.T) {
	cfg := &ServerConfig{
		TLSEnabled:  true,
		TLSCertFile: "/nonexistent/cert.pem",
		TLSKeyFile:  "/nonexistent/key.pem",
	}
	err := cfg.ValidateTLS()
	if err == nil || !strings.Contains(err.Error(), "certificate file not found") {
		t.Errorf("ValidateTLS() error = %v, want certificate file not found", err)
	}
}

func TestServerConfig_ValidateTLS_CertIsDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "key.pem")
	if err := os.WriteFile(keyPath, []byte("fake key"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &ServerConfig{TLSEnabled: true, TLSCertFile: tmpDir, TLSKeyFile: keyPath}
	err := cfg.ValidateTLS()
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Errorf("ValidateTLS() error = %v, want directory error", err)
	}
}

func TestServerConfig_ValidateTLS_ValidFiles(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "cert.pem")
	keyPath := filepath.Join(tmpDir, "key.pem")

	if err := os.WriteFile(certPath, []byte("fake cert"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, []byte("fake key"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &ServerConfig{TLSEnabled: true, TLSCertFile: certPath, TLSKeyFile: keyPath}
	if err := cfg.ValidateTLS(); err != nil {
		t.Errorf("ValidateTLS() should not error with valid files: %v", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1GB", 1024 * 1024 * 1024, false},
		{"512mb", 512 * 1024 * 1024, false},
		{"1.5KB", 1536, false},
		{"100B", 100, false},
		{"2048", 2048, false},
		{" 64 MB ", 64 * 1024 * 1024, false},
		{"", 0, true},
		{"1TB", 0, true},
		{"-1MB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
