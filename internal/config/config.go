package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for rowhouse
type Config struct {
	Log        LogConfig
	Server     ServerConfig
	Storage    StorageConfig
	Output     OutputConfig
	Processor  ProcessorConfig
	Parquet    ParquetConfig
	Ledger     LedgerConfig
	Scheduler  SchedulerConfig
	MQTT       MQTTConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     int // seconds
	WriteTimeout    int // seconds
	IdleTimeout     int // seconds
	ShutdownTimeout int // seconds
	MaxPayloadSize  int64
	EnablePprof     bool
	TLSEnabled      bool
	TLSCertFile     string
	TLSKeyFile      string
}

// StorageConfig describes one object store. The input store lives under
// "storage", the output store under "output".
type StorageConfig struct {
	Backend   string // local, s3, minio, azure
	LocalPath string
	// S3/MinIO
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool
	// Azure Blob Storage
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureEndpoint           string
	AzureUseManagedIdentity bool
	// Retries and circuit breaker around the backend
	Resilient      bool
	MaxRetries     int
	MaxFailures    int
	BreakerTimeout int // seconds
}

type OutputConfig struct {
	StorageConfig
	KeyTemplate string
	Parquet     bool // write Parquet objects to the output store
}

type ProcessorConfig struct {
	SplitPath        []string
	MappingFile      string
	DefaultCoerce    bool
	AllowNegative    bool
	NormalizeAliases bool
	SourceColumn     string
	ModifiedColumn   string
	Workers          int
	Format           string // auto, json, ndjson, msgpack
	SkipSeen         bool
	MaxObjectSize    int64
}

type ParquetConfig struct {
	Compression     string
	UseDictionary   bool
	WriteStatistics bool
	DataPageVersion string
}

type LedgerConfig struct {
	Enabled bool
	Path    string
}

type SchedulerConfig struct {
	Enabled        bool
	Schedule       string
	Prefixes       []string
	TimeoutMinutes int
}

type MQTTConfig struct {
	Enabled               bool
	Broker                string
	ClientID              string
	Topics                []string
	QoS                   int
	Username              string
	Password              string
	TLSEnabled            bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
	TLSInsecureSkipVerify bool
	Workers               int
	QueueSize             int
}

type PostgresConfig struct {
	Enabled      bool
	DSN          string
	Schema       string
	CreateTables bool
	MaxConns     int
}

type ClickHouseConfig struct {
	Enabled            bool
	Addr               []string
	Database           string
	Username           string
	Password           string
	CreateTables       bool
	DialTimeoutSeconds int
}

// Load reads defaults, the optional rowhouse.toml and ROWHOUSE_* environment
// variables, in increasing precedence.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ROWHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("rowhouse")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/rowhouse/")
	v.AddConfigPath("$HOME/.rowhouse/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	maxPayloadSize, err := ParseSize(v.GetString("server.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.max_payload_size: %w", err)
	}
	maxObjectSize, err := ParseSize(v.GetString("processor.max_object_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid processor.max_object_size: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetInt("server.read_timeout"),
			WriteTimeout:    v.GetInt("server.write_timeout"),
			IdleTimeout:     v.GetInt("server.idle_timeout"),
			ShutdownTimeout: v.GetInt("server.shutdown_timeout"),
			MaxPayloadSize:  maxPayloadSize,
			EnablePprof:     v.GetBool("server.enable_pprof"),
			TLSEnabled:      v.GetBool("server.tls_enabled"),
			TLSCertFile:     v.GetString("server.tls_cert_file"),
			TLSKeyFile:      v.GetString("server.tls_key_file"),
		},
		Storage: storageFromViper(v, "storage"),
		Output: OutputConfig{
			StorageConfig: storageFromViper(v, "output"),
			KeyTemplate:   v.GetString("output.key_template"),
			Parquet:       v.GetBool("output.parquet"),
		},
		Processor: ProcessorConfig{
			SplitPath:        splitPath(v.GetString("processor.split_path")),
			MappingFile:      v.GetString("processor.mapping_file"),
			DefaultCoerce:    v.GetBool("processor.default_coerce"),
			AllowNegative:    v.GetBool("processor.allow_negative"),
			NormalizeAliases: v.GetBool("processor.normalize_aliases"),
			SourceColumn:     v.GetString("processor.source_column"),
			ModifiedColumn:   v.GetString("processor.modified_column"),
			Workers:          v.GetInt("processor.workers"),
			Format:           v.GetString("processor.format"),
			SkipSeen:         v.GetBool("processor.skip_seen"),
			MaxObjectSize:    maxObjectSize,
		},
		Parquet: ParquetConfig{
			Compression:     v.GetString("parquet.compression"),
			UseDictionary:   v.GetBool("parquet.use_dictionary"),
			WriteStatistics: v.GetBool("parquet.write_statistics"),
			DataPageVersion: v.GetString("parquet.data_page_version"),
		},
		Ledger: LedgerConfig{
			Enabled: v.GetBool("ledger.enabled"),
			Path:    v.GetString("ledger.path"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			Schedule:       v.GetString("scheduler.schedule"),
			Prefixes:       stringList(v, "scheduler.prefixes"),
			TimeoutMinutes: v.GetInt("scheduler.timeout_minutes"),
		},
		MQTT: MQTTConfig{
			Enabled:               v.GetBool("mqtt.enabled"),
			Broker:                v.GetString("mqtt.broker"),
			ClientID:              v.GetString("mqtt.client_id"),
			Topics:                stringList(v, "mqtt.topics"),
			QoS:                   v.GetInt("mqtt.qos"),
			Username:              v.GetString("mqtt.username"),
			Password:              v.GetString("mqtt.password"),
			TLSEnabled:            v.GetBool("mqtt.tls_enabled"),
			TLSCAPath:             v.GetString("mqtt.tls_ca_path"),
			TLSCertPath:           v.GetString("mqtt.tls_cert_path"),
			TLSKeyPath:            v.GetString("mqtt.tls_key_path"),
			TLSInsecureSkipVerify: v.GetBool("mqtt.tls_insecure_skip_verify"),
			Workers:               v.GetInt("mqtt.workers"),
			QueueSize:             v.GetInt("mqtt.queue_size"),
		},
		Postgres: PostgresConfig{
			Enabled:      v.GetBool("postgres.enabled"),
			DSN:          v.GetString("postgres.dsn"),
			Schema:       v.GetString("postgres.schema"),
			CreateTables: v.GetBool("postgres.create_tables"),
			MaxConns:     v.GetInt("postgres.max_conns"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:            v.GetBool("clickhouse.enabled"),
			Addr:               stringList(v, "clickhouse.addr"),
			Database:           v.GetString("clickhouse.database"),
			Username:           v.GetString("clickhouse.username"),
			Password:           v.GetString("clickhouse.password"),
			CreateTables:       v.GetBool("clickhouse.create_tables"),
			DialTimeoutSeconds: v.GetInt("clickhouse.dial_timeout_seconds"),
		},
	}

	return cfg, nil
}

func storageFromViper(v *viper.Viper, section string) StorageConfig {
	key := func(name string) string { return section + "." + name }
	return StorageConfig{
		Backend:                 v.GetString(key("backend")),
		LocalPath:               v.GetString(key("local_path")),
		S3Bucket:                v.GetString(key("s3_bucket")),
		S3Region:                v.GetString(key("s3_region")),
		S3Endpoint:              v.GetString(key("s3_endpoint")),
		S3AccessKey:             v.GetString(key("s3_access_key")),
		S3SecretKey:             v.GetString(key("s3_secret_key")),
		S3UseSSL:                v.GetBool(key("s3_use_ssl")),
		S3PathStyle:             v.GetBool(key("s3_path_style")),
		AzureConnectionString:   v.GetString(key("azure_connection_string")),
		AzureAccountName:        v.GetString(key("azure_account_name")),
		AzureAccountKey:         v.GetString(key("azure_account_key")),
		AzureSASToken:           v.GetString(key("azure_sas_token")),
		AzureContainer:          v.GetString(key("azure_container")),
		AzureEndpoint:           v.GetString(key("azure_endpoint")),
		AzureUseManagedIdentity: v.GetBool(key("azure_use_managed_identity")),
		Resilient:               v.GetBool(key("resilient")),
		MaxRetries:              v.GetInt(key("max_retries")),
		MaxFailures:             v.GetInt(key("max_failures")),
		BreakerTimeout:          v.GetInt(key("breaker_timeout")),
	}
}

// stringList accepts a TOML array or, from the environment, a comma
// separated string.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// splitPath turns "header.action" into ["header", "action"].
func splitPath(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("server.shutdown_timeout", 30)
	v.SetDefault("server.max_payload_size", "64MB")
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	storageDefaults(v, "storage", "./data/input")
	storageDefaults(v, "output", "./data/output")
	v.SetDefault("output.key_template", "processed/{table}/load_date={date}/{file}")
	v.SetDefault("output.parquet", true)

	v.SetDefault("processor.split_path", "type")
	v.SetDefault("processor.mapping_file", "")
	v.SetDefault("processor.default_coerce", true)
	v.SetDefault("processor.allow_negative", true)
	v.SetDefault("processor.normalize_aliases", false)
	v.SetDefault("processor.source_column", "s3_source_path")
	v.SetDefault("processor.modified_column", "s3_last_modified_utc")
	v.SetDefault("processor.workers", getDefaultWorkers())
	v.SetDefault("processor.format", "auto")
	v.SetDefault("processor.skip_seen", true)
	v.SetDefault("processor.max_object_size", "512MB")

	v.SetDefault("parquet.compression", "snappy")
	v.SetDefault("parquet.use_dictionary", true)
	v.SetDefault("parquet.write_statistics", true)
	v.SetDefault("parquet.data_page_version", "1.0")

	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.path", "./data/rowhouse.db")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.schedule", "*/15 * * * *")
	v.SetDefault("scheduler.prefixes", []string{})
	v.SetDefault("scheduler.timeout_minutes", 60)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topics", []string{})
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.tls_enabled", false)
	v.SetDefault("mqtt.tls_ca_path", "")
	v.SetDefault("mqtt.tls_cert_path", "")
	v.SetDefault("mqtt.tls_key_path", "")
	v.SetDefault("mqtt.tls_insecure_skip_verify", false)
	v.SetDefault("mqtt.workers", 2)
	v.SetDefault("mqtt.queue_size", 256)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.schema", "public")
	v.SetDefault("postgres.create_tables", true)
	v.SetDefault("postgres.max_conns", 4)

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addr", []string{"localhost:9000"})
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.create_tables", true)
	v.SetDefault("clickhouse.dial_timeout_seconds", 10)
}

func storageDefaults(v *viper.Viper, section, localPath string) {
	v.SetDefault(section+".backend", "local")
	v.SetDefault(section+".local_path", localPath)
	v.SetDefault(section+".s3_bucket", "")
	v.SetDefault(section+".s3_region", "us-east-1")
	v.SetDefault(section+".s3_endpoint", "")
	v.SetDefault(section+".s3_access_key", "")
	v.SetDefault(section+".s3_secret_key", "")
	v.SetDefault(section+".s3_use_ssl", true)
	v.SetDefault(section+".s3_path_style", false)
	v.SetDefault(section+".azure_connection_string", "")
	v.SetDefault(section+".azure_account_name", "")
	v.SetDefault(section+".azure_account_key", "")
	v.SetDefault(section+".azure_sas_token", "")
	v.SetDefault(section+".azure_container", "")
	v.SetDefault(section+".azure_endpoint", "")
	v.SetDefault(section+".azure_use_managed_identity", false)
	v.SetDefault(section+".resilient", true)
	v.SetDefault(section+".max_retries", 3)
	v.SetDefault(section+".max_failures", 5)
	v.SetDefault(section+".breaker_timeout", 30)
}

// getDefaultWorkers returns one worker per core, between 2 and 16.
func getDefaultWorkers() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 16 {
		workers = 16
	}
	return workers
}

// Validate checks the settings that need the processing pipeline: a
// mapping file, a split path and complete sink and trigger sections.
func (cfg *Config) Validate() error {
	if cfg.Processor.MappingFile == "" {
		return fmt.Errorf("processor.mapping_file is required")
	}
	if len(cfg.Processor.SplitPath) == 0 {
		return fmt.Errorf("processor.split_path is required")
	}
	for _, seg := range cfg.Processor.SplitPath {
		if seg == "" {
			return fmt.Errorf("processor.split_path has an empty segment")
		}
	}
	if cfg.Processor.Workers < 1 {
		return fmt.Errorf("processor.workers must be at least 1")
	}
	if !cfg.Output.Parquet && !cfg.Postgres.Enabled && !cfg.ClickHouse.Enabled {
		return fmt.Errorf("no output enabled: set output.parquet, postgres.enabled or clickhouse.enabled")
	}
	if cfg.Postgres.Enabled && cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres enabled but postgres.dsn not specified")
	}
	if cfg.ClickHouse.Enabled && len(cfg.ClickHouse.Addr) == 0 {
		return fmt.Errorf("clickhouse enabled but clickhouse.addr not specified")
	}
	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Prefixes) == 0 {
		return fmt.Errorf("scheduler enabled but scheduler.prefixes is empty")
	}
	if cfg.MQTT.Enabled && len(cfg.MQTT.Topics) == 0 {
		return fmt.Errorf("mqtt enabled but mqtt.topics is empty")
	}
	return cfg.Server.ValidateTLS()
}

// ValidateTLS validates TLS configuration when TLS is enabled.
// Returns nil if TLS is disabled or if configuration is valid.
func (cfg *ServerConfig) ValidateTLS() error {
	if !cfg.TLSEnabled {
		return nil
	}

	if cfg.TLSCertFile == "" {
		return fmt.Errorf("TLS enabled but server.tls_cert_file not specified")
	}
	if cfg.TLSKeyFile == "" {
		return fmt.Errorf("TLS enabled but server.tls_key_file not specified")
	}

	for _, f := range []struct{ kind, path string }{
		{"certificate", cfg.TLSCertFile},
		{"key", cfg.TLSKeyFile},
	} {
		info, err := os.Stat(f.path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("TLS %s file not found: %s", f.kind, f.path)
			}
			return fmt.Errorf("cannot access TLS %s file %s: %w", f.kind, f.path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("TLS %s path is a directory, not a file: %s", f.kind, f.path)
		}
	}
	return nil
}

// ParseSize parses a human-readable size string ("1GB", "500MB", "100KB")
// to bytes. Units are case-insensitive; a bare number is bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// longer suffixes first
	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if !strings.HasSuffix(sizeStr, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

		var num float64
		var trailing string
		n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
		if n == 0 {
			return 0, fmt.Errorf("invalid size number: %s", numStr)
		}
		if trailing != "" {
			// e.g. the "T" of "1TB"
			return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
		}
		if num < 0 {
			return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
		}
		return int64(num * float64(unit.multiplier)), nil
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
