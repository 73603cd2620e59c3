package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Broker      BrokerConfig      `toml:"broker"`
	TLS         TLSConfig         `toml:"tls"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	CVMFS       CVMFSConfig       `toml:"cvmfs"`
	Vault       VaultConfig       `toml:"vault"`
	Alerting    AlertingConfig    `toml:"alerting"`
	Sync        SyncConfig        `toml:"sync"`
	Supervisor  SupervisorConfig  `toml:"supervisor"`
	EventBus    EventBusConfig    `toml:"event_bus"`
}

// ServerConfig configures the optional status endpoint. An empty Port
// disables it.
type ServerConfig struct {
	Port            string   `toml:"port"`
	Host            string   `toml:"host"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type BrokerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	ServerName         string   `toml:"server_name"`
	VHost              string   `toml:"vhost"`
	User               string   `toml:"user"`
	Password           string   `toml:"password"`
	ManagementURL      string   `toml:"management_url"`
	Exchange           string   `toml:"exchange"`
	PublisherQueue     string   `toml:"publisher_queue"`
	ExcludedQueues     []string `toml:"excluded_queues"`
	PrefetchCount      int      `toml:"prefetch_count"`
	Heartbeat          Duration `toml:"heartbeat"`
	ConnectionAttempts int      `toml:"connection_attempts"`
	RetryDelay         Duration `toml:"retry_delay"`
	// Credentials the object store uses to push notifications to the broker.
	PushUser     string `toml:"push_user"`
	PushPassword string `toml:"push_password"`
}

type TLSConfig struct {
	CACert             string `toml:"ca_cert"`
	ClientCert         string `toml:"client_cert"`
	ClientKey          string `toml:"client_key"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Enabled reports whether any TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CACert != "" || t.ClientCert != ""
}

type ObjectStoreConfig struct {
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	Role            string   `toml:"role"`
	SessionName     string   `toml:"session_name"`
	SessionDuration Duration `toml:"session_duration"`
	KeyPrefix       string   `toml:"key_prefix"`
	TopicARNPrefix  string   `toml:"topic_arn_prefix"`
}

type CVMFSConfig struct {
	ServerBinary     string `toml:"server_binary"`
	Stratum0URL      string `toml:"stratum0_url"`
	UpstreamStorage  string `toml:"upstream_storage"`
	Owner            string `toml:"owner"`
	RepositoryRoot   string `toml:"repository_root"`
	StagingRoot      string `toml:"staging_root"`
	KeyDir           string `toml:"key_dir"`
	DomainSuffix     string `toml:"domain_suffix"`
	ArchiveExtension string `toml:"archive_extension"`
	ArchiveBaseDir   string `toml:"archive_base_dir"`
}

type VaultConfig struct {
	Address   string `toml:"address"`
	RoleID    string `toml:"role_id"`
	SecretID  string `toml:"secret_id"`
	MountPath string `toml:"mount_path"`
}

type AlertingConfig struct {
	SenderBinary string  `toml:"sender_binary"`
	Server       string  `toml:"server"`
	Host         string  `toml:"host"`
	ItemKey      string  `toml:"item_key"`
	RatePerMin   float64 `toml:"rate_per_minute"`
	Burst        int     `toml:"burst"`
}

// Enabled reports whether alerts leave the process.
func (a AlertingConfig) Enabled() bool {
	return a.Server != "" && a.ItemKey != ""
}

type SyncConfig struct {
	Interval     Duration `toml:"interval"`
	WatchStaging bool     `toml:"watch_staging"`
	MinInterval  Duration `toml:"min_interval"`
	StaleTempAge Duration `toml:"stale_temp_age"`
}

type SupervisorConfig struct {
	DiscoveryInterval Duration `toml:"discovery_interval"`
}

type EventBusConfig struct {
	ChannelBufferSize int `toml:"channel_buffer_size"`
	MaxRetries        int `toml:"max_retries"`
}

// Duration decodes TOML strings such as "60s" or "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 4,
			MaxAgeDays: 7,
		},
		Broker: BrokerConfig{
			Port:               5671,
			VHost:              "/",
			Exchange:           "notification",
			PublisherQueue:     "publisher",
			ExcludedQueues:     []string{"cvmfs_reply", "cvmfs", "publisher", "trace"},
			PrefetchCount:      10,
			Heartbeat:          Duration{60 * time.Second},
			ConnectionAttempts: 3,
			RetryDelay:         Duration{5 * time.Second},
		},
		ObjectStore: ObjectStoreConfig{
			Region:          "default",
			SessionName:     "cvmfs-publisher",
			SessionDuration: Duration{time.Hour},
			KeyPrefix:       "cvmfs/",
		},
		CVMFS: CVMFSConfig{
			ServerBinary:     "cvmfs_server",
			RepositoryRoot:   "/cvmfs",
			StagingRoot:      "/data/cvmfs",
			KeyDir:           os.TempDir(),
			DomainSuffix:     ".infn.it",
			ArchiveExtension: ".tar",
			ArchiveBaseDir:   "software",
		},
		Vault: VaultConfig{
			MountPath: "secrets",
		},
		Alerting: AlertingConfig{
			SenderBinary: "zabbix_sender",
			RatePerMin:   30,
			Burst:        10,
		},
		Sync: SyncConfig{
			Interval:     Duration{60 * time.Second},
			MinInterval:  Duration{5 * time.Second},
			StaleTempAge: Duration{time.Hour},
		},
		Supervisor: SupervisorConfig{
			DiscoveryInterval: Duration{30 * time.Minute},
		},
		EventBus: EventBusConfig{
			ChannelBufferSize: 1000,
			MaxRetries:        3,
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path, a .env file and the process environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env file: %v", err)
	}

	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.ShutdownTimeout.Duration = getDurationEnv("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout.Duration)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	cfg.Broker.Host = getEnv("RABBITMQ_HOST", cfg.Broker.Host)
	cfg.Broker.Port = getIntEnv("RABBITMQ_PORT", cfg.Broker.Port)
	cfg.Broker.User = getEnv("RABBITMQ_USER", cfg.Broker.User)
	cfg.Broker.Password = getEnv("RABBITMQ_PASSWORD", cfg.Broker.Password)
	cfg.Broker.ManagementURL = getEnv("RABBITMQ_MANAGEMENT_URL", cfg.Broker.ManagementURL)
	cfg.Broker.PushUser = getEnv("RABBITMQ_PUSH_USER", cfg.Broker.PushUser)
	cfg.Broker.PushPassword = getEnv("RABBITMQ_PUSH_PASSWORD", cfg.Broker.PushPassword)
	cfg.Broker.PrefetchCount = getIntEnv("RABBITMQ_PREFETCH_COUNT", cfg.Broker.PrefetchCount)
	cfg.Broker.ExcludedQueues = getListEnv("RABBITMQ_EXCLUDED_QUEUES", cfg.Broker.ExcludedQueues)

	cfg.ObjectStore.Endpoint = getEnv("S3_ENDPOINT", cfg.ObjectStore.Endpoint)
	cfg.ObjectStore.Region = getEnv("S3_REGION", cfg.ObjectStore.Region)
	cfg.ObjectStore.AccessKey = getEnv("S3_ACCESS_KEY", cfg.ObjectStore.AccessKey)
	cfg.ObjectStore.SecretKey = getEnv("S3_SECRET_KEY", cfg.ObjectStore.SecretKey)
	cfg.ObjectStore.Role = getEnv("S3_ROLE", cfg.ObjectStore.Role)

	cfg.CVMFS.RepositoryRoot = getEnv("CVMFS_REPOSITORY_ROOT", cfg.CVMFS.RepositoryRoot)
	cfg.CVMFS.StagingRoot = getEnv("CVMFS_STAGING_ROOT", cfg.CVMFS.StagingRoot)
	cfg.CVMFS.Stratum0URL = getEnv("CVMFS_STRATUM0_URL", cfg.CVMFS.Stratum0URL)
	cfg.CVMFS.UpstreamStorage = getEnv("CVMFS_UPSTREAM_STORAGE", cfg.CVMFS.UpstreamStorage)

	cfg.Vault.Address = getEnv("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.RoleID = getEnv("VAULT_ROLE_ID", cfg.Vault.RoleID)
	cfg.Vault.SecretID = getEnv("VAULT_SECRET_ID", cfg.Vault.SecretID)

	cfg.Alerting.Server = getEnv("ZABBIX_SERVER", cfg.Alerting.Server)
	cfg.Alerting.Host = getEnv("ZABBIX_HOST", cfg.Alerting.Host)
	cfg.Alerting.ItemKey = getEnv("ZABBIX_ITEM_KEY", cfg.Alerting.ItemKey)

	cfg.Sync.Interval.Duration = getDurationEnv("SYNC_INTERVAL", cfg.Sync.Interval.Duration)
	cfg.Supervisor.DiscoveryInterval.Duration = getDurationEnv("DISCOVERY_INTERVAL", cfg.Supervisor.DiscoveryInterval.Duration)

	cfg.EventBus.ChannelBufferSize = getIntEnv("EVENT_CHANNEL_BUFFER_SIZE", cfg.EventBus.ChannelBufferSize)
	cfg.EventBus.MaxRetries = getIntEnv("MAX_RETRIES", cfg.EventBus.MaxRetries)
}

// Component selects which part of the configuration Validate checks.
type Component int

const (
	ComponentConsumers Component = 1 << iota
	ComponentSync
	ComponentProvisioner
	ComponentBucketSetup
)

func (c *Config) Validate(components Component) error {
	var problems []string

	if c.CVMFS.StagingRoot == "" {
		problems = append(problems, "cvmfs.staging_root is required")
	}
	if c.CVMFS.RepositoryRoot == "" {
		problems = append(problems, "cvmfs.repository_root is required")
	}

	if components&(ComponentConsumers|ComponentProvisioner) != 0 {
		if c.Broker.Host == "" {
			problems = append(problems, "broker.host is required")
		}
		if c.Broker.PrefetchCount < 1 {
			problems = append(problems, "broker.prefetch_count must be positive")
		}
	}

	if components&ComponentConsumers != 0 {
		if c.Broker.ManagementURL == "" {
			problems = append(problems, "broker.management_url is required")
		}
		if c.ObjectStore.Endpoint == "" {
			problems = append(problems, "object_store.endpoint is required")
		}
		if c.Supervisor.DiscoveryInterval.Duration <= 0 {
			problems = append(problems, "supervisor.discovery_interval must be positive")
		}
	}

	if components&ComponentSync != 0 {
		if c.Sync.Interval.Duration <= 0 {
			problems = append(problems, "sync.interval must be positive")
		}
	}

	if components&ComponentProvisioner != 0 {
		if c.Vault.Address == "" {
			problems = append(problems, "vault.address is required")
		}
		if c.CVMFS.Stratum0URL == "" {
			problems = append(problems, "cvmfs.stratum0_url is required")
		}
	}

	if components&(ComponentProvisioner|ComponentBucketSetup) != 0 {
		if c.ObjectStore.Endpoint == "" {
			problems = append(problems, "object_store.endpoint is required")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getListEnv(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
