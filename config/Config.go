package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mohitkumar/grcflow/analytics"
	"github.com/mohitkumar/grcflow/model"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	StorageType     StorageType
	RedisConfig     RedisStorageConfig
	SQLiteConfig    SQLiteConfig
	HttpPort        int
	LogLevel        string
	Development     bool
	BatchSize       int
	LockStripes     int
	PostActionQueue int
	Sweeps          SweepConfig
	Templates       TemplateConfig
	Actions         ActionConfig
	ReferenceFile   string
	Roles           map[string][]string
	SLAConfigs      []model.SLAConfiguration
	AnalyticsConfig analytics.DataCollectorConfig
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

// SQLiteConfig selects a sqlite file for the escalation audit log. Empty
// Path keeps escalation logs in the primary storage.
type SQLiteConfig struct {
	Path string
}

type SweepConfig struct {
	EscalationInterval time.Duration
	SLASchedule        string
	ReminderSchedule   string
	ReminderWindow     time.Duration
	ReminderInterval   time.Duration
	MaxReminders       int
}

type TemplateConfig struct {
	Dir      string
	Watch    bool
	CacheTTL time.Duration
}

type ActionConfig struct {
	WebhookTimeout    time.Duration
	WebhookMaxRetries uint64
	ScriptTimeout     time.Duration
}

// ReferenceData is the optional YAML file holding role membership and SLA
// configurations.
type ReferenceData struct {
	Roles      map[string][]string      `yaml:"roles"`
	SLAConfigs []model.SLAConfiguration `yaml:"sla_configs"`
}

func LoadReferenceData(path string) (*ReferenceData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ref ReferenceData
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &ref, nil
}

func (c Config) Validate() error {
	if !slices.Contains([]StorageType{STORAGE_TYPE_REDIS, STORAGE_TYPE_INMEM}, c.StorageType) {
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.StorageType == STORAGE_TYPE_REDIS && len(c.RedisConfig.Addrs) == 0 {
		return fmt.Errorf("redis storage needs at least one address")
	}
	if c.HttpPort <= 0 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	if c.Sweeps.EscalationInterval <= 0 {
		return fmt.Errorf("escalation interval must be positive")
	}
	return nil
}
