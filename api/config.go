package api

import "time"

type ServerConfig struct {
	DB         DBConfig
	Redis      RedisConfig
	S3         S3Config
	NATS       NATSConfig
	Scheduler  SchedulerConfig
	Settlement SettlementConfig
	OpsAddr    string
}

type DBConfig struct {
	// Driver 為postgres或sqlite
	Driver     string
	User       string
	Password   string
	Host       string
	Port       int
	Database   string
	Schema     string
	SQLitePath string
	MaxRetries int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	EventStream    string
	EventStreamLen int64
}

// Enabled 未設置位址時不使用redis
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
}

// Enabled 未設置bucket時不封存抽獎紀錄
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type NATSConfig struct {
	URL  string
	Name string
}

func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type SchedulerConfig struct {
	Interval time.Duration
	// LockKey 非空且有redis時啟用跨實例鎖
	LockKey    string
	LockExpiry time.Duration
}

// SettlementModeSimulated 以記憶體模擬閘道結算，不會觸及任何鏈上資產
const SettlementModeSimulated = "simulated"

type SettlementConfig struct {
	// Mode 必須明確指定；目前只支援simulated
	Mode           string
	VerifyCacheTTL time.Duration
}
