package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"arenad/api"
)

func ParseArgs() Args {
	// service config
	pflag.String("ops-addr", "0.0.0.0:9090", "address of the health and metrics endpoints, empty to disable")
	pflag.Bool("once", false, "run a single scheduler tick and exit")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.String("log-format", "text", "text or json")

	// db config
	pflag.String("db-driver", "postgres", "postgres or sqlite")
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.String("db-sqlite-path", "arena.db", "")
	pflag.Int("db-max-retries", 3, "retries of a transaction after a serialization conflict")

	// redis config
	pflag.String("redis-addr", "", "empty to run without redis")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 0, "")
	pflag.String("redis-event-stream", "arena-events", "stream receiving lifecycle events, empty to disable")
	pflag.Int64("redis-event-stream-len", 100000, "approximate number of events kept in the stream")

	// nats config
	pflag.String("nats-url", "", "empty to disable")
	pflag.String("nats-name", "arena", "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-region", "auto", "")
	pflag.String("s3-bucket", "", "bucket of the draw archive, empty to disable")
	pflag.String("s3-prefix", "arena", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")

	// scheduler config
	pflag.Duration("scheduler-interval", time.Minute, "")
	pflag.String("scheduler-lock-key", "arena-scheduler-lock", "redis key used to run one tick at a time across instances")
	pflag.Duration("scheduler-lock-expiry", 30*time.Second, "")

	// settlement config
	pflag.String("settlement-mode", "", "settlement gateway, only \"simulated\" is supported and must be set explicitly")
	pflag.Duration("settlement-verify-cache-ttl", 24*time.Hour, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		Once:      viper.GetBool("once"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
		ServerConfig: api.ServerConfig{
			OpsAddr: viper.GetString("ops-addr"),
			DB: api.DBConfig{
				Driver:     viper.GetString("db-driver"),
				User:       viper.GetString("db-user"),
				Password:   viper.GetString("db-password"),
				Host:       viper.GetString("db-host"),
				Port:       viper.GetInt("db-port"),
				Database:   viper.GetString("db-database"),
				Schema:     viper.GetString("db-schema"),
				SQLitePath: viper.GetString("db-sqlite-path"),
				MaxRetries: viper.GetInt("db-max-retries"),
			},
			Redis: api.RedisConfig{
				Addr:           viper.GetString("redis-addr"),
				Password:       viper.GetString("redis-password"),
				DB:             viper.GetInt("redis-db"),
				EventStream:    viper.GetString("redis-event-stream"),
				EventStreamLen: viper.GetInt64("redis-event-stream-len"),
			},
			NATS: api.NATSConfig{
				URL:  viper.GetString("nats-url"),
				Name: viper.GetString("nats-name"),
			},
			S3: api.S3Config{
				Endpoint:        viper.GetString("s3-endpoint"),
				Region:          viper.GetString("s3-region"),
				Bucket:          viper.GetString("s3-bucket"),
				Prefix:          viper.GetString("s3-prefix"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
			},
			Scheduler: api.SchedulerConfig{
				Interval:   viper.GetDuration("scheduler-interval"),
				LockKey:    viper.GetString("scheduler-lock-key"),
				LockExpiry: viper.GetDuration("scheduler-lock-expiry"),
			},
			Settlement: api.SettlementConfig{
				Mode:           viper.GetString("settlement-mode"),
				VerifyCacheTTL: viper.GetDuration("settlement-verify-cache-ttl"),
			},
		},
	}
}

type Args struct {
	Once         bool
	LogLevel     string
	LogFormat    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() error {
	db := args.ServerConfig.DB
	switch db.Driver {
	case "postgres":
		if db.Host == "" || db.Database == "" || db.User == "" {
			return fmt.Errorf("db-host, db-database and db-user are required for postgres")
		}
	case "sqlite":
		if db.SQLitePath == "" {
			return fmt.Errorf("db-sqlite-path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown db-driver %q", db.Driver)
	}
	if db.MaxRetries < 0 {
		return fmt.Errorf("db-max-retries cannot be negative")
	}
	if args.ServerConfig.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler-interval must be positive")
	}
	if args.ServerConfig.Settlement.Mode != api.SettlementModeSimulated {
		return fmt.Errorf("unsupported settlement-mode %q, set --settlement-mode=%s", args.ServerConfig.Settlement.Mode, api.SettlementModeSimulated)
	}
	if args.ServerConfig.Settlement.VerifyCacheTTL <= 0 {
		return fmt.Errorf("settlement-verify-cache-ttl must be positive")
	}
	if _, err := parseLevel(args.LogLevel); err != nil {
		return err
	}
	if args.LogFormat != "text" && args.LogFormat != "json" {
		return fmt.Errorf("unknown log-format %q", args.LogFormat)
	}
	return nil
}
