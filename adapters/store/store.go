package store

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"arenad/models"
)

type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.Schema)
}

// OpenPostgres 建立postgres連線
func OpenPostgres(config PostgresConfig) (*gorm.DB, error) {
	const op = "OpenPostgres"
	namingStrategy := schema.NamingStrategy{}
	if config.Schema != "" {
		namingStrategy.TablePrefix = config.Schema + "."
	}
	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{
		TranslateError: true,
		NamingStrategy: namingStrategy,
		Logger:         newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	return db, nil
}

// OpenSQLite 建立sqlite連線，用於本機開發與測試
// sqlite同時只允許一個寫入者，因此連線池限制為單一連線
func OpenSQLite(path string) (*gorm.DB, error) {
	const op = "OpenSQLite"
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=off"), &gorm.Config{
		TranslateError: true,
		Logger:         newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open sqlite database, err=%w", op, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get sql.DB, err=%w", op, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate 同步所有模型的schema
func Migrate(db *gorm.DB) error {
	const op = "Migrate"
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate models, err=%w", op, err)
	}
	return nil
}

// ForUpdate 以寫入鎖讀取資料列，sqlite方言會忽略此子句
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func newLogger() logger.Interface {
	writer := slog.NewLogLogger(slog.Default().With(slog.String("caller", "gorm")).Handler(), slog.LevelWarn)
	return logger.New(writer, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
