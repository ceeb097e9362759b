package db

import (
	"strings"
	"time"

	"chatroom/internal/models"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN 表示不使用持久化，仅在内存中运行。
const MemoryDSN = "memory"

func dialector(dsn string) gorm.Dialector {
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return sqlite.Open(path)
	}
	return postgres.Open(dsn)
}

// Connect 负责建立数据库连接，并带有简单的重试来等待容器就绪。
// DSN 以 "sqlite:" 开头时使用本地 SQLite 文件。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if err2 = sqlDB.Ping(); err2 == nil {
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetMaxOpenConns(20)
					sqlDB.SetConnMaxLifetime(time.Hour)
					return gdb, nil
				}
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, errors.Wrap(err, "connect database")
}

// Migrate 自动迁移 users、rooms、sessions、messages 与 retired_message_ids。
func Migrate(gdb *gorm.DB) error {
	return errors.Wrap(gdb.AutoMigrate(&models.User{}, &models.Room{}, &models.Session{}, &models.Message{}, &models.RetiredMessageID{}), "migrate")
}
