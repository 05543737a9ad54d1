package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"classroom-qa/internal/domain"
)

// Models 是需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&domain.User{},
		&domain.Course{},
		&domain.Enrollment{},
		&domain.Session{},
		&domain.Slide{},
		&domain.Question{},
		&domain.QuestionUpvote{},
		&domain.Answer{},
	}
}

// MigrateDB 使用 AutoMigrate 迁移所有表。
// 索引长度由模型上的 size / varchar(191) 标签保证，不再需要手写 CREATE TABLE。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		logrus.WithError(err).Error("Failed to auto-migrate tables")
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
