package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/lumenchat/backend/internal/chat"
)

// Connect opens the MySQL database and migrates the chat schema.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&chat.User{}, &chat.Chat{}, &chat.Message{}, &chat.Job{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
