package db

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"

	"github.com/u16-io/avatarsync/model"
)

// DB is the shared gorm handle
var DB *gorm.DB

// Init opens the sqlite database and migrates the schema
func Init(path string) error {
	database, err := gorm.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", path, err)
	}
	database.AutoMigrate(&model.AvatarCache{})
	DB = database
	return nil
}

// Close closes the shared handle
func Close() error {
	if DB == nil {
		return nil
	}
	return DB.Close()
}
