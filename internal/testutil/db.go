// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"nexthire/backend/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory SQLite database private to the test
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// Every pooled connection to ":memory:" would get its own empty database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Message{}))
	return db
}

// CreateUser inserts a user with the given id and name
func CreateUser(t *testing.T, db *gorm.DB, id, name, role string) *models.User {
	t.Helper()

	user := &models.User{
		ID:       id,
		Name:     name,
		Email:    id + "@nexthire.test",
		Password: "",
		Role:     role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
