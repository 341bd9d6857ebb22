package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound covers both a genuinely absent row and a row owned by
	// another user; callers must not be able to tell the two apart.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned by CreateUser on a duplicate email.
	ErrEmailTaken = errors.New("email already taken")
)

// Store is the single source of truth for users, conversations,
// messages and response versions. Safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&User{},
		&RefreshToken{},
		&Conversation{},
		&Message{},
		&AiResponse{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
