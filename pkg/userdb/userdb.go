// Package userdb is the credentials store behind registration auth and
// signup. One SQLite table, username unique, passwords as provisioned by
// the signup service.
package userdb

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var (
	ErrUserExists      = errors.New("userdb: username already taken")
	ErrUserNotFound    = errors.New("userdb: user not found")
	ErrInvalidUsername = errors.New("userdb: username must be 3-30 chars of [A-Za-z0-9_-]")
	ErrInvalidPassword = errors.New("userdb: password must be 6-16 printable non-whitespace chars")
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,30}$`)
	passwordRe = regexp.MustCompile(`^[\x21-\x7e]{6,16}$`)
)

// ValidUsername reports whether name satisfies the signup constraints.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// ValidPassword reports whether pass satisfies the signup constraints.
func ValidPassword(pass string) bool {
	return passwordRe.MatchString(pass)
}

// Store wraps the users table. Methods are safe for concurrent use; the
// driver serializes access to the underlying file.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("userdb: open %s: %w", path, err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("userdb: create schema: %w", err)
	}
	logger.WithField("path", path).Debug("User database opened")
	return &Store{db: db, logger: logger}, nil
}

// AddUser inserts a new user. Validation happens here so every caller
// (signup server, provisioning tools) gets the same constraints.
func (s *Store) AddUser(username, password string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	if !ValidPassword(password) {
		return ErrInvalidPassword
	}
	res, err := s.db.Exec(
		`INSERT INTO users (username, password) VALUES (?, ?) ON CONFLICT(username) DO NOTHING`,
		username, password,
	)
	if err != nil {
		return fmt.Errorf("userdb: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("userdb: rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserExists
	}
	s.logger.WithField("username", username).Info("User enrolled")
	return nil
}

// UserExists reports whether username is enrolled.
func (s *Store) UserExists(username string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("userdb: query: %w", err)
	}
	return true, nil
}

// GetPassword returns the stored password for username.
func (s *Store) GetPassword(username string) (string, error) {
	var pass string
	err := s.db.QueryRow(`SELECT password FROM users WHERE username = ?`, username).Scan(&pass)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("userdb: query: %w", err)
	}
	return pass, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
