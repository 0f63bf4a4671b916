package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound   = errors.New("database: record not found")
	ErrForbidden  = errors.New("database: caller does not own the record")
	ErrValidation = errors.New("database: invalid record")
)

const dateLayout = "2006-01-02"

// The journal has a closed set of exactly two accounts, seeded once at
// first startup and immutable afterwards.
const (
	UserIDYou    int64 = 1
	UserIDFriend int64 = 2

	UsernameYou    = "You"
	UsernameFriend = "Friend"
)

const (
	YourPasswordEnv   = "YOUR_PASSWORD"
	FriendPasswordEnv = "FRIEND_PASSWORD"
)

// otherUser returns the counterpart of the given user id. Appreciation
// notes are always addressed to the other of the two fixed users.
func otherUser(id int64) int64 {
	if id == UserIDYou {
		return UserIDFriend
	}

	return UserIDYou
}

type SQLiteDatabase struct {
	db *sql.DB
}

func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// SQLite allows a single writer; a one-connection pool avoids
	// SQLITE_BUSY and guarantees release on every exit path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	slog.Debug("Database opened", "path", path)

	return &SQLiteDatabase{db: db}, nil
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// SeedUsers inserts the two fixed accounts if and only if the user table is
// empty, so a restart never resets a changed password. The plaintext seed
// passwords come from the environment and are consumed only here.
func (s *SQLiteDatabase) SeedUsers(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user`).Scan(&count); err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	var (
		yourPassword   = os.Getenv(YourPasswordEnv)
		friendPassword = os.Getenv(FriendPasswordEnv)
	)

	if yourPassword == "" || friendPassword == "" {
		return fmt.Errorf("seeding users requires %s and %s to be set", YourPasswordEnv, FriendPasswordEnv)
	}

	yourHash, err := hashPassword(yourPassword)
	if err != nil {
		return err
	}

	friendHash, err := hashPassword(friendPassword)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertUser = `
	INSERT INTO user (id, username, password_hash)
	VALUES (?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, insertUser, UserIDYou, UsernameYou, string(yourHash)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertUser, UserIDFriend, UsernameFriend, string(friendHash)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("Seeded the two journal accounts")

	return nil
}

func (s *SQLiteDatabase) GetUserByID(ctx context.Context, id int64) (User, error) {
	const getUserByID = `
	SELECT
		id,
		username,
		password_hash
	FROM user
	WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, getUserByID, id)
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return u, err
}

func (s *SQLiteDatabase) GetUserByUsername(ctx context.Context, username string) (User, error) {
	const getUserByUsername = `
	SELECT
		id,
		username,
		password_hash
	FROM user
	WHERE username = ?
	`

	row := s.db.QueryRowContext(ctx, getUserByUsername, username)
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return u, err
}

// ListMemories returns every memory regardless of owner (the journal is a
// shared view), newest date first.
func (s *SQLiteDatabase) ListMemories(ctx context.Context) ([]Memory, error) {
	const listMemories = `
	SELECT
		id,
		title,
		story,
		latitude,
		longitude,
		COALESCE(photo_url, ''),
		date,
		user_id
	FROM memory
	ORDER BY date DESC
	`

	rows, err := s.db.QueryContext(ctx, listMemories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Memory

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *SQLiteDatabase) CreateMemory(ctx context.Context, m Memory) (int64, error) {
	if err := validateMemory(m); err != nil {
		return 0, err
	}

	const createMemory = `
	INSERT INTO memory (title, story, latitude, longitude, photo_url, date, user_id)
	VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)
	`

	res, err := s.db.ExecContext(ctx, createMemory,
		m.Title,
		m.Story,
		m.Latitude,
		m.Longitude,
		m.PhotoURL,
		m.Date.Format(dateLayout),
		m.UserID,
	)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (s *SQLiteDatabase) GetMemoryByID(ctx context.Context, id int64) (Memory, error) {
	const getMemoryByID = `
	SELECT
		id,
		title,
		story,
		latitude,
		longitude,
		COALESCE(photo_url, ''),
		date,
		user_id
	FROM memory
	WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, getMemoryByID, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}

	return m, err
}

// UpdateMemory overwrites a memory in place after verifying the caller owns
// it. The caller decides what PhotoURL to pass; keeping a photo across an
// edit means passing the existing value through.
func (s *SQLiteDatabase) UpdateMemory(ctx context.Context, id, callerID int64, m Memory) error {
	if err := validateMemory(m); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ownerOf(ctx, tx, `SELECT user_id FROM memory WHERE id = ?`, id, callerID); err != nil {
		return err
	}

	const updateMemory = `
	UPDATE memory
	SET title = ?, story = ?, latitude = ?, longitude = ?, photo_url = NULLIF(?, ''), date = ?
	WHERE id = ?
	`

	if _, err := tx.ExecContext(ctx, updateMemory,
		m.Title,
		m.Story,
		m.Latitude,
		m.Longitude,
		m.PhotoURL,
		m.Date.Format(dateLayout),
		id,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteDatabase) DeleteMemory(ctx context.Context, id, callerID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ownerOf(ctx, tx, `SELECT user_id FROM memory WHERE id = ?`, id, callerID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ListAppreciations returns every note joined with its author's username,
// newest first.
func (s *SQLiteDatabase) ListAppreciations(ctx context.Context) ([]AppreciationNote, error) {
	const listAppreciations = `
	SELECT
		a.id,
		a.text,
		a.author_id,
		a.recipient_id,
		u.username
	FROM appreciation a
	JOIN user u ON a.author_id = u.id
	ORDER BY a.id DESC
	`

	rows, err := s.db.QueryContext(ctx, listAppreciations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AppreciationNote

	for rows.Next() {
		var n AppreciationNote
		if err := rows.Scan(
			&n.ID,
			&n.Text,
			&n.AuthorID,
			&n.RecipientID,
			&n.AuthorName,
		); err != nil {
			return nil, err
		}

		items = append(items, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// CreateAppreciation records a note from authorID to the other user. The
// recipient is computed here, never taken from the caller.
func (s *SQLiteDatabase) CreateAppreciation(ctx context.Context, authorID int64, text string) (int64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: text is required", ErrValidation)
	}

	const createAppreciation = `
	INSERT INTO appreciation (text, author_id, recipient_id)
	VALUES (?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, createAppreciation, text, authorID, otherUser(authorID))
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (s *SQLiteDatabase) GetAppreciationByID(ctx context.Context, id int64) (Appreciation, error) {
	const getAppreciationByID = `
	SELECT
		id,
		text,
		author_id,
		recipient_id
	FROM appreciation
	WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, getAppreciationByID, id)
	var a Appreciation
	err := row.Scan(&a.ID, &a.Text, &a.AuthorID, &a.RecipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return Appreciation{}, ErrNotFound
	}

	return a, err
}

func (s *SQLiteDatabase) UpdateAppreciation(ctx context.Context, id, callerID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ownerOf(ctx, tx, `SELECT author_id FROM appreciation WHERE id = ?`, id, callerID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE appreciation SET text = ? WHERE id = ?`, text, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteDatabase) DeleteAppreciation(ctx context.Context, id, callerID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ownerOf(ctx, tx, `SELECT author_id FROM appreciation WHERE id = ?`, id, callerID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM appreciation WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ownerOf resolves the owning user of a row inside tx and compares it to
// the caller. ErrNotFound and ErrForbidden stay distinct here; the route
// layer collapses both into a redirect.
func ownerOf(ctx context.Context, tx *sql.Tx, query string, id, callerID int64) error {
	var ownerID int64
	err := tx.QueryRowContext(ctx, query, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if ownerID != callerID {
		return ErrForbidden
	}

	return nil
}

func validateMemory(m Memory) error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(m.Story) == "" {
		return fmt.Errorf("%w: story is required", ErrValidation)
	}
	if m.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// The date column is declared DATE, so the sqlite driver hands back a
// time.Time even though we store the plain YYYY-MM-DD text.
func scanMemory(row rowScanner) (Memory, error) {
	var m Memory

	err := row.Scan(
		&m.ID,
		&m.Title,
		&m.Story,
		&m.Latitude,
		&m.Longitude,
		&m.PhotoURL,
		&m.Date,
		&m.UserID,
	)

	return m, err
}

func hashPassword(pwd string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pwd), 14)
}
