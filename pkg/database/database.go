package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageNotOwned indicates the caller is not the message sender.
	ErrMessageNotOwned = errors.New("cannot delete message sent by another user")
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates a registration collided with an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrGroupNotFound indicates the group does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrInvalidTarget indicates a message has neither or both of receiver and group.
	ErrInvalidTarget = errors.New("message must have exactly one of receiver or group")
)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// User is a registered account
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    int64 // Unix timestamp in milliseconds
}

// Group is a named set of users that can receive group messages
type Group struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt int64
}

// Message is a persisted chat message. Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID *int64
	GroupID    *int64
	Content    string
	CreatedAt  int64 // Unix timestamp in milliseconds
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Multiple readers are fine in WAL mode
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	// Exactly one writer, never expires
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("write connection: %w", err)
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := runMigrations(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []struct {
		stmt string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		// Wait and retry instead of failing immediately with SQLITE_BUSY
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
		{"PRAGMA foreign_keys = ON", "enable foreign keys"},
		{"PRAGMA synchronous = NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", p.desc, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ===== Users =====

// CreateUser registers a new account and returns its ID
func (db *DB) CreateUser(username, displayName, passwordHash string) (int64, error) {
	if displayName == "" {
		displayName = username
	}
	result, err := db.writeConn.Exec(`
		INSERT INTO User (username, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, username, displayName, passwordHash, nowMillis())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return result.LastInsertId()
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername looks up an account by its unique username
func (db *DB) GetUserByUsername(username string) (*User, error) {
	return scanUser(db.conn.QueryRow(`
		SELECT id, username, display_name, password_hash, created_at
		FROM User WHERE username = ?
	`, username))
}

// GetUserByID looks up an account by ID
func (db *DB) GetUserByID(id int64) (*User, error) {
	return scanUser(db.conn.QueryRow(`
		SELECT id, username, display_name, password_hash, created_at
		FROM User WHERE id = ?
	`, id))
}

// ListUsers returns every account ordered by ID
func (db *DB) ListUsers() ([]*User, error) {
	rows, err := db.conn.Query(`
		SELECT id, username, display_name, password_hash, created_at
		FROM User ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ===== Groups =====

// CreateGroup creates a group and adds the creator as its first member
func (db *DB) CreateGroup(name string, createdBy int64) (int64, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := nowMillis()
	result, err := tx.Exec(`
		INSERT INTO ChatGroup (name, created_by, created_at) VALUES (?, ?, ?)
	`, name, createdBy, now)
	if err != nil {
		return 0, err
	}
	groupID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`
		INSERT INTO GroupMember (group_id, user_id, joined_at) VALUES (?, ?, ?)
	`, groupID, createdBy, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return groupID, nil
}

// AddGroupMember adds a user to a group. Adding an existing member is a no-op.
func (db *DB) AddGroupMember(groupID, userID int64) error {
	_, err := db.writeConn.Exec(`
		INSERT OR IGNORE INTO GroupMember (group_id, user_id, joined_at) VALUES (?, ?, ?)
	`, groupID, userID, nowMillis())
	return err
}

// GetGroup looks up a group by ID
func (db *DB) GetGroup(groupID int64) (*Group, error) {
	g := &Group{}
	err := db.conn.QueryRow(`
		SELECT id, name, created_by, created_at FROM ChatGroup WHERE id = ?
	`, groupID).Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GroupMemberIDs returns the member IDs of a group in ascending order
func (db *DB) GroupMemberIDs(groupID int64) ([]int64, error) {
	rows, err := db.conn.Query(`
		SELECT user_id FROM GroupMember WHERE group_id = ? ORDER BY user_id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsGroupMember reports whether userID belongs to groupID
func (db *DB) IsGroupMember(groupID, userID int64) (bool, error) {
	var exists int
	err := db.conn.QueryRow(`
		SELECT 1 FROM GroupMember WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListGroupsForUser returns the groups a user belongs to ordered by ID
func (db *DB) ListGroupsForUser(userID int64) ([]*Group, error) {
	rows, err := db.conn.Query(`
		SELECT g.id, g.name, g.created_by, g.created_at
		FROM ChatGroup g
		JOIN GroupMember m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ===== Messages =====

// PostMessage persists a message and returns it with its assigned ID and timestamp.
// Exactly one of receiverID and groupID must be set.
func (db *DB) PostMessage(senderID int64, receiverID, groupID *int64, content string) (*Message, error) {
	if (receiverID == nil) == (groupID == nil) {
		return nil, ErrInvalidTarget
	}

	var receiverVal, groupVal sql.NullInt64
	if receiverID != nil {
		receiverVal.Valid = true
		receiverVal.Int64 = *receiverID
	}
	if groupID != nil {
		groupVal.Valid = true
		groupVal.Int64 = *groupID
	}

	now := nowMillis()
	result, err := db.writeConn.Exec(`
		INSERT INTO Message (sender_id, receiver_id, group_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, senderID, receiverVal, groupVal, content, now)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        id,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	}
	if receiverID != nil {
		r := *receiverID
		msg.ReceiverID = &r
	}
	if groupID != nil {
		g := *groupID
		msg.GroupID = &g
	}
	return msg, nil
}

const messageColumns = `id, sender_id, receiver_id, group_id, content, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	msg := &Message{}
	var receiverID, groupID sql.NullInt64
	if err := row.Scan(&msg.ID, &msg.SenderID, &receiverID, &groupID, &msg.Content, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if receiverID.Valid {
		msg.ReceiverID = &receiverID.Int64
	}
	if groupID.Valid {
		msg.GroupID = &groupID.Int64
	}
	return msg, nil
}

// GetMessage returns a message by ID
func (db *DB) GetMessage(messageID int64) (*Message, error) {
	msg, err := scanMessage(db.conn.QueryRow(`SELECT `+messageColumns+` FROM Message WHERE id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage hard-deletes a message sent by requesterID and returns the
// removed row so callers can notify the affected parties.
func (db *DB) DeleteMessage(requesterID, messageID int64) (*Message, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg, err := scanMessage(tx.QueryRow(`SELECT `+messageColumns+` FROM Message WHERE id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	if msg.SenderID != requesterID {
		return nil, ErrMessageNotOwned
	}

	if _, err := tx.Exec(`DELETE FROM Message WHERE id = ?`, messageID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (db *DB) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Queries select newest first to apply the limit; callers get ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListDirectHistory returns up to limit of the most recent messages exchanged
// between a and b, oldest first
func (db *DB) ListDirectHistory(a, b int64, limit int) ([]*Message, error) {
	return db.queryMessages(`
		SELECT `+messageColumns+`
		FROM Message
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`, a, b, b, a, limit)
}

// ListGroupHistory returns up to limit of the most recent messages in a group, oldest first
func (db *DB) ListGroupHistory(groupID int64, limit int) ([]*Message, error) {
	return db.queryMessages(`
		SELECT `+messageColumns+`
		FROM Message
		WHERE group_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, groupID, limit)
}
