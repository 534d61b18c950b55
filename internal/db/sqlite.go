package db

import (
	"database/sql"
	"fmt"

	"github.com/lsherwin/chalkboard/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    api_token TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    speech_content TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts4(
    title,
    content,
    tokenize=porter
);

-- Triggers to keep the FTS index up to date
CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(docid, title, content)
    VALUES (new.id, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
    DELETE FROM memories_fts WHERE docid = old.id;
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
    DELETE FROM memories_fts WHERE docid = old.id;
    INSERT INTO memories_fts(docid, title, content)
    VALUES (new.id, new.title, new.content);
END;`

// ErrNotFound is returned when a row does not exist or belongs to a
// different user. Callers cannot tell the two apart.
var ErrNotFound = fmt.Errorf("not found")

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// EnsureUser creates a user with the given API token if none exists yet,
// and returns the user either way.
func (db *Database) EnsureUser(name, token string) (*models.User, error) {
	user, err := db.UserByToken(token)
	if err == nil {
		return user, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	query := `
        INSERT INTO users (name, api_token, created_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	user = &models.User{Name: name}
	err = db.db.QueryRow(query, name, token).Scan(&user.ID, &user.CreatedAt)
	return user, err
}

func (db *Database) UserByToken(token string) (*models.User, error) {
	query := `SELECT id, name, created_at FROM users WHERE api_token = ?`

	var user models.User
	err := db.db.QueryRow(query, token).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *Database) CreateConversation(userID int64, title string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (user_id, title, created_at, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        RETURNING id, created_at, updated_at`

	conv := &models.Conversation{UserID: userID, Title: title}
	err := db.db.QueryRow(query, userID, title).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

func (db *Database) GetConversation(userID, id int64) (*models.Conversation, error) {
	query := `
        SELECT id, user_id, title, created_at, updated_at
        FROM conversations
        WHERE id = ? AND user_id = ?`

	var conv models.Conversation
	err := db.db.QueryRow(query, id, userID).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (db *Database) GetConversations(userID int64) ([]models.Conversation, error) {
	query := `
        SELECT id, user_id, title, created_at, updated_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY updated_at DESC`

	rows, err := db.db.Query(query, userID)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// RenameConversation updates the title of a conversation owned by userID.
// Returns ErrNotFound when the row does not exist or is owned by someone else.
func (db *Database) RenameConversation(userID, id int64, title string) error {
	result, err := db.db.Exec(`
        UPDATE conversations
        SET title = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ? AND user_id = ?`, title, id, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *Database) TouchConversation(userID, id int64) error {
	_, err := db.db.Exec(`
        UPDATE conversations
        SET updated_at = CURRENT_TIMESTAMP
        WHERE id = ? AND user_id = ?`, id, userID)
	return err
}

func (db *Database) DeleteConversation(userID, id int64) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) SaveMessage(msg *models.Message) error {
	query := `
        INSERT INTO messages (conversation_id, role, content, speech_content, created_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	return db.db.QueryRow(query, msg.ConvID, msg.Role, msg.Content, msg.SpeechContent).Scan(&msg.ID, &msg.CreatedAt)
}

// GetMessages returns the conversation's messages in insertion order,
// provided the conversation belongs to userID.
func (db *Database) GetMessages(userID, conversationID int64, limit int) ([]models.Message, error) {
	if _, err := db.GetConversation(userID, conversationID); err != nil {
		return nil, err
	}

	query := `
        SELECT id, conversation_id, role, content, speech_content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id ASC
        LIMIT ?`

	rows, err := db.db.Query(query, conversationID, limit)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.SpeechContent, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (db *Database) CountMessages(conversationID int64) (int, error) {
	var count int
	err := db.db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&count)
	return count, err
}

func (db *Database) CreateMemory(userID int64, title, content string) (*models.Memory, error) {
	query := `
        INSERT INTO memories (user_id, title, content, created_at, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
        RETURNING id, created_at, updated_at`

	mem := &models.Memory{UserID: userID, Title: title, Content: content}
	err := db.db.QueryRow(query, userID, title, content).Scan(&mem.ID, &mem.CreatedAt, &mem.UpdatedAt)
	return mem, err
}

func (db *Database) GetMemories(userID int64) ([]models.Memory, error) {
	query := `
        SELECT id, user_id, title, content, created_at, updated_at
        FROM memories
        WHERE user_id = ?
        ORDER BY created_at ASC`

	rows, err := db.db.Query(query, userID)
	if err != nil {
		return []models.Memory{}, err
	}
	defer rows.Close()

	memories := make([]models.Memory, 0)
	for rows.Next() {
		var mem models.Memory
		err := rows.Scan(&mem.ID, &mem.UserID, &mem.Title, &mem.Content, &mem.CreatedAt, &mem.UpdatedAt)
		if err != nil {
			return []models.Memory{}, err
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// SearchMemories runs a full-text search over a user's memories.
func (db *Database) SearchMemories(userID int64, query string) ([]models.Memory, error) {
	rows, err := db.db.Query(`
        SELECT m.id, m.user_id, m.title, m.content, m.created_at, m.updated_at
        FROM memories m
        JOIN memories_fts fts ON m.id = fts.docid
        WHERE memories_fts MATCH ? AND m.user_id = ?
        ORDER BY m.updated_at DESC`, query, userID)
	if err != nil {
		return []models.Memory{}, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	memories := make([]models.Memory, 0)
	for rows.Next() {
		var mem models.Memory
		err := rows.Scan(&mem.ID, &mem.UserID, &mem.Title, &mem.Content, &mem.CreatedAt, &mem.UpdatedAt)
		if err != nil {
			return []models.Memory{}, err
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

func (db *Database) UpdateMemory(userID, id int64, title, content string) error {
	result, err := db.db.Exec(`
        UPDATE memories
        SET title = ?, content = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ? AND user_id = ?`, title, content, id, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *Database) DeleteMemory(userID, id int64) error {
	result, err := db.db.Exec("DELETE FROM memories WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
