package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cvgorod/chat-insights/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// All concurrent analysis tasks share this pool.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

// roleExpr derives the sender role inside the query. Precedence must stay in
// sync with models.DeriveRole: BOT, then DIRECTOR, then MANAGER, else CLIENT.
const roleExpr = `
	CASE
		WHEN COALESCE(ur.is_bot, FALSE) = TRUE THEN 'BOT'
		WHEN COALESCE(ur.role_name, '') = 'director' THEN 'DIRECTOR'
		WHEN COALESCE(ur.role_name, '') = 'manager'
			OR COALESCE(u.is_manager, FALSE) = TRUE THEN 'MANAGER'
		ELSE 'CLIENT'
	END`

func (s *PostgresStorage) ActiveChats(ctx context.Context, since time.Time, limit int) ([]models.ChatActivity, error) {
	query := `
		SELECT
			m.chat_id,
			MAX(m.timestamp) AS last_message_at,
			COALESCE(c.name, '') AS chat_name,
			COALESCE(cust.name, '') AS customer_name,
			COALESCE(cust.sync_id, '') AS customer_sync_id
		FROM messages m
		LEFT JOIN chats c ON m.chat_id = c.id
		LEFT JOIN customers cust ON c.customer_id = cust.id
		WHERE m.timestamp >= $1
		GROUP BY m.chat_id, c.name, cust.name, cust.sync_id
		ORDER BY MAX(m.timestamp) DESC`

	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying active chats: %v", err)
	}
	defer rows.Close()

	var chats []models.ChatActivity
	for rows.Next() {
		var chat models.ChatActivity
		err := rows.Scan(
			&chat.ChatID,
			&chat.LastMessageAt,
			&chat.ChatName,
			&chat.CustomerName,
			&chat.CustomerSyncID,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning active chat: %v", err)
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

func (s *PostgresStorage) ChatContext(ctx context.Context, chatID int64, since time.Time, maxMessages int) ([]models.ChatMessage, error) {
	// Newest N first so the limit keeps the most recent messages, then the
	// outer select flips them back to chronological order for the prompt.
	query := `
		WITH recent AS (
			SELECT
				m.id,
				m.chat_id,
				m.timestamp,
				m.text,
				COALESCE(NULLIF(TRIM(CONCAT(COALESCE(u.first_name, ''), ' ', COALESCE(u.last_name, ''))), ''), COALESCE(u.username, '')) AS sender,
				` + roleExpr + ` AS role
			FROM messages m
			LEFT JOIN users u ON m.user_id = u.id
			LEFT JOIN user_roles ur ON u.role_id = ur.id
			WHERE m.chat_id = $1
				AND m.timestamp >= $2
				AND m.text IS NOT NULL
				AND m.text != ''
			ORDER BY m.timestamp DESC
			LIMIT $3
		)
		SELECT id, chat_id, timestamp, text, sender, role FROM recent
		ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID, since, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("error querying chat context: %v", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *PostgresStorage) NextClientBatch(ctx context.Context, since, until time.Time, cursor models.Cursor, limit int) ([]models.ChatMessage, error) {
	// Strict keyset pagination over (timestamp, id). The id tiebreak makes
	// rows sharing a timestamp visit exactly once across batches. Rows that
	// already have an analysis are excluded so a restarted run resumes
	// without re-paying for finished work.
	query := `
		SELECT m.id, m.chat_id, m.timestamp, m.text,
			COALESCE(u.username, '') AS sender,
			'CLIENT' AS role
		FROM messages m
		LEFT JOIN users u ON m.user_id = u.id
		LEFT JOIN user_roles ur ON u.role_id = ur.id
		LEFT JOIN message_analysis ma ON m.id = ma.message_id
		WHERE m.timestamp >= $1
			AND m.timestamp <= $2
			AND m.text IS NOT NULL
			AND m.text != ''
			AND ma.message_id IS NULL
			AND COALESCE(ur.is_bot, FALSE) = FALSE
			AND COALESCE(ur.is_staff, FALSE) = FALSE
			AND COALESCE(u.is_manager, FALSE) = FALSE
			AND (
				m.timestamp > $3
				OR (m.timestamp = $3 AND m.id > $4)
			)
		ORDER BY m.timestamp ASC, m.id ASC
		LIMIT $5`

	rows, err := s.db.QueryContext(ctx, query, since, until, cursor.LastTimestamp, cursor.LastID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying client batch: %v", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *PostgresStorage) HasAnalysis(ctx context.Context, messageID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM message_analysis WHERE message_id = $1", messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error checking analysis existence: %v", err)
	}
	return true, nil
}

func (s *PostgresStorage) SaveAnalysis(ctx context.Context, analysis *models.MessageAnalysis) error {
	entities, err := json.Marshal(analysis.Entities)
	if err != nil {
		return fmt.Errorf("error encoding entities: %v", err)
	}

	query := `
		INSERT INTO message_analysis (
			message_id, intent, sentiment, entities,
			confidence, model_used, tokens_used, processing_time_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		analysis.MessageID,
		analysis.Intent,
		analysis.Sentiment,
		entities,
		analysis.Confidence,
		analysis.ModelUsed,
		analysis.TokensUsed,
		analysis.ProcessingTimeMS,
	)
	if err != nil {
		return fmt.Errorf("error saving analysis: %v", err)
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var role string
		err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.Timestamp,
			&msg.Text,
			&msg.Sender,
			&role,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %v", err)
		}
		msg.Role = models.SenderRole(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
