package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/xaenox/triagebot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) ContactByAddress(ctx context.Context, address string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, name, is_group, priority, category, last_seen_at, metadata, created_at, updated_at
		FROM contacts
		WHERE address = $1`, address)
	return scanContact(row, "contact by address")
}

func (s *PostgresStorage) ContactByID(ctx context.Context, id int64) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, name, is_group, priority, category, last_seen_at, metadata, created_at, updated_at
		FROM contacts
		WHERE id = $1`, id)
	return scanContact(row, "contact by id")
}

func scanContact(row *sql.Row, op string) (*models.Contact, error) {
	c := &models.Contact{}
	var metadata []byte
	err := row.Scan(&c.ID, &c.Address, &c.Name, &c.IsGroup, &c.Priority, &c.Category,
		&c.LastSeenAt, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opError(op, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, opError(op, err)
		}
	}
	return c, nil
}

func (s *PostgresStorage) CreateContact(ctx context.Context, c *models.Contact) error {
	metadata, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return opError("create contact", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (address, name, is_group, priority, category, last_seen_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		c.Address, c.Name, c.IsGroup, c.Priority, c.Category, c.LastSeenAt, metadata,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return opError("create contact", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateContact(ctx context.Context, c *models.Contact) error {
	metadata, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return opError("update contact", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET name = $1, is_group = $2, priority = $3, category = $4,
		    last_seen_at = $5, metadata = $6, updated_at = NOW()
		WHERE id = $7`,
		c.Name, c.IsGroup, c.Priority, c.Category, c.LastSeenAt, metadata, c.ID)
	if err != nil {
		return opError("update contact", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) OpenConversation(ctx context.Context, contactID int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, status, priority, category, summary, tags,
		       message_count, last_message_at, resolved_at, assistant_enabled, created_at
		FROM conversations
		WHERE contact_id = $1 AND status IN ('active', 'waiting')
		ORDER BY last_message_at DESC
		LIMIT 1`, contactID)
	return scanConversation(row, "open conversation")
}

func scanConversation(row *sql.Row, op string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(&conv.ID, &conv.ContactID, &conv.Status, &conv.Priority, &conv.Category,
		&conv.Summary, pq.Array(&conv.Tags), &conv.MessageCount, &conv.LastMessageAt,
		&conv.ResolvedAt, &conv.AssistantEnabled, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opError(op, err)
	}
	return conv, nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (contact_id, status, priority, category, summary, tags,
		                           message_count, last_message_at, assistant_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		conv.ContactID, conv.Status, conv.Priority, conv.Category, conv.Summary,
		pq.Array(orEmptySlice(conv.Tags)), conv.MessageCount, conv.LastMessageAt, conv.AssistantEnabled,
	).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		return opError("create conversation", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = $1, priority = $2, category = $3, summary = $4, tags = $5,
		    message_count = $6, last_message_at = $7, resolved_at = $8, assistant_enabled = $9
		WHERE id = $10`,
		conv.Status, conv.Priority, conv.Category, conv.Summary, pq.Array(orEmptySlice(conv.Tags)),
		conv.MessageCount, conv.LastMessageAt, conv.ResolvedAt, conv.AssistantEnabled, conv.ID)
	if err != nil {
		return opError("update conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ArchiveResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = 'archived'
		WHERE status = 'resolved' AND resolved_at IS NOT NULL AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, opError("archive resolved", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, opError("archive resolved", err)
	}
	return int(n), nil
}

// RecordMessage inserts the message and applies the conversation update
// inside one transaction. A unique index on (conversation_id,
// external_id) backstops idempotency under concurrent redelivery.
func (s *PostgresStorage) RecordMessage(ctx context.Context, msg *models.Message, conv *models.Conversation) error {
	classification, err := json.Marshal(msg.Classification)
	if err != nil {
		return opError("record message", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opError("record message", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, contact_id, external_id, type, sender,
		                      content, media_ref, classification, sent_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ConversationID, msg.ContactID, msg.ExternalID, msg.Type, msg.Sender,
		msg.Content, msg.MediaRef, classification, msg.SentAt, msg.Deleted)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateMessage
		}
		return opError("record message", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET status = $1, priority = $2, category = $3, message_count = $4, last_message_at = $5
		WHERE id = $6`,
		conv.Status, conv.Priority, conv.Category, conv.MessageCount, conv.LastMessageAt, conv.ID)
	if err != nil {
		return opError("record message", err)
	}

	if err := tx.Commit(); err != nil {
		return opError("record message", err)
	}
	return nil
}

func (s *PostgresStorage) MessageByExternalID(ctx context.Context, conversationID int64, externalID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, contact_id, external_id, type, sender,
		       content, media_ref, classification, sent_at, deleted
		FROM messages
		WHERE conversation_id = $1 AND external_id = $2`, conversationID, externalID)
	return scanMessageRow(row, "message by external id")
}

func scanMessageRow(row *sql.Row, op string) (*models.Message, error) {
	msg := &models.Message{}
	var classification []byte
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.ContactID, &msg.ExternalID,
		&msg.Type, &msg.Sender, &msg.Content, &msg.MediaRef, &classification,
		&msg.SentAt, &msg.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opError(op, err)
	}
	if len(classification) > 0 {
		if err := json.Unmarshal(classification, &msg.Classification); err != nil {
			return nil, opError(op, err)
		}
	}
	return msg, nil
}

func (s *PostgresStorage) MessagesInRange(ctx context.Context, from, to time.Time) ([]*models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, contact_id, external_id, type, sender,
		       content, media_ref, classification, sent_at, deleted
		FROM messages
		WHERE sent_at >= $1 AND sent_at <= $2 AND NOT deleted
		ORDER BY sent_at ASC, id ASC`, from, to)
}

func (s *PostgresStorage) ContactMessagesInRange(ctx context.Context, contactID int64, from, to time.Time) ([]*models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, contact_id, external_id, type, sender,
		       content, media_ref, classification, sent_at, deleted
		FROM messages
		WHERE contact_id = $1 AND sent_at >= $2 AND sent_at <= $3 AND NOT deleted
		ORDER BY sent_at ASC, id ASC`, contactID, from, to)
}

func (s *PostgresStorage) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opError("query messages", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var classification []byte
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.ContactID, &msg.ExternalID,
			&msg.Type, &msg.Sender, &msg.Content, &msg.MediaRef, &classification,
			&msg.SentAt, &msg.Deleted)
		if err != nil {
			return nil, opError("query messages", err)
		}
		if len(classification) > 0 {
			if err := json.Unmarshal(classification, &msg.Classification); err != nil {
				return nil, opError("query messages", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, opError("query messages", err)
	}
	return messages, nil
}

func (s *PostgresStorage) LastAssistantReplyAt(ctx context.Context, contactID int64) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_at
		FROM messages
		WHERE contact_id = $1 AND sender = 'assistant'
		ORDER BY sent_at DESC
		LIMIT 1`, contactID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, opError("last assistant reply", err)
	}
	return at, nil
}

func (s *PostgresStorage) AssistantRepliesSince(ctx context.Context, contactID int64, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE contact_id = $1 AND sender = 'assistant' AND sent_at >= $2`, contactID, since).Scan(&count)
	if err != nil {
		return 0, opError("assistant replies since", err)
	}
	return count, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
