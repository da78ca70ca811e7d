package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"dmrelay/internal/config"
	apperrors "dmrelay/internal/errors"
	"dmrelay/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists messages that could not be delivered so they survive
// process restarts. Rows are partitioned by a per-user namespace so two
// accounts sharing a database file never see each other's queue.
type Store struct {
	db        *sql.DB
	encryptor *encryptor
	namespace string
}

// New opens (creating if necessary) the offline queue database at dbPath,
// scoped to the given user.
func New(dbPath, userID string) (*Store, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidArgumentError("userID", "cannot be empty")
	}

	if err := config.ValidateFilePath(dbPath); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "failed to create database file")
	}
	if err := file.Close(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "failed to close database file")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, fmt.Sprintf("failed to ping database (close error: %v)", closeErr))
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "failed to ping database")
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, fmt.Sprintf("failed to initialize schema (close error: %v)", closeErr))
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "failed to initialize schema")
	}

	enc, err := newEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, fmt.Sprintf("failed to initialize encryptor (close error: %v)", closeErr))
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreConnection, "failed to initialize encryptor")
	}

	return &Store{
		db:        db,
		encryptor: enc,
		namespace: namespaceFor(userID),
	}, nil
}

// namespaceFor derives a stable, non-reversible partition key from the user
// identity. The raw id never appears in the database.
func namespaceFor(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:8])
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append queues a message for later delivery. Re-appending a message with an
// id already in the queue is a no-op, so a failed flush can safely re-queue.
func (s *Store) Append(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return apperrors.NewInvalidArgumentError("message", "must have an id")
	}

	encReceiver, err := s.encryptor.encryptForLookup(msg.Receiver)
	if err != nil {
		return apperrors.NewStoreError("append", fmt.Errorf("failed to encrypt receiver: %w", err))
	}
	encSender, err := s.encryptor.encryptForLookup(msg.Sender)
	if err != nil {
		return apperrors.NewStoreError("append", fmt.Errorf("failed to encrypt sender: %w", err))
	}
	encContent, err := s.encryptor.encrypt(msg.Content)
	if err != nil {
		return apperrors.NewStoreError("append", fmt.Errorf("failed to encrypt content: %w", err))
	}
	encSubject, err := s.encryptor.encrypt(msg.Subject)
	if err != nil {
		return apperrors.NewStoreError("append", fmt.Errorf("failed to encrypt subject: %w", err))
	}

	query := `
		INSERT OR IGNORE INTO queued_messages (
			namespace, id, sender, receiver, content, subject, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = retryableStoreOperation(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			s.namespace,
			msg.ID,
			encSender,
			encReceiver,
			encContent,
			encSubject,
			string(models.StatusQueuedOffline),
			msg.CreatedAt.UTC(),
		)
		return execErr
	}, "append queued message")
	if err != nil {
		return apperrors.NewStoreError("append", err)
	}
	return nil
}

// List returns the queued messages for a peer in chronological order. An
// empty peer returns the whole queue for this namespace.
func (s *Store) List(ctx context.Context, peer string) ([]models.Message, error) {
	query := `
		SELECT id, sender, receiver, content, subject, status, created_at
		FROM queued_messages
		WHERE namespace = ?
	`
	args := []interface{}{s.namespace}

	if peer != "" {
		encPeer, err := s.encryptor.encryptForLookup(peer)
		if err != nil {
			return nil, apperrors.NewStoreError("list", fmt.Errorf("failed to encrypt peer: %w", err))
		}
		query += " AND receiver = ?"
		args = append(args, encPeer)
	}
	query += " ORDER BY created_at ASC, id ASC"

	var messages []models.Message
	err := retryableStoreOperation(ctx, func() error {
		rows, queryErr := s.db.QueryContext(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer func() { _ = rows.Close() }()

		messages = messages[:0]
		for rows.Next() {
			var m models.Message
			var createdAt time.Time
			if scanErr := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &m.Subject, &m.Status, &createdAt); scanErr != nil {
				return scanErr
			}
			m.CreatedAt = createdAt

			if m.Sender, queryErr = s.encryptor.decrypt(m.Sender); queryErr != nil {
				return fmt.Errorf("failed to decrypt sender: %w", queryErr)
			}
			if m.Receiver, queryErr = s.encryptor.decrypt(m.Receiver); queryErr != nil {
				return fmt.Errorf("failed to decrypt receiver: %w", queryErr)
			}
			if m.Content, queryErr = s.encryptor.decrypt(m.Content); queryErr != nil {
				return fmt.Errorf("failed to decrypt content: %w", queryErr)
			}
			if m.Subject, queryErr = s.encryptor.decrypt(m.Subject); queryErr != nil {
				return fmt.Errorf("failed to decrypt subject: %w", queryErr)
			}

			messages = append(messages, m)
		}
		return rows.Err()
	}, "list queued messages")
	if err != nil {
		return nil, apperrors.NewStoreError("list", err)
	}
	return messages, nil
}

// Remove deletes a single queued message, typically after a successful replay.
func (s *Store) Remove(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.NewInvalidArgumentError("id", "cannot be empty")
	}

	err := retryableStoreOperation(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"DELETE FROM queued_messages WHERE namespace = ? AND id = ?",
			s.namespace, id)
		return execErr
	}, "remove queued message")
	if err != nil {
		return apperrors.NewStoreError("remove", err)
	}
	return nil
}

// Clear drops all queued messages for a peer, or the whole namespace when
// peer is empty. Returns the number of rows removed.
func (s *Store) Clear(ctx context.Context, peer string) (int64, error) {
	query := "DELETE FROM queued_messages WHERE namespace = ?"
	args := []interface{}{s.namespace}

	if peer != "" {
		encPeer, err := s.encryptor.encryptForLookup(peer)
		if err != nil {
			return 0, apperrors.NewStoreError("clear", fmt.Errorf("failed to encrypt peer: %w", err))
		}
		query += " AND receiver = ?"
		args = append(args, encPeer)
	}

	var removed int64
	err := retryableStoreOperation(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		removed, execErr = res.RowsAffected()
		return execErr
	}, "clear queued messages")
	if err != nil {
		return 0, apperrors.NewStoreError("clear", err)
	}
	return removed, nil
}

// Count reports how many messages are currently queued in this namespace.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := retryableStoreOperation(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM queued_messages WHERE namespace = ?",
			s.namespace).Scan(&count)
	}, "count queued messages")
	if err != nil {
		return 0, apperrors.NewStoreError("count", err)
	}
	return count, nil
}
