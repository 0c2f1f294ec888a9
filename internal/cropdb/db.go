package cropdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// MaxOutboxAttempts bounds publish retries for one event.
const MaxOutboxAttempts = 10

// Crop is the metadata of one settled crop. Image bytes are never stored.
type Crop struct {
	ID           string
	SessionID    sql.NullString
	Status       string
	SourceWidth  int
	SourceHeight int
	RegionX      int
	RegionY      int
	Side         int
	Format       string
	OutputBytes  int
	Error        sql.NullString
	CreatedAt    string
	UpdatedAt    string
}

type OutboxMessage struct {
	ID       string
	CropID   string
	Payload  json.RawMessage
	Attempts int
}

func Open(dsn string) (*sql.DB, error) {
	// Open a MySQL connection pool for the crop ledger.
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	return db, nil
}

// Init creates the tables when migrations have not been run (local dev).
func Init(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{createCrops, createOutbox} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const createCrops = `
	CREATE TABLE IF NOT EXISTS crops (
		id CHAR(36) PRIMARY KEY,
		session_id CHAR(36) NULL,
		status VARCHAR(16) NOT NULL,
		source_width INT NOT NULL,
		source_height INT NOT NULL,
		region_x INT NOT NULL,
		region_y INT NOT NULL,
		side INT NOT NULL,
		format VARCHAR(16) NOT NULL,
		output_bytes INT NOT NULL,
		error TEXT,
		created_at VARCHAR(32) NOT NULL,
		updated_at VARCHAR(32) NOT NULL,
		INDEX idx_crops_session (session_id)
	)`

const createOutbox = `
	CREATE TABLE IF NOT EXISTS crop_outbox (
		id CHAR(36) PRIMARY KEY,
		crop_id CHAR(36) NOT NULL,
		payload JSON NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		claimed_at VARCHAR(32),
		published_at VARCHAR(32),
		created_at VARCHAR(32) NOT NULL,
		UNIQUE KEY uq_outbox_crop (crop_id)
	)`

func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// RecordCrop stores crop and its outbox event in one transaction. crop.ID,
// CreatedAt and UpdatedAt are filled in when empty. Recording the same crop
// ID twice returns the existing outbox message with reused=true.
//
// With claim set the outbox row is inserted already leased to the caller, so
// ClaimOutboxBatch skips it until the caller publishes it, records an error,
// or the lease expires.
func RecordCrop(ctx context.Context, db *sql.DB, crop Crop, event json.RawMessage, claim bool) (Crop, OutboxMessage, bool, error) {
	if crop.ID == "" {
		crop.ID = uuid.NewString()
	}
	if crop.CreatedAt == "" {
		crop.CreatedAt = NowISO()
	}
	crop.UpdatedAt = crop.CreatedAt

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Crop{}, OutboxMessage{}, false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO crops (id, session_id, status, source_width, source_height, region_x, region_y, side, format, output_bytes, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		crop.ID, crop.SessionID, crop.Status, crop.SourceWidth, crop.SourceHeight,
		crop.RegionX, crop.RegionY, crop.Side, crop.Format, crop.OutputBytes, crop.Error,
		crop.CreatedAt, crop.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if isDuplicateKeyError(err) {
			msg, err := getOutboxByCrop(ctx, db, crop.ID)
			return crop, msg, true, err
		}
		return Crop{}, OutboxMessage{}, false, err
	}

	msg, claimedAt := newOutboxRow(crop.ID, event, crop.CreatedAt, claim)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO crop_outbox (id, crop_id, payload, attempts, claimed_at, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
		msg.ID, msg.CropID, string(event), claimedAt, crop.CreatedAt,
	); err != nil {
		_ = tx.Rollback()
		return Crop{}, OutboxMessage{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Crop{}, OutboxMessage{}, false, err
	}
	return crop, msg, false, nil
}

func newOutboxRow(cropID string, event json.RawMessage, createdAt string, claim bool) (OutboxMessage, sql.NullString) {
	msg := OutboxMessage{ID: uuid.NewString(), CropID: cropID, Payload: event}
	return msg, sql.NullString{String: createdAt, Valid: claim}
}

func getOutboxByCrop(ctx context.Context, db *sql.DB, cropID string) (OutboxMessage, error) {
	var msg OutboxMessage
	var payload string
	err := db.QueryRowContext(ctx,
		`SELECT id, crop_id, payload, attempts FROM crop_outbox WHERE crop_id = ?`, cropID,
	).Scan(&msg.ID, &msg.CropID, &payload, &msg.Attempts)
	if err != nil {
		return OutboxMessage{}, err
	}
	msg.Payload = json.RawMessage(payload)
	return msg, nil
}

func GetCrop(ctx context.Context, db *sql.DB, cropID string) (Crop, bool, error) {
	// Fetch a crop by ID; ok=false when not found.
	var crop Crop
	row := db.QueryRowContext(ctx,
		`SELECT id, session_id, status, source_width, source_height, region_x, region_y, side, format, output_bytes, error, created_at, updated_at
		 FROM crops WHERE id = ?`, cropID,
	)
	err := row.Scan(&crop.ID, &crop.SessionID, &crop.Status, &crop.SourceWidth, &crop.SourceHeight,
		&crop.RegionX, &crop.RegionY, &crop.Side, &crop.Format, &crop.OutputBytes, &crop.Error,
		&crop.CreatedAt, &crop.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Crop{}, false, nil
		}
		return Crop{}, false, err
	}
	return crop, true, nil
}

// ClaimOutboxBatch leases up to limit unpublished messages. A claim expires
// after leaseDuration so a crashed publisher does not strand messages.
func ClaimOutboxBatch(ctx context.Context, db *sql.DB, limit int, leaseDuration time.Duration) ([]OutboxMessage, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	leaseCutoff := now.Add(-leaseDuration).Format(time.RFC3339)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, crop_id, payload, attempts FROM crop_outbox
		 WHERE published_at IS NULL
		   AND attempts < ?
		   AND (claimed_at IS NULL OR claimed_at < ?)
		 ORDER BY created_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		MaxOutboxAttempts, leaseCutoff, limit,
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		var payload string
		if err := rows.Scan(&msg.ID, &msg.CropID, &payload, &msg.Attempts); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return nil, err
		}
		msg.Payload = json.RawMessage(payload)
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	claimedAt := now.Format(time.RFC3339)
	for _, msg := range messages {
		if _, err := tx.ExecContext(ctx,
			`UPDATE crop_outbox SET claimed_at = ? WHERE id = ?`, claimedAt, msg.ID,
		); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return messages, nil
}

func MarkOutboxPublished(db *sql.DB, outboxID string) error {
	_, err := db.Exec(
		`UPDATE crop_outbox SET published_at = ?, last_error = NULL WHERE id = ?`,
		NowISO(), outboxID,
	)
	return err
}

// RecordOutboxError counts a failed publish and releases the claim.
func RecordOutboxError(db *sql.DB, outboxID string, errMsg string) error {
	_, err := db.Exec(
		`UPDATE crop_outbox SET attempts = attempts + 1, last_error = ?, claimed_at = NULL WHERE id = ?`,
		errMsg, outboxID,
	)
	return err
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
