package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"squarecrop/internal/cropdb"
	"squarecrop/internal/events"
	"squarecrop/internal/pipeline"

	"github.com/google/uuid"
)

type eventPublisher interface {
	Publish(ctx context.Context, outboxID string, payload json.RawMessage) error
}

// ledger records settled crops and announces them. Either part may be nil.
type ledger struct {
	db        *sql.DB
	publisher eventPublisher
}

func (l *ledger) enabled() bool {
	return l != nil && (l.db != nil || l.publisher != nil)
}

// record stores snap's metadata and returns the crop id, or "" when nothing
// was recorded. Failures are logged; a crop never fails because of its ledger.
func (l *ledger) record(ctx context.Context, sessionID string, snap pipeline.Snapshot) string {
	if !l.enabled() || !snap.State.Terminal() {
		return ""
	}
	crop := cropFromSnapshot(sessionID, snap)

	if l.db == nil {
		// Events only: publish directly, keyed by the crop id.
		payload, err := events.FromCrop(crop).Marshal()
		if err != nil {
			slog.Error("failed to encode crop event", "crop_id", crop.ID, "err", err)
			return crop.ID
		}
		if err := l.publisher.Publish(ctx, crop.ID, payload); err != nil {
			slog.Error("publish failed for crop", "crop_id", crop.ID, "err", err)
		}
		return crop.ID
	}

	payload, err := events.FromCrop(crop).Marshal()
	if err != nil {
		slog.Error("failed to encode crop event", "crop_id", crop.ID, "err", err)
		return ""
	}
	// Claim the row for ourselves when publishing inline so cmd/publisher
	// does not send it a second time.
	recorded, outbox, reused, err := cropdb.RecordCrop(ctx, l.db, crop, payload, l.publisher != nil)
	if err != nil {
		slog.Error("failed to record crop", "crop_id", crop.ID, "err", err)
		return ""
	}
	if !reused && l.publisher != nil {
		// Failures release the claim; cmd/publisher drains them.
		if err := l.publishOutbox(ctx, outbox); err != nil {
			slog.Error("publish failed for crop", "crop_id", recorded.ID, "err", err)
		}
	}
	return recorded.ID
}

func (l *ledger) publishOutbox(ctx context.Context, msg cropdb.OutboxMessage) error {
	if err := l.publisher.Publish(ctx, msg.ID, msg.Payload); err != nil {
		_ = cropdb.RecordOutboxError(l.db, msg.ID, err.Error())
		return err
	}
	return cropdb.MarkOutboxPublished(l.db, msg.ID)
}

// cropFromSnapshot builds the ledger row for a settled snapshot. The id and
// timestamps are assigned here so events and rows agree.
func cropFromSnapshot(sessionID string, snap pipeline.Snapshot) cropdb.Crop {
	crop := cropdb.Crop{
		ID:           uuid.NewString(),
		SessionID:    sql.NullString{String: sessionID, Valid: sessionID != ""},
		Status:       cropdb.StatusDone,
		SourceWidth:  snap.SourceWidth,
		SourceHeight: snap.SourceHeight,
		RegionX:      snap.Region.X,
		RegionY:      snap.Region.Y,
		Side:         snap.Region.Width,
		CreatedAt:    cropdb.NowISO(),
	}
	if snap.Output != nil {
		crop.Format = string(snap.Output.Format)
		crop.OutputBytes = len(snap.Output.Data)
	}
	if snap.State == pipeline.Failed {
		crop.Status = cropdb.StatusFailed
		if snap.Err != nil {
			crop.Error = sql.NullString{String: snap.Err.Error(), Valid: true}
		}
	}
	return crop
}
