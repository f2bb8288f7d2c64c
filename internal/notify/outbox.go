package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/office-hours-scheduling/internal/db"
)

// OutboxNotifier persists notifications to notification_outbox. When the
// context carries the engine's transaction the row is written inside it,
// under a savepoint, so it commits with the state change and a failed insert
// leaves the state change intact.
type OutboxNotifier struct {
	pool *pgxpool.Pool
}

func NewOutboxNotifier(pool *pgxpool.Pool) *OutboxNotifier {
	return &OutboxNotifier{pool: pool}
}

const insertOutboxSQL = `
	INSERT INTO notification_outbox (user_id, type, message, appointment_id, created_at)
	VALUES ($1, $2, $3, $4, COALESCE($5, now()))
`

func (o *OutboxNotifier) Notify(ctx context.Context, n Notification) error {
	args := []any{n.UserID, string(n.Type), n.Message, nullableUUID(n.AppointmentID), nullableTime(n.CreatedAt)}

	if tx, ok := db.TxFromContext(ctx); ok {
		err := db.Savepoint(ctx, tx, func(ctx context.Context, sp pgx.Tx) error {
			_, err := sp.Exec(ctx, insertOutboxSQL, args...)
			return err
		})
		if err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		return nil
	}

	if _, err := o.pool.Exec(ctx, insertOutboxSQL, args...); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Record is one undelivered outbox row.
type Record struct {
	ID int64
	Notification
}

// Outbox hands undelivered notifications to deliver and marks the ones it
// accepted as delivered.
type Outbox interface {
	Claim(ctx context.Context, limit int, deliver func(ctx context.Context, rec Record) error) (delivered, failed int, err error)
}

type PgOutbox struct {
	pool *pgxpool.Pool
}

func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	return &PgOutbox{pool: pool}
}

// Claim locks up to limit rows with SKIP LOCKED so several relays can run
// side by side without publishing a row twice in the same pass.
func (o *PgOutbox) Claim(ctx context.Context, limit int, deliver func(ctx context.Context, rec Record) error) (delivered, failed int, err error) {
	err = db.InTx(ctx, o.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, user_id, type, message, appointment_id, created_at
			FROM notification_outbox
			WHERE delivered_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("claim outbox: %w", err)
		}

		var records []Record
		for rows.Next() {
			var (
				rec    Record
				typ    string
				apptID *uuid.UUID
			)
			if err := rows.Scan(&rec.ID, &rec.UserID, &typ, &rec.Message, &apptID, &rec.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox: %w", err)
			}
			rec.Type = Type(typ)
			if apptID != nil {
				rec.AppointmentID = *apptID
			}
			records = append(records, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read outbox: %w", err)
		}

		var ids []int64
		for _, rec := range records {
			if err := deliver(ctx, rec); err != nil {
				failed++
				continue
			}
			ids = append(ids, rec.ID)
		}
		delivered = len(ids)

		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE notification_outbox
			SET delivered_at = now()
			WHERE id = ANY($1)
		`, ids)
		if err != nil {
			return fmt.Errorf("mark outbox delivered: %w", err)
		}
		return nil
	})
	return delivered, failed, err
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
