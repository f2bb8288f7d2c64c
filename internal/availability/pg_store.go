package availability

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/office-hours-scheduling/internal/db"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Get(ctx context.Context, facultyID uuid.UUID) (WeekTemplate, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT template
		FROM faculty_availability
		WHERE faculty_id = $1
	`, facultyID).Scan(&raw)
	if err != nil {
		if db.IsNoRows(err) {
			return WeekTemplate{Days: []DaySchedule{}}, nil
		}
		return WeekTemplate{}, fmt.Errorf("load availability: %w", err)
	}

	return decodeTemplate(raw)
}

func (s *PgStore) Replace(ctx context.Context, facultyID uuid.UUID, tpl WeekTemplate) (WeekTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return WeekTemplate{}, err
	}
	tpl = tpl.Normalized()

	payload, err := json.Marshal(tpl)
	if err != nil {
		return WeekTemplate{}, fmt.Errorf("encode availability: %w", err)
	}

	var raw []byte
	err = s.pool.QueryRow(ctx, `
		INSERT INTO faculty_availability (faculty_id, template, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (faculty_id) DO UPDATE
		SET template = EXCLUDED.template,
		    updated_at = now()
		RETURNING template
	`, facultyID, payload).Scan(&raw)
	if err != nil {
		return WeekTemplate{}, fmt.Errorf("replace availability: %w", err)
	}

	return decodeTemplate(raw)
}

func decodeTemplate(raw []byte) (WeekTemplate, error) {
	var tpl WeekTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return WeekTemplate{}, fmt.Errorf("decode availability: %w", err)
	}
	if tpl.Days == nil {
		tpl.Days = []DaySchedule{}
	}
	return tpl, nil
}
