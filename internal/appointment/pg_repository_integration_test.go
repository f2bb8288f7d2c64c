//go:build integration

package appointment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/office-hours-scheduling/internal/availability"
	"github.com/hackgods/office-hours-scheduling/internal/db"
	"github.com/hackgods/office-hours-scheduling/internal/notify"
	redisclient "github.com/hackgods/office-hours-scheduling/internal/redis"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// Run with: TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/appointment/
type pgFixture struct {
	pool    *pgxpool.Pool
	repo    *PgRepository
	svc     *Service
	student uuid.UUID
	faculty uuid.UUID
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 20, AppName: "appointment-test"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))

	f := &pgFixture{pool: pool, repo: NewPgRepository(pool), student: uuid.New(), faculty: uuid.New()}
	for id, role := range map[uuid.UUID]Role{f.student: RoleStudent, f.faculty: RoleFaculty} {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, name, role) VALUES ($1, $2, $3)`, id, "test "+string(role), string(role))
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM appointments WHERE faculty_id = $1`, f.faculty)
		_, _ = pool.Exec(ctx, `DELETE FROM users WHERE id = ANY($1)`, []uuid.UUID{f.student, f.faculty})
	})

	f.svc = NewService(f.repo, availability.NewMemoryStore(), redisclient.NoopLocker{}, notify.Discard{}, Options{
		Location: time.UTC,
		Logger:   zerolog.New(io.Discard),
		Now:      func() time.Time { return fixedNow },
	})
	return f
}

func (f *pgFixture) create(t *testing.T, date schedule.Date, start, end string) (*Appointment, error) {
	t.Helper()
	return f.svc.CreateAppointment(context.Background(), f.student, CreateRequest{
		FacultyID: f.faculty,
		Title:     "Thesis check-in",
		Date:      date,
		StartTime: schedule.MustClock(start),
		EndTime:   schedule.MustClock(end),
	})
}

func TestPgConcurrentBookingsNeverOverlap(t *testing.T) {
	f := newPgFixture(t)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := schedule.Clock(9*60 + (i%4)*10)
			_, err := f.create(t, march10, start.String(), (start + 30).String())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, ErrConflict):
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, unknown)
	assert.GreaterOrEqual(t, booked, 1)

	var overlaps int
	err := f.pool.QueryRow(context.Background(), `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.faculty_id = b.faculty_id AND a.date = b.date AND a.id < b.id
		 AND a.start_minute < b.end_minute AND b.start_minute < a.end_minute
		WHERE a.faculty_id = $1
		  AND a.status IN ('pending', 'accepted', 'reschedule_requested')
		  AND b.status IN ('pending', 'accepted', 'reschedule_requested')
	`, f.faculty).Scan(&overlaps)
	require.NoError(t, err)
	assert.Zero(t, overlaps)
}

func TestPgListBlockingIncludesRescheduleOrigin(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	a, err := f.create(t, march10, "09:00", "09:30")
	require.NoError(t, err)
	_, err = f.svc.AcceptAppointment(ctx, f.faculty, a.ID)
	require.NoError(t, err)

	march11 := march10.AddDays(1)
	_, err = f.svc.RequestReschedule(ctx, f.student, a.ID, RescheduleRequest{
		Date: march11, StartTime: schedule.MustClock("14:00"), EndTime: schedule.MustClock("14:30"),
	})
	require.NoError(t, err)

	for _, day := range []schedule.Date{march10, march11} {
		held, err := f.repo.ListBlocking(ctx, f.faculty, day)
		require.NoError(t, err)
		require.Len(t, held, 1, "%s", day)
		assert.Equal(t, a.ID, held[0].ID)
	}

	_, err = f.create(t, march10, "09:15", "09:45")
	var conflict *SlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, a.ID, conflict.AppointmentID)
}

func TestPgConstraintViolationIsConflict(t *testing.T) {
	cases := []struct {
		name         string
		second       string
		secondFinish string
	}{
		{"same start", "09:00", "09:20"},
		{"staggered overlap", "09:20", "09:50"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPgFixture(t)
			ctx := context.Background()

			insert := func(start, end string) error {
				a := &Appointment{
					ID:        uuid.New(),
					StudentID: f.student,
					FacultyID: f.faculty,
					Title:     fmt.Sprintf("raw %s", start),
					Status:    StatusPending,
				}
				a.setSlot(schedule.Slot{Date: march10, TimeRange: schedule.TimeRange{
					Start: schedule.MustClock(start), End: schedule.MustClock(end),
				}})
				// skips the overlap check so only the schema can refuse it
				return f.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
					return tx.InsertAppointment(ctx, a)
				})
			}

			require.NoError(t, insert("09:00", "09:30"))
			err := insert(tc.second, tc.secondFinish)
			assert.ErrorIs(t, err, ErrConflict)
			assert.NotErrorIs(t, err, ErrUnavailable)
		})
	}
}
