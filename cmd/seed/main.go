package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/office-hours-scheduling/internal/availability"
	"github.com/hackgods/office-hours-scheduling/internal/config"
	"github.com/hackgods/office-hours-scheduling/internal/db"
	"github.com/hackgods/office-hours-scheduling/internal/logging"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "seed"})
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns, AppName: "seed"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	facultyCount := getInt("SEED_FACULTY", 40)
	studentCount := getInt("SEED_STUDENTS", 2000)

	faculty, err := seedUsers(context.Background(), logger, pool, "faculty", facultyCount)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed faculty")
	}
	if _, err := seedUsers(context.Background(), logger, pool, "student", studentCount); err != nil {
		logger.Fatal().Err(err).Msg("seed students")
	}
	if err := seedAvailability(context.Background(), logger, availability.NewPgStore(pool), faculty); err != nil {
		logger.Fatal().Err(err).Msg("seed availability")
	}

	logger.Info().Msg("seed complete")
}

func seedUsers(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, role string, count int) ([]uuid.UUID, error) {
	logger.Info().Str("role", role).Int("count", count).Msg("seeding users")

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			if role == "faculty" {
				name = "Prof. " + gofakeit.LastName()
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, gofakeit.Email(), role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		logger.Info().Str("role", role).Int("seeded", end).Int("total", count).Msg("users seeded")
	}

	return ids, nil
}

var (
	blockStarts = []string{"08:00", "09:00", "10:00", "13:00", "14:00", "15:00"}
	breakLabels = []string{"lunch", "seminar", "committee", "lab meeting"}
)

// seedAvailability gives every faculty member two or three weekdays of
// office hours, some with a break in the middle.
func seedAvailability(ctx context.Context, logger zerolog.Logger, store availability.Store, faculty []uuid.UUID) error {
	logger.Info().Int("count", len(faculty)).Msg("seeding availability templates")

	for _, id := range faculty {
		days := gofakeit.Number(2, 3)
		used := make(map[int]bool, days)
		tpl := availability.WeekTemplate{}

		for len(tpl.Days) < days {
			weekday := gofakeit.Number(int(time.Monday), int(time.Friday))
			if used[weekday] {
				continue
			}
			used[weekday] = true

			start := schedule.MustClock(gofakeit.RandomString(blockStarts))
			hours := schedule.Clock(gofakeit.Number(2, 3) * 60)
			day := availability.DaySchedule{
				Day:    weekday,
				Slots:  []schedule.TimeRange{{Start: start, End: start + hours}},
				Breaks: []availability.Break{},
			}
			if gofakeit.Bool() {
				breakStart := start + 60
				day.Breaks = append(day.Breaks, availability.Break{
					TimeRange: schedule.TimeRange{Start: breakStart, End: breakStart + 30},
					Label:     gofakeit.RandomString(breakLabels),
				})
			}
			tpl.Days = append(tpl.Days, day)
		}

		if _, err := store.Replace(ctx, id, tpl); err != nil {
			return err
		}
	}

	logger.Info().Msg("availability seeded")
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
