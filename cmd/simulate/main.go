package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/office-hours-scheduling/internal/config"
	"github.com/hackgods/office-hours-scheduling/internal/db"
	"github.com/hackgods/office-hours-scheduling/internal/logging"
	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	ReadRatio       float64
	StudentLimit    int
	FacultyLimit    int
	DaysAhead       int
	PostgresDSN     string
	CampusLocation  *time.Location
}

type DataPool struct {
	Students []uuid.UUID
	Faculty  []uuid.UUID

	mu           sync.RWMutex
	appointments []bookedAppointment
}

type bookedAppointment struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	FacultyID uuid.UUID
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	ReadByID   OperationMetrics
	List       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	logger := logging.New(logging.Config{Level: "info", Format: "console", Service: "simulate"})
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("transition", cfg.TransitionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns, AppName: "simulate"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("students", len(dataPool.Students)).Int("faculty", len(dataPool.Faculty)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := findOverlaps(ctx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify schedule")
	}
	if len(overlaps) > 0 {
		for _, o := range overlaps {
			fmt.Println("  OVERLAP:", o)
		}
		logger.Error().Int("overlaps", len(overlaps)).Msg("double bookings detected")
		os.Exit(1)
	}
	fmt.Println("Verification: no overlapping blocking appointments")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 20),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		StudentLimit:    getInt("SIM_STUDENT_LIMIT", 2000),
		FacultyLimit:    getInt("SIM_FACULTY_LIMIT", 5),
		DaysAhead:       getInt("SIM_DAYS_AHEAD", 3),
		PostgresDSN:     baseCfg.PostgresDSN,
		CampusLocation:  baseCfg.CampusLocation,
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Students, err = loadUserIDs(ctx, pool, "student", cfg.StudentLimit)
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	// few faculty keeps contention on each schedule high
	dataPool.Faculty, err = loadUserIDs(ctx, pool, "faculty", cfg.FacultyLimit)
	if err != nil {
		return nil, fmt.Errorf("load faculty: %w", err)
	}

	if len(dataPool.Students) == 0 {
		return nil, fmt.Errorf("no students loaded, run cmd/seed first")
	}
	if len(dataPool.Faculty) == 0 {
		return nil, fmt.Errorf("no faculty loaded, run cmd/seed first")
	}
	return dataPool, nil
}

func loadUserIDs(ctx context.Context, pool *pgxpool.Pool, role string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY id LIMIT $2`, role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			case rng.Intn(2) == 0:
				s.doReadByID(ctx, rng)
			default:
				s.doList(ctx, rng)
			}
		}
	}
}

// randomSlot draws 30 minute windows on a 10 minute grid inside a two hour
// block, so concurrent requests overlap often without being identical.
func (s *Simulator) randomSlot(rng *rand.Rand) schedule.Slot {
	today := schedule.DateOf(time.Now().In(s.config.CampusLocation))
	date := today.AddDays(1 + rng.Intn(s.config.DaysAhead))
	start := schedule.MustClock("09:00") + schedule.Clock(10*rng.Intn(10))
	return schedule.Slot{Date: date, TimeRange: schedule.TimeRange{Start: start, End: start + 30}}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	studentID := s.pool.Students[rng.Intn(len(s.pool.Students))]
	facultyID := s.pool.Faculty[rng.Intn(len(s.pool.Faculty))]
	slot := s.randomSlot(rng)

	body, _ := json.Marshal(map[string]string{
		"faculty_id": facultyID.String(),
		"title":      "Office hours",
		"date":       slot.Date.String(),
		"start_time": slot.Start.String(),
		"end_time":   slot.End.String(),
	})

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/appointments", studentID, body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(bookedAppointment{ID: created.ID, StudentID: studentID, FacultyID: facultyID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

// doTransition drives a random lifecycle step from the party allowed to
// take it. Illegal steps come back as 409 and are counted as conflicts.
func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	base := "/appointments/" + appt.ID.String()
	var (
		path  string
		actor uuid.UUID
		body  []byte
	)
	switch rng.Intn(6) {
	case 0, 1:
		path, actor = base+"/accept", appt.FacultyID
	case 2:
		path, actor = base+"/reject", appt.FacultyID
	case 3:
		slot := s.randomSlot(rng)
		body, _ = json.Marshal(map[string]string{
			"date":       slot.Date.String(),
			"start_time": slot.Start.String(),
			"end_time":   slot.End.String(),
		})
		path, actor = base+"/reschedule", appt.StudentID
	case 4:
		if rng.Intn(2) == 0 {
			path, actor = base+"/reschedule/approve", appt.FacultyID
		} else {
			path, actor = base+"/reschedule/reject", appt.FacultyID
		}
	default:
		path, actor = base+"/cancel", appt.StudentID
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, path, actor, body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Transition.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), appt.StudentID, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	path := "/appointments?role=student&limit=20&offset=0"
	actor := s.pool.Students[rng.Intn(len(s.pool.Students))]
	if rng.Intn(2) == 0 {
		path = "/appointments?role=faculty&limit=20&offset=0"
		actor = s.pool.Faculty[rng.Intn(len(s.pool.Faculty))]
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, path, actor, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.List.Record(latency, success, false)
}

func (s *Simulator) send(ctx context.Context, method, path string, actor uuid.UUID, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actor.String())
	return s.client.Do(req)
}

// findOverlaps lists pairs of blocking appointments that share a faculty,
// a date and any minute. Held reschedule origins count as well.
func findOverlaps(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		WITH held AS (
			SELECT id, faculty_id, date, start_minute, end_minute
			FROM appointments
			WHERE status IN ('pending', 'accepted', 'reschedule_requested')
			UNION ALL
			SELECT id, faculty_id, reschedule_from_date, reschedule_from_start, reschedule_from_end
			FROM appointments
			WHERE status = 'reschedule_requested' AND reschedule_from_date IS NOT NULL
		)
		SELECT a.id, b.id, a.faculty_id, a.date
		FROM held a
		JOIN held b
		  ON a.faculty_id = b.faculty_id
		 AND a.date = b.date
		 AND a.id < b.id
		 AND a.start_minute < b.end_minute
		 AND b.start_minute < a.end_minute
	`)
	if err != nil {
		return nil, fmt.Errorf("query overlaps: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			a, b, faculty uuid.UUID
			date          time.Time
		)
		if err := rows.Scan(&a, &b, &faculty, &date); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("faculty=%s date=%s %s <-> %s", faculty, date.Format(time.DateOnly), a, b))
	}
	return out, rows.Err()
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
