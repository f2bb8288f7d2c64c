package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

// MemoryRepository is an in-process Repository. Transactions are serialised
// by one mutex and roll back by restoring a snapshot, which gives the same
// atomicity contract as the Postgres store within a single process.
type MemoryRepository struct {
	mu           sync.Mutex
	users        map[uuid.UUID]User
	appointments map[uuid.UUID]*Appointment

	// failCommit, when set, makes the next WithinTx roll back and report it.
	failCommit error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[uuid.UUID]User),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *MemoryRepository) AddUser(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// FailNextCommit makes the next transaction roll back with err after fn ran.
func (r *MemoryRepository) FailNextCommit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCommit = err
}

// Count returns the number of stored appointments.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *MemoryRepository) ListAppointmentsByStudent(_ context.Context, studentID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page(func(a *Appointment) bool { return a.StudentID == studentID }, limit, offset), nil
}

func (r *MemoryRepository) ListAppointmentsByFaculty(_ context.Context, facultyID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page(func(a *Appointment) bool { return a.FacultyID == facultyID }, limit, offset), nil
}

func (r *MemoryRepository) ListBlocking(_ context.Context, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocking(facultyID, date), nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[uuid.UUID]*Appointment, len(r.appointments))
	for id, a := range r.appointments {
		snapshot[id] = a.clone()
	}

	err := fn(ctx, &memoryTx{repo: r})
	if err == nil && r.failCommit != nil {
		err = fmt.Errorf("%w: %v", ErrUnavailable, r.failCommit)
		r.failCommit = nil
	}
	if err != nil {
		r.appointments = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) get(id uuid.UUID) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepository) page(match func(*Appointment) bool, limit, offset int) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if match(a) {
			out = append(out, *a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[j].Date.Before(out[i].Date)
		}
		return out[i].StartTime > out[j].StartTime
	})

	if offset >= len(out) {
		return []Appointment{}
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) blocking(facultyID uuid.UUID, date schedule.Date) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if a.FacultyID != facultyID || !a.Status.Blocking() {
			continue
		}
		for _, held := range a.occupied() {
			if held.Date == date {
				out = append(out, *a.clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// memoryTx runs with the repository mutex already held.
type memoryTx struct {
	repo *MemoryRepository
}

func (t *memoryTx) LockFaculty(context.Context, uuid.UUID) error { return nil }

func (t *memoryTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	return t.repo.get(id)
}

func (t *memoryTx) ListBlocking(_ context.Context, facultyID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	return t.repo.blocking(facultyID, date), nil
}

func (t *memoryTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if _, exists := t.repo.appointments[a.ID]; exists {
		return fmt.Errorf("%w: appointment %s already exists", ErrConflict, a.ID)
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.repo.appointments[a.ID] = a.clone()
	return nil
}

func (t *memoryTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	if _, exists := t.repo.appointments[a.ID]; !exists {
		return ErrAppointmentNotFound
	}
	a.UpdatedAt = time.Now()
	t.repo.appointments[a.ID] = a.clone()
	return nil
}
