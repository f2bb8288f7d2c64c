package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/office-hours-scheduling/internal/appointment"
	"github.com/hackgods/office-hours-scheduling/internal/availability"
	"github.com/hackgods/office-hours-scheduling/internal/metrics"
	"github.com/hackgods/office-hours-scheduling/internal/notify"
	redisclient "github.com/hackgods/office-hours-scheduling/internal/redis"
)

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository

	student  uuid.UUID
	student2 uuid.UUID
	faculty  uuid.UUID
	faculty2 uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithAvailability(t, availability.NewMemoryStore())
}

func newTestServerWithAvailability(t *testing.T, avail availability.Store) *testServer {
	t.Helper()

	ts := &testServer{
		repo:     appointment.NewMemoryRepository(),
		student:  uuid.New(),
		student2: uuid.New(),
		faculty:  uuid.New(),
		faculty2: uuid.New(),
	}
	ts.repo.AddUser(appointment.User{ID: ts.student, Name: "Ada", Role: appointment.RoleStudent})
	ts.repo.AddUser(appointment.User{ID: ts.student2, Name: "Ben", Role: appointment.RoleStudent})
	ts.repo.AddUser(appointment.User{ID: ts.faculty, Name: "Prof. Fermat", Role: appointment.RoleFaculty})
	ts.repo.AddUser(appointment.User{ID: ts.faculty2, Name: "Prof. Gauss", Role: appointment.RoleFaculty})

	reg := prometheus.NewRegistry()
	svc := appointment.NewService(ts.repo, avail, redisclient.NoopLocker{}, notify.Discard{}, appointment.Options{
		Location: time.UTC,
		Metrics:  metrics.New(reg),
		Logger:   zerolog.New(io.Discard),
		Now:      func() time.Time { return time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC) },
	})

	healthy := func(context.Context) error { return nil }
	ts.handler = NewRouter(RouterConfig{
		Service:  svc,
		Health:   NewHealthHandler(healthy, healthy, "test", "v0"),
		Gatherer: reg,
		Logger:   zerolog.New(io.Discard),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != uuid.Nil {
		req.Header.Set(ActorHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, student uuid.UUID, start, end string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/appointments", student, CreateAppointmentRequest{
		FacultyID: ts.faculty.String(),
		Title:     "Office hours",
		Date:      "2025-03-10",
		StartTime: start,
		EndTime:   end,
	})
}

func (ts *testServer) mustBook(t *testing.T, start, end string) AppointmentResponse {
	t.Helper()
	rec := ts.book(t, ts.student, start, end)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AppointmentResponse](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.book(t, ts.student, "09:00", "09:30")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "2025-03-10", resp.Date)
	assert.Equal(t, "09:00", resp.StartTime)
	assert.Equal(t, "09:30", resp.EndTime)
	assert.Equal(t, 30, resp.DurationMinutes)
	assert.Equal(t, ts.student, resp.StudentID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointmentRequiresActor(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.book(t, uuid.Nil, "09:00", "09:30")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set(ActorHeader, "not-a-uuid")
	bad := httptest.NewRecorder()
	ts.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	assert.Equal(t, "invalid_actor", decode[ErrorResponse](t, bad).Error)
}

func TestCreateAppointmentBadRequests(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body any
		code string
	}{
		{"missing title", CreateAppointmentRequest{FacultyID: ts.faculty.String(), Date: "2025-03-10", StartTime: "09:00", EndTime: "09:30"}, "validation_failed"},
		{"bad faculty id", CreateAppointmentRequest{FacultyID: "nope", Title: "x", Date: "2025-03-10", StartTime: "09:00", EndTime: "09:30"}, "validation_failed"},
		{"bad clock", CreateAppointmentRequest{FacultyID: ts.faculty.String(), Title: "x", Date: "2025-03-10", StartTime: "9am", EndTime: "09:30"}, "invalid_time_range"},
		{"inverted window", CreateAppointmentRequest{FacultyID: ts.faculty.String(), Title: "x", Date: "2025-03-10", StartTime: "10:00", EndTime: "09:30"}, "invalid_time_range"},
		{"past date", CreateAppointmentRequest{FacultyID: ts.faculty.String(), Title: "x", Date: "2025-02-10", StartTime: "09:00", EndTime: "09:30"}, "invalid_time_range"},
		{"not json", "{", "invalid_request_body"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", ts.student, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateAppointmentUnknownFaculty(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.student, CreateAppointmentRequest{
		FacultyID: uuid.NewString(), Title: "x", Date: "2025-03-10", StartTime: "09:00", EndTime: "09:30",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "faculty_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestCreateAppointmentConflictSuggestsSlots(t *testing.T) {
	ts := newTestServer(t)

	tpl := `{"days":[{"day":1,"slots":[{"start":"09:00","end":"10:30"}],"breaks":[]}]}`
	req := httptest.NewRequest(http.MethodPut, "/faculty/"+ts.faculty.String()+"/availability", strings.NewReader(tpl))
	req.Header.Set(ActorHeader, ts.faculty.String())
	put := httptest.NewRecorder()
	ts.handler.ServeHTTP(put, req)
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	ts.mustBook(t, "09:00", "09:30")

	rec := ts.book(t, ts.student2, "09:15", "09:45")

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "slot_conflict", resp.Error)
	assert.Equal(t, []SlotResponse{
		{Date: "2025-03-10", StartTime: "09:30", EndTime: "10:00"},
		{Date: "2025-03-10", StartTime: "10:00", EndTime: "10:30"},
	}, resp.Suggestions)
}

func TestAcceptFlow(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.mustBook(t, "09:00", "09:30")
	path := "/appointments/" + appt.ID.String() + "/accept"

	rec := ts.do(t, http.MethodPost, path, ts.faculty2, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, path, ts.faculty, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, path, ts.faculty, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[ErrorResponse](t, rec).Error)
}

func TestRejectWithMessage(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.mustBook(t, "09:00", "09:30")
	msg := "On leave"

	rec := ts.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reject", ts.faculty, RejectAppointmentRequest{Message: &msg})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "rejected", resp.Status)
	require.NotNil(t, resp.FacultyResponseMessage)
	assert.Equal(t, "On leave", *resp.FacultyResponseMessage)
}

func TestRescheduleFlow(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.mustBook(t, "09:00", "09:30")
	base := "/appointments/" + appt.ID.String()
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/accept", ts.faculty, nil).Code)

	rec := ts.do(t, http.MethodPost, base+"/reschedule", ts.student, RescheduleAppointmentRequest{
		Date: "2025-03-11", StartTime: "10:00", EndTime: "10:30",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "reschedule_requested", resp.Status)
	require.NotNil(t, resp.RescheduleFrom)
	assert.Equal(t, SlotResponse{Date: "2025-03-10", StartTime: "09:00", EndTime: "09:30"}, *resp.RescheduleFrom)

	rec = ts.do(t, http.MethodPost, base+"/reschedule/reject", ts.faculty, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[AppointmentResponse](t, rec)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "2025-03-10", resp.Date)
	assert.Equal(t, "09:00", resp.StartTime)
	assert.Nil(t, resp.RescheduleFrom)

	rec = ts.do(t, http.MethodPost, base+"/reschedule", ts.student, RescheduleAppointmentRequest{
		Date: "2025-03-11", StartTime: "10:00", EndTime: "10:30",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, base+"/reschedule/approve", ts.faculty, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[AppointmentResponse](t, rec)
	assert.Equal(t, "2025-03-11", resp.Date)
	assert.Equal(t, "10:00", resp.StartTime)
}

func TestRescheduleConflict(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.mustBook(t, "09:00", "09:30")
	base := "/appointments/" + appt.ID.String()
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/accept", ts.faculty, nil).Code)
	require.Equal(t, http.StatusCreated, ts.book(t, ts.student2, "11:00", "12:00").Code)

	rec := ts.do(t, http.MethodPost, base+"/reschedule", ts.student, RescheduleAppointmentRequest{
		Date: "2025-03-10", StartTime: "11:30", EndTime: "12:00",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decode[ErrorResponse](t, rec).Error)
}

func TestCancelAndComplete(t *testing.T) {
	ts := newTestServer(t)

	pending := ts.mustBook(t, "09:00", "09:30")
	reason := "schedule changed"
	rec := ts.do(t, http.MethodPost, "/appointments/"+pending.ID.String()+"/cancel", ts.student, CancelAppointmentRequest{Reason: &reason})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "cancelled", resp.Status)
	require.NotNil(t, resp.CancelReason)
	assert.Equal(t, reason, *resp.CancelReason)

	accepted := ts.mustBook(t, "10:00", "10:30")
	base := "/appointments/" + accepted.ID.String()
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/accept", ts.faculty, nil).Code)

	rec = ts.do(t, http.MethodPost, base+"/complete", ts.faculty, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, base+"/cancel", ts.faculty, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAppointment(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.mustBook(t, "09:00", "09:30")

	rec := ts.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), ts.faculty, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appt.ID, decode[AppointmentResponse](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), ts.student2, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), ts.student, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/appointments/123", ts.student, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAppointments(t *testing.T) {
	ts := newTestServer(t)
	ts.mustBook(t, "09:00", "09:30")
	ts.mustBook(t, "10:00", "10:30")

	rec := ts.do(t, http.MethodGet, "/appointments?role=faculty&limit=1", ts.faculty, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[AppointmentListResponse](t, rec)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments", ts.student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[AppointmentListResponse](t, rec).Items, 2)

	rec = ts.do(t, http.MethodGet, "/appointments?role=admin", ts.student, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments?limit=abc", ts.student, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityAndSlots(t *testing.T) {
	ts := newTestServer(t)
	path := "/faculty/" + ts.faculty.String()

	tpl := availability.WeekTemplate{Days: []availability.DaySchedule{{
		Day:   int(time.Monday),
		Slots: nil,
	}}}
	rec := ts.do(t, http.MethodPut, path+"/availability", ts.faculty2, tpl)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body := `{"days":[{"day":1,"slots":[{"start":"14:00","end":"15:00"}],"breaks":[{"start":"14:30","end":"15:00","label":"seminar"}]}]}`
	req := httptest.NewRequest(http.MethodPut, path+"/availability", strings.NewReader(body))
	req.Header.Set(ActorHeader, ts.faculty.String())
	put := httptest.NewRecorder()
	ts.handler.ServeHTTP(put, req)
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	rec = ts.do(t, http.MethodGet, path+"/availability", ts.student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[availability.WeekTemplate](t, rec)
	require.Len(t, got.Days, 1)
	require.Len(t, got.Days[0].Breaks, 1)
	assert.Equal(t, "seminar", got.Days[0].Breaks[0].Label)

	rec = ts.do(t, http.MethodGet, path+"/slots?date=2025-03-10&duration=30", ts.student, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decode[SlotSuggestionsResponse](t, rec)
	assert.Equal(t, []SlotResponse{{Date: "2025-03-10", StartTime: "14:00", EndTime: "14:30"}}, slots.Slots)

	rec = ts.do(t, http.MethodGet, path+"/slots?date=tomorrow", ts.student, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.FailNextCommit(errors.New("connection refused"))

	rec := ts.book(t, ts.student, "09:00", "09:30")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[ErrorResponse](t, rec).Error)
}

type downAvailabilityStore struct{}

func (downAvailabilityStore) Get(context.Context, uuid.UUID) (availability.WeekTemplate, error) {
	return availability.WeekTemplate{}, errors.New("dial tcp: connection refused")
}

func (downAvailabilityStore) Replace(context.Context, uuid.UUID, availability.WeekTemplate) (availability.WeekTemplate, error) {
	return availability.WeekTemplate{}, errors.New("dial tcp: connection refused")
}

func TestAvailabilityStoreOutageIsServiceUnavailable(t *testing.T) {
	ts := newTestServerWithAvailability(t, downAvailabilityStore{})
	path := "/faculty/" + ts.faculty.String()
	tpl := availability.WeekTemplate{Days: []availability.DaySchedule{}}

	cases := []struct {
		name   string
		method string
		path   string
		actor  uuid.UUID
		body   any
	}{
		{"get availability", http.MethodGet, path + "/availability", ts.student, nil},
		{"replace availability", http.MethodPut, path + "/availability", ts.faculty, tpl},
		{"suggest slots", http.MethodGet, path + "/slots?date=2025-03-10&duration=30", ts.student, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tc.actor, tc.body)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
			assert.Equal(t, "unavailable", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }
	up := func(context.Context) error { return nil }

	cases := []struct {
		name     string
		postgres PingFunc
		redis    PingFunc
		code     int
		status   string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{Health: NewHealthHandler(tc.postgres, tc.redis, "test", "v0"), Logger: zerolog.Nop()})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.status, decode[ReadinessResponse](t, rec).Status)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.mustBook(t, "09:00", "09:30")

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "appointment_transitions_total")
}
