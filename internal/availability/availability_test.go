package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/office-hours-scheduling/internal/schedule"
)

func tr(a, b string) schedule.TimeRange {
	return schedule.TimeRange{Start: schedule.MustClock(a), End: schedule.MustClock(b)}
}

func mondayTemplate() WeekTemplate {
	return WeekTemplate{Days: []DaySchedule{
		{
			Day:    int(time.Monday),
			Slots:  []schedule.TimeRange{tr("09:00", "12:00")},
			Breaks: []Break{{TimeRange: tr("10:30", "11:00"), Label: "coffee"}},
		},
	}}
}

func TestWeekTemplateValidate(t *testing.T) {
	assert.NoError(t, mondayTemplate().Validate())

	bad := WeekTemplate{Days: []DaySchedule{{Day: 7}}}
	assert.ErrorIs(t, bad.Validate(), schedule.ErrInvalidTimeRange)

	dup := WeekTemplate{Days: []DaySchedule{{Day: 1}, {Day: 1}}}
	assert.ErrorIs(t, dup.Validate(), schedule.ErrInvalidTimeRange)

	inverted := WeekTemplate{Days: []DaySchedule{{Day: 2, Slots: []schedule.TimeRange{tr("12:00", "09:00")}}}}
	assert.ErrorIs(t, inverted.Validate(), schedule.ErrInvalidTimeRange)

	overlapping := WeekTemplate{Days: []DaySchedule{{Day: 3, Slots: []schedule.TimeRange{tr("09:00", "11:00"), tr("10:00", "12:00")}}}}
	assert.ErrorIs(t, overlapping.Validate(), schedule.ErrInvalidTimeRange)

	adjacent := WeekTemplate{Days: []DaySchedule{{Day: 3, Slots: []schedule.TimeRange{tr("09:00", "10:00"), tr("10:00", "11:00")}}}}
	assert.NoError(t, adjacent.Validate())
}

func TestMemoryStoreReplaceRejectsOverlappingSlots(t *testing.T) {
	store := NewMemoryStore()
	tpl := WeekTemplate{Days: []DaySchedule{{Day: 1, Slots: []schedule.TimeRange{tr("14:00", "16:00"), tr("09:00", "15:00")}}}}

	_, err := store.Replace(context.Background(), uuid.New(), tpl)
	assert.ErrorIs(t, err, schedule.ErrInvalidTimeRange)
}

func TestNormalizedSortsAndFillsEmpty(t *testing.T) {
	tpl := WeekTemplate{Days: []DaySchedule{
		{Day: 4, Slots: []schedule.TimeRange{tr("14:00", "15:00"), tr("09:00", "10:00")}},
		{Day: 1},
	}}

	n := tpl.Normalized()
	require.Len(t, n.Days, 2)
	assert.Equal(t, 1, n.Days[0].Day)
	assert.NotNil(t, n.Days[0].Slots)
	assert.NotNil(t, n.Days[0].Breaks)
	assert.Equal(t, tr("09:00", "10:00"), n.Days[1].Slots[0])
}

func TestForWeekdayMissingDay(t *testing.T) {
	d := mondayTemplate().ForWeekday(time.Sunday)
	assert.Equal(t, 0, d.Day)
	assert.Empty(t, d.Slots)
}

func TestFreeSlots(t *testing.T) {
	day := mondayTemplate().ForWeekday(time.Monday)
	busy := []schedule.TimeRange{tr("09:30", "10:00")}

	got := FreeSlots(day, busy, 30, 0)
	assert.Equal(t, []schedule.TimeRange{
		tr("09:00", "09:30"),
		tr("10:00", "10:30"),
		tr("11:00", "11:30"),
		tr("11:30", "12:00"),
	}, got)
}

func TestFreeSlotsSkipsEarlierThan(t *testing.T) {
	day := mondayTemplate().ForWeekday(time.Monday)

	got := FreeSlots(day, nil, 60, schedule.MustClock("09:01"))
	// 10:00-11:00 overlaps the break; 11:00-12:00 is the only full hour left
	assert.Equal(t, []schedule.TimeRange{tr("11:00", "12:00")}, got)
}

func TestFreeSlotsZeroDuration(t *testing.T) {
	assert.Nil(t, FreeSlots(mondayTemplate().ForWeekday(time.Monday), nil, 0, 0))
}

func TestMemoryStoreGetMissingIsEmpty(t *testing.T) {
	s := NewMemoryStore()

	tpl, err := s.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, tpl.Days)
	assert.Empty(t, tpl.Days)
}

func TestMemoryStoreReplaceIsFullOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	facultyID := uuid.New()

	_, err := s.Replace(ctx, facultyID, WeekTemplate{Days: []DaySchedule{{Day: 1}, {Day: 3}}})
	require.NoError(t, err)

	replacement := WeekTemplate{Days: []DaySchedule{{Day: 5, Slots: []schedule.TimeRange{tr("13:00", "14:00")}}}}
	first, err := s.Replace(ctx, facultyID, replacement)
	require.NoError(t, err)
	second, err := s.Replace(ctx, facultyID, replacement)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := s.Get(ctx, facultyID)
	require.NoError(t, err)
	require.Len(t, got.Days, 1)
	assert.Equal(t, 5, got.Days[0].Day)
}

func TestMemoryStoreReplaceRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Replace(context.Background(), uuid.New(), WeekTemplate{Days: []DaySchedule{{Day: -1}}})
	assert.ErrorIs(t, err, schedule.ErrInvalidTimeRange)
}
