package analytics

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
)

func at(d time.Time, hour int) *time.Time {
	t := d.Add(time.Duration(hour) * time.Hour)
	return &t
}

// scenarioSnapshot: one subject, ten students, four sessions on 2025-03-10
// redeemed by 10, 8, 5 and 2 students.
func scenarioSnapshot() Snapshot {
	d := day(2025, 3, 10)
	snap := Snapshot{Subjects: []attendance.Subject{{ID: "math", Name: "Mathematics", OwnerID: "t1"}}}
	for i := 0; i < 10; i++ {
		snap.Enrollments = append(snap.Enrollments, attendance.Enrollment{
			StudentID: fmt.Sprintf("s%d", i), SubjectID: "math", RollNumber: i + 1,
		})
	}
	for i, n := range []int{10, 8, 5, 2} {
		tok := attendance.SessionToken{
			ID: fmt.Sprintf("tok%d", i), SubjectID: "math",
			CreatedAt: *at(d, 8), ExpiresAt: *at(d, 9),
			ClassStart: at(d, 9+i), ClassEnd: at(d, 10+i),
		}
		snap.Tokens = append(snap.Tokens, tok)
		for s := 0; s < n; s++ {
			snap.Redemptions = append(snap.Redemptions, attendance.Redemption{
				ID: fmt.Sprintf("r%d-%d", i, s), StudentID: fmt.Sprintf("s%d", s), SubjectID: "math", TokenID: tok.ID,
			})
		}
	}
	return snap
}

func TestCompute_DailyRateScenario(t *testing.T) {
	snap := scenarioSnapshot()
	require.Len(t, snap.Redemptions, 25)

	rep, err := Compute(snap, Query{OwnerID: "t1", Now: day(2025, 3, 12)}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, rep.Daily, 1)
	b := rep.Daily[0]
	assert.Equal(t, "2025-03-10", b.Label)
	assert.Equal(t, 4, b.Sessions)
	assert.Equal(t, 25, b.Attended)
	assert.Equal(t, 40, b.Possible)
	assert.Equal(t, 62.5, b.Rate)

	require.Len(t, rep.Weekly, 1)
	assert.Equal(t, "2025-W11", rep.Weekly[0].Label)
	assert.Equal(t, 62.5, rep.Weekly[0].Rate)
	require.Len(t, rep.Monthly, 1)
	assert.Equal(t, 62.5, rep.Monthly[0].Rate)

	require.Len(t, rep.Heatmap, 1)
	assert.Equal(t, 62.5, rep.Heatmap[0].Rate)
}

func TestCompute_EmptyBucketsAreZero(t *testing.T) {
	from, to := day(2025, 3, 9), day(2025, 3, 11)
	rep, err := Compute(scenarioSnapshot(), Query{OwnerID: "t1", From: &from, To: &to, Now: to}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, rep.Daily, 3)
	assert.Equal(t, 0.0, rep.Daily[0].Rate)
	assert.Equal(t, 0, rep.Daily[0].Sessions)
	assert.Equal(t, 62.5, rep.Daily[1].Rate)
	assert.Equal(t, 0.0, rep.Daily[2].Rate)

	require.Len(t, rep.Weekly, 2)
	assert.Equal(t, day(2025, 3, 3), rep.Weekly[0].Start)
	assert.Equal(t, 0.0, rep.Weekly[0].Rate)
	assert.Equal(t, 62.5, rep.Weekly[1].Rate)
}

func TestCompute_Defaulters(t *testing.T) {
	rep, err := Compute(scenarioSnapshot(), Query{OwnerID: "t1", Now: day(2025, 3, 12)}, DefaultOptions())
	require.NoError(t, err)

	// s2..s4 sit exactly on 75% and are not defaulters
	want := []Defaulter{
		{StudentID: "s8", Attended: 1, Total: 4, Percentage: 25},
		{StudentID: "s9", Attended: 1, Total: 4, Percentage: 25},
		{StudentID: "s5", Attended: 2, Total: 4, Percentage: 50},
		{StudentID: "s6", Attended: 2, Total: 4, Percentage: 50},
		{StudentID: "s7", Attended: 2, Total: 4, Percentage: 50},
	}
	assert.Equal(t, want, rep.Defaulters)
}

func TestCompute_DefaulterAcrossSubjects(t *testing.T) {
	snap := scenarioSnapshot()
	d := day(2025, 3, 11)
	snap.Subjects = append(snap.Subjects, attendance.Subject{ID: "phys", Name: "Physics", OwnerID: "t1"})
	snap.Enrollments = append(snap.Enrollments, attendance.Enrollment{StudentID: "s0", SubjectID: "phys", RollNumber: 1})
	snap.Tokens = append(snap.Tokens, attendance.SessionToken{ID: "p1", SubjectID: "phys", CreatedAt: d, ExpiresAt: d.Add(time.Minute), ClassStart: at(d, 9)})

	rep, err := Compute(snap, Query{OwnerID: "t1", Now: d}, DefaultOptions())
	require.NoError(t, err)

	// s0 attended all four maths sessions but missed physics: 4/5 = 80%
	for _, def := range rep.Defaulters {
		assert.NotEqual(t, "s0", def.StudentID)
	}
	require.Len(t, rep.Heatmap, 2)
	assert.Equal(t, "math", rep.Heatmap[0].SubjectID)
	assert.Equal(t, "phys", rep.Heatmap[1].SubjectID)
	assert.Equal(t, 0.0, rep.Heatmap[1].Rate)
	assert.Equal(t, 1, rep.Heatmap[1].Sessions)
}

func TestCompute_NoSessionsMeansDefaulterAtZero(t *testing.T) {
	snap := Snapshot{
		Subjects:    []attendance.Subject{{ID: "math", OwnerID: "t1"}},
		Enrollments: []attendance.Enrollment{{StudentID: "alice", SubjectID: "math", RollNumber: 1}},
	}
	rep, err := Compute(snap, Query{OwnerID: "t1", Now: day(2025, 3, 10)}, DefaultOptions())
	require.NoError(t, err)

	assert.Empty(t, rep.Daily)
	assert.Nil(t, rep.From)
	assert.Equal(t, []Defaulter{{StudentID: "alice", Attended: 0, Total: 0, Percentage: 0}}, rep.Defaulters)
	require.Len(t, rep.Heatmap, 1)
	assert.Equal(t, 0.0, rep.Heatmap[0].Rate)
}

func TestCompute_HeatmapWindow(t *testing.T) {
	snap := scenarioSnapshot()
	opts := DefaultOptions()

	inside, err := Compute(snap, Query{OwnerID: "t1", Now: day(2025, 4, 8)}, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, inside.Heatmap[0].Sessions)

	outside, err := Compute(snap, Query{OwnerID: "t1", Now: day(2025, 4, 9)}, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, outside.Heatmap[0].Sessions)
	assert.Equal(t, 0.0, outside.Heatmap[0].Rate)
}

func TestCompute_RangeFiltersDefaulters(t *testing.T) {
	from, to := day(2025, 3, 11), day(2025, 3, 12)
	rep, err := Compute(scenarioSnapshot(), Query{OwnerID: "t1", From: &from, To: &to, Now: to}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, rep.Defaulters, 10)
	for _, def := range rep.Defaulters {
		assert.Equal(t, 0, def.Total)
	}
}

func TestCompute_RangeErrors(t *testing.T) {
	from, to := day(2025, 3, 10), day(2025, 3, 9)
	_, err := Compute(scenarioSnapshot(), Query{From: &from, To: &to}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidRange)

	far := day(2027, 1, 1)
	_, err = Compute(scenarioSnapshot(), Query{From: &from, To: &far}, DefaultOptions())
	assert.ErrorIs(t, err, ErrRangeTooLarge)
}

func TestCompute_OpenRangeBounds(t *testing.T) {
	from := day(2025, 3, 8)
	rep, err := Compute(scenarioSnapshot(), Query{OwnerID: "t1", From: &from, Now: day(2025, 3, 12)}, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, rep.Daily, 5) // 8th through the 12th
	assert.Equal(t, day(2025, 3, 12), *rep.To)

	to := day(2025, 3, 10)
	rep, err = Compute(scenarioSnapshot(), Query{OwnerID: "t1", To: &to, Now: day(2025, 3, 12)}, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, rep.Daily, 1)
}

func TestCompute_ClampKeepsDefaulterHistory(t *testing.T) {
	old, recent := day(2025, 1, 6), day(2025, 3, 10)
	snap := Snapshot{Subjects: []attendance.Subject{{ID: "math", Name: "Mathematics", OwnerID: "t1"}}}
	for i, s := range []string{"a", "b"} {
		snap.Enrollments = append(snap.Enrollments, attendance.Enrollment{StudentID: s, SubjectID: "math", RollNumber: i + 1})
	}
	snap.Tokens = []attendance.SessionToken{
		{ID: "old", SubjectID: "math", CreatedAt: *at(old, 8), ExpiresAt: *at(old, 9), ClassStart: at(old, 9)},
		{ID: "recent", SubjectID: "math", CreatedAt: *at(recent, 8), ExpiresAt: *at(recent, 9), ClassStart: at(recent, 9)},
	}
	snap.Redemptions = []attendance.Redemption{
		{ID: "r1", StudentID: "a", SubjectID: "math", TokenID: "old"},
		{ID: "r2", StudentID: "b", SubjectID: "math", TokenID: "old"},
		{ID: "r3", StudentID: "a", SubjectID: "math", TokenID: "recent"},
	}
	opts := DefaultOptions()
	opts.MaxRangeDays = 30

	for name, q := range map[string]Query{
		"unbounded": {OwnerID: "t1", Now: recent},
		"to only":   {OwnerID: "t1", Now: recent, To: &recent},
	} {
		t.Run(name, func(t *testing.T) {
			rep, err := Compute(snap, q, opts)
			require.NoError(t, err)
			require.NotNil(t, rep.From)
			assert.Equal(t, day(2025, 2, 9), *rep.From, "series is clamped")
			assert.Len(t, rep.Daily, 30)

			require.Len(t, rep.Defaulters, 1)
			d := rep.Defaulters[0]
			assert.Equal(t, "b", d.StudentID)
			assert.Equal(t, 1, d.Attended)
			assert.Equal(t, 2, d.Total)
			assert.Equal(t, 50.0, d.Percentage)
		})
	}
}

func TestCompute_IsDeterministic(t *testing.T) {
	snap := scenarioSnapshot()
	q := Query{OwnerID: "t1", Now: day(2025, 3, 12)}

	first, err := Compute(snap, q, DefaultOptions())
	require.NoError(t, err)
	second, err := Compute(snap, q, DefaultOptions())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCompute_IgnoresDuplicateAndOrphanRedemptions(t *testing.T) {
	snap := scenarioSnapshot()
	snap.Redemptions = append(snap.Redemptions,
		attendance.Redemption{StudentID: "s0", SubjectID: "math", TokenID: "tok0"},
		attendance.Redemption{StudentID: "s0", SubjectID: "math", TokenID: "unknown"},
	)
	rep, err := Compute(snap, Query{OwnerID: "t1", Now: day(2025, 3, 12)}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 25, rep.Daily[0].Attended)
}
