package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"qrattend/internal/attendance"
)

// Source is the read-only view of the attendance store the aggregator needs.
type Source interface {
	SubjectByID(ctx context.Context, id string) (attendance.Subject, error)
	SubjectsByOwner(ctx context.Context, ownerID string) ([]attendance.Subject, error)
	EnrollmentsForSubjects(ctx context.Context, subjectIDs []string) ([]attendance.Enrollment, error)
	EnrollmentsForStudent(ctx context.Context, studentID string) ([]attendance.Enrollment, error)
	TokensForSubjects(ctx context.Context, subjectIDs []string) ([]attendance.SessionToken, error)
	RedemptionsForSubjects(ctx context.Context, subjectIDs []string) ([]attendance.Redemption, error)
}

// Aggregator computes attendance analytics from a Source.
type Aggregator struct {
	src   Source
	opts  Options
	cache *Cache
}

// NewAggregator creates an aggregator. cache may be nil.
func NewAggregator(src Source, opts Options, cache *Cache) *Aggregator {
	return &Aggregator{src: src, opts: opts, cache: cache}
}

// Options returns the aggregator's settings.
func (a *Aggregator) Options() Options { return a.opts }

// Report returns the analytics of every subject owned by q.OwnerID.
func (a *Aggregator) Report(ctx context.Context, q Query) (Report, error) {
	var key string
	if a.cache != nil {
		var err error
		key, err = a.cache.Key(ctx, q)
		if err != nil {
			log.Printf("analytics cache key for %s: %v", q.OwnerID, err)
		} else if rep, ok, err := a.cache.Get(ctx, key); err != nil {
			log.Printf("analytics cache read %s: %v", key, err)
		} else if ok {
			return rep, nil
		}
	}

	snap, err := a.Snapshot(ctx, q.OwnerID)
	if err != nil {
		return Report{}, err
	}
	rep, err := Compute(snap, q, a.opts)
	if err != nil {
		return Report{}, err
	}

	if a.cache != nil && key != "" {
		if err := a.cache.Set(ctx, key, rep); err != nil {
			log.Printf("analytics cache write %s: %v", key, err)
		}
	}
	return rep, nil
}

// Warm computes the owner's default report so the cache holds it at the
// current generation. It is a no-op without a cache.
func (a *Aggregator) Warm(ctx context.Context, ownerID string, now time.Time) error {
	if a.cache == nil {
		return nil
	}
	_, err := a.Report(ctx, Query{OwnerID: ownerID, Now: now.UTC()})
	return err
}

// Snapshot loads everything a report over the owner's subjects needs.
// Redemptions are read first: every redemption was committed after its token
// and its enrollment, so the later reads always contain what they reference.
func (a *Aggregator) Snapshot(ctx context.Context, ownerID string) (Snapshot, error) {
	subjects, err := a.src.SubjectsByOwner(ctx, ownerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load subjects: %w", err)
	}
	ids := make([]string, 0, len(subjects))
	for _, s := range subjects {
		ids = append(ids, s.ID)
	}
	return a.load(ctx, subjects, ids)
}

func (a *Aggregator) load(ctx context.Context, subjects []attendance.Subject, ids []string) (Snapshot, error) {
	snap := Snapshot{Subjects: subjects}
	if len(ids) == 0 {
		return snap, nil
	}
	var err error
	if snap.Redemptions, err = a.src.RedemptionsForSubjects(ctx, ids); err != nil {
		return Snapshot{}, fmt.Errorf("load redemptions: %w", err)
	}
	if snap.Enrollments, err = a.src.EnrollmentsForSubjects(ctx, ids); err != nil {
		return Snapshot{}, fmt.Errorf("load enrollments: %w", err)
	}
	if snap.Tokens, err = a.src.TokensForSubjects(ctx, ids); err != nil {
		return Snapshot{}, fmt.Errorf("load tokens: %w", err)
	}
	return snap, nil
}

// SessionStatus is one class meeting as seen by a student.
type SessionStatus struct {
	TokenID    string     `json:"token_id"`
	Date       string     `json:"date"`
	ClassStart *time.Time `json:"class_start,omitempty"`
	ClassEnd   *time.Time `json:"class_end,omitempty"`
	Attended   bool       `json:"attended"`
	Status     string     `json:"status"`
}

// SubjectAttendance is a student's record in one subject.
type SubjectAttendance struct {
	SubjectID   string          `json:"subject_id"`
	SubjectName string          `json:"subject_name"`
	RollNumber  int             `json:"roll_number"`
	Total       int             `json:"total_sessions"`
	Attended    int             `json:"attended_sessions"`
	Percentage  float64         `json:"percentage"`
	Sessions    []SessionStatus `json:"sessions"`
}

// StudentSummary is a student's attendance across all enrolled subjects.
type StudentSummary struct {
	StudentID  string              `json:"student_id"`
	Total      int                 `json:"total_sessions"`
	Attended   int                 `json:"attended_sessions"`
	Percentage float64             `json:"percentage"`
	Subjects   []SubjectAttendance `json:"subjects"`
}

// StudentSummary reports every enrolled subject of a student, session by
// session.
func (a *Aggregator) StudentSummary(ctx context.Context, studentID string) (StudentSummary, error) {
	enrollments, err := a.src.EnrollmentsForStudent(ctx, studentID)
	if err != nil {
		return StudentSummary{}, fmt.Errorf("load enrollments: %w", err)
	}
	subjects := make([]attendance.Subject, 0, len(enrollments))
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		s, err := a.src.SubjectByID(ctx, e.SubjectID)
		if err != nil {
			return StudentSummary{}, fmt.Errorf("load subject %s: %w", e.SubjectID, err)
		}
		subjects = append(subjects, s)
		ids = append(ids, s.ID)
	}
	snap, err := a.load(ctx, subjects, ids)
	if err != nil {
		return StudentSummary{}, err
	}
	return summarize(studentID, enrollments, snap), nil
}

func summarize(studentID string, enrollments []attendance.Enrollment, snap Snapshot) StudentSummary {
	names := make(map[string]string, len(snap.Subjects))
	for _, s := range snap.Subjects {
		names[s.ID] = s.Name
	}
	redeemed := make(map[string]bool)
	for _, r := range snap.Redemptions {
		if r.StudentID == studentID {
			redeemed[r.TokenID] = true
		}
	}
	tokens := append([]attendance.SessionToken(nil), snap.Tokens...)
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].HeldAt().Before(tokens[j].HeldAt()) })

	sorted := append([]attendance.Enrollment(nil), enrollments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubjectID < sorted[j].SubjectID })

	sum := StudentSummary{StudentID: studentID, Subjects: []SubjectAttendance{}}
	for _, e := range sorted {
		sa := SubjectAttendance{
			SubjectID:   e.SubjectID,
			SubjectName: names[e.SubjectID],
			RollNumber:  e.RollNumber,
			Sessions:    []SessionStatus{},
		}
		for _, t := range tokens {
			if t.SubjectID != e.SubjectID {
				continue
			}
			st := SessionStatus{
				TokenID:    t.ID,
				Date:       t.HeldAt().Format("2006-01-02"),
				ClassStart: t.ClassStart,
				ClassEnd:   t.ClassEnd,
				Status:     "Absent",
			}
			if redeemed[t.ID] {
				st.Attended, st.Status = true, "Present"
				sa.Attended++
			}
			sa.Total++
			sa.Sessions = append(sa.Sessions, st)
		}
		sa.Percentage = Percent(sa.Attended, sa.Total)
		sum.Total += sa.Total
		sum.Attended += sa.Attended
		sum.Subjects = append(sum.Subjects, sa)
	}
	sum.Percentage = Percent(sum.Attended, sum.Total)
	return sum
}
