package analytics

import (
	"sort"
	"time"

	"qrattend/internal/attendance"
)

// Snapshot is the data a report is computed from.
type Snapshot struct {
	Subjects    []attendance.Subject
	Tokens      []attendance.SessionToken
	Enrollments []attendance.Enrollment
	Redemptions []attendance.Redemption
}

// Query selects a reporting window. From and To are UTC dates, both
// inclusive; nil means open. Now anchors the heatmap window.
type Query struct {
	OwnerID string
	From    *time.Time
	To      *time.Time
	Now     time.Time
}

// Options are the deployment-level analytics settings.
type Options struct {
	DefaulterThreshold float64
	HeatmapDays        int
	MaxRangeDays       int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{DefaulterThreshold: 75, HeatmapDays: 30, MaxRangeDays: 400}
}

// Bucket is one point of a rate series.
type Bucket struct {
	Start    time.Time `json:"start"`
	Label    string    `json:"label"`
	Sessions int       `json:"sessions"`
	Attended int       `json:"attended"`
	Possible int       `json:"possible"`
	Rate     float64   `json:"rate"`
}

// HeatCell is a subject's rate over the trailing heatmap window.
type HeatCell struct {
	SubjectID   string  `json:"subject_id"`
	SubjectName string  `json:"subject_name"`
	Sessions    int     `json:"sessions"`
	Attended    int     `json:"attended"`
	Possible    int     `json:"possible"`
	Rate        float64 `json:"rate"`
}

// Defaulter is a student whose attendance ratio is below the threshold.
type Defaulter struct {
	StudentID  string  `json:"student_id"`
	Attended   int     `json:"attended"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Report is the full analytics response for one subject owner.
type Report struct {
	OwnerID     string      `json:"owner_id"`
	From        *time.Time  `json:"from,omitempty"`
	To          *time.Time  `json:"to,omitempty"`
	Daily       []Bucket    `json:"daily"`
	Weekly      []Bucket    `json:"weekly"`
	Monthly     []Bucket    `json:"monthly"`
	HeatmapDays int         `json:"heatmap_days"`
	Heatmap     []HeatCell  `json:"heatmap"`
	Threshold   float64     `json:"threshold"`
	Defaulters  []Defaulter `json:"defaulters"`
}

// index holds the per-token and per-subject lookups shared by every output.
type index struct {
	enrolled      map[string]int             // subject -> enrolled students
	attendedCount map[string]int             // token -> redemptions
	byStudent     map[string]map[string]bool // student -> tokens redeemed
	tokens        map[string]bool
}

func buildIndex(s Snapshot) index {
	idx := index{
		enrolled:      make(map[string]int),
		attendedCount: make(map[string]int),
		byStudent:     make(map[string]map[string]bool),
		tokens:        make(map[string]bool, len(s.Tokens)),
	}
	for _, t := range s.Tokens {
		idx.tokens[t.ID] = true
	}
	for _, e := range s.Enrollments {
		idx.enrolled[e.SubjectID]++
	}
	for _, r := range s.Redemptions {
		if !idx.tokens[r.TokenID] {
			continue
		}
		seen := idx.byStudent[r.StudentID]
		if seen == nil {
			seen = make(map[string]bool)
			idx.byStudent[r.StudentID] = seen
		}
		if seen[r.TokenID] {
			continue
		}
		seen[r.TokenID] = true
		idx.attendedCount[r.TokenID]++
	}
	return idx
}

// Compute builds a report from s. It is a pure function of its inputs:
// equal snapshots and queries give equal reports.
func Compute(s Snapshot, q Query, opts Options) (Report, error) {
	from, to, err := resolveRange(s.Tokens, q, opts.MaxRangeDays)
	if err != nil {
		return Report{}, err
	}

	idx := buildIndex(s)
	rep := Report{
		OwnerID:     q.OwnerID,
		Daily:       []Bucket{},
		Weekly:      []Bucket{},
		Monthly:     []Bucket{},
		HeatmapDays: opts.HeatmapDays,
		Threshold:   opts.DefaulterThreshold,
	}

	var inRange []attendance.SessionToken
	if from != nil {
		f, t := *from, *to
		rep.From, rep.To = &f, &t
		inRange = sessionsBetween(s.Tokens, f, t.AddDate(0, 0, 1))
		rep.Daily = series(Day, f, t, inRange, idx)
		rep.Weekly = series(Week, f, t, inRange, idx)
		rep.Monthly = series(Month, f, t, inRange, idx)
	}

	// The clamp only bounds the series. Without a requested lower bound,
	// defaulters count every session up to the end of the range.
	counted := inRange
	if from != nil && q.From == nil {
		counted = sessionsBetween(s.Tokens, time.Time{}, to.AddDate(0, 0, 1))
	}

	rep.Heatmap = heatmap(s, q.Now, opts.HeatmapDays, idx)
	rep.Defaulters = defaulters(s.Enrollments, counted, idx, opts.DefaulterThreshold)
	return rep, nil
}

// resolveRange turns the optional query bounds into inclusive UTC days. An
// open bound falls back to the earliest or latest session; a report with no
// sessions and no bounds has no range. Explicit ranges longer than maxDays
// are rejected, implicit ones are clamped to the last maxDays days.
// Defaulters are not subject to the clamp.
func resolveRange(tokens []attendance.SessionToken, q Query, maxDays int) (*time.Time, *time.Time, error) {
	var earliest, latest time.Time
	for i, t := range tokens {
		d := startOfDay(t.HeldAt())
		if i == 0 || d.Before(earliest) {
			earliest = d
		}
		if i == 0 || d.After(latest) {
			latest = d
		}
	}

	var from, to time.Time
	switch {
	case q.From != nil && q.To != nil:
		from, to = startOfDay(*q.From), startOfDay(*q.To)
		if to.Before(from) {
			return nil, nil, ErrInvalidRange
		}
		if maxDays > 0 && daysBetween(from, to) > maxDays {
			return nil, nil, ErrRangeTooLarge
		}
		return &from, &to, nil
	case q.From != nil:
		from = startOfDay(*q.From)
		to = startOfDay(q.Now)
		if latest.After(to) {
			to = latest
		}
		if to.Before(from) {
			to = from
		}
		if maxDays > 0 && daysBetween(from, to) > maxDays {
			return nil, nil, ErrRangeTooLarge
		}
		return &from, &to, nil
	case q.To != nil:
		to = startOfDay(*q.To)
		from = to
		if len(tokens) > 0 && earliest.Before(from) {
			from = earliest
		}
	default:
		if len(tokens) == 0 {
			return nil, nil, nil
		}
		from, to = earliest, latest
	}
	if maxDays > 0 && daysBetween(from, to) > maxDays {
		from = to.AddDate(0, 0, -(maxDays - 1))
	}
	return &from, &to, nil
}

// daysBetween counts the days of the inclusive range [from, to].
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24) + 1
}

func sessionsBetween(tokens []attendance.SessionToken, from, until time.Time) []attendance.SessionToken {
	var res []attendance.SessionToken
	for _, t := range tokens {
		at := t.HeldAt()
		if !at.Before(from) && at.Before(until) {
			res = append(res, t)
		}
	}
	return res
}

func series(g Granularity, from, to time.Time, sessions []attendance.SessionToken, idx index) []Bucket {
	type acc struct{ sessions, attended, possible int }
	sums := make(map[time.Time]*acc)
	for _, t := range sessions {
		key := bucketStart(g, t.HeldAt())
		a := sums[key]
		if a == nil {
			a = &acc{}
			sums[key] = a
		}
		a.sessions++
		a.possible += idx.enrolled[t.SubjectID]
		a.attended += idx.attendedCount[t.ID]
	}

	res := []Bucket{}
	last := bucketStart(g, to)
	for start := bucketStart(g, from); !start.After(last); start = nextBucket(g, start) {
		b := Bucket{Start: start, Label: bucketLabel(g, start)}
		if a := sums[start]; a != nil {
			b.Sessions, b.Attended, b.Possible = a.sessions, a.attended, a.possible
			b.Rate = Percent(a.attended, a.possible)
		}
		res = append(res, b)
	}
	return res
}

func heatmap(s Snapshot, now time.Time, days int, idx index) []HeatCell {
	if days <= 0 {
		days = 30
	}
	until := startOfDay(now).AddDate(0, 0, 1)
	from := until.AddDate(0, 0, -days)

	cells := make(map[string]*HeatCell, len(s.Subjects))
	res := make([]HeatCell, 0, len(s.Subjects))
	subjects := append([]attendance.Subject(nil), s.Subjects...)
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })
	for _, subj := range subjects {
		cells[subj.ID] = &HeatCell{SubjectID: subj.ID, SubjectName: subj.Name}
	}
	for _, t := range sessionsBetween(s.Tokens, from, until) {
		c := cells[t.SubjectID]
		if c == nil {
			continue
		}
		c.Sessions++
		c.Possible += idx.enrolled[t.SubjectID]
		c.Attended += idx.attendedCount[t.ID]
	}
	for _, subj := range subjects {
		c := cells[subj.ID]
		c.Rate = Percent(c.Attended, c.Possible)
		res = append(res, *c)
	}
	return res
}

func defaulters(enrollments []attendance.Enrollment, sessions []attendance.SessionToken, idx index, threshold float64) []Defaulter {
	perSubject := make(map[string][]string)
	for _, t := range sessions {
		perSubject[t.SubjectID] = append(perSubject[t.SubjectID], t.ID)
	}
	subjectsOf := make(map[string][]string)
	for _, e := range enrollments {
		subjectsOf[e.StudentID] = append(subjectsOf[e.StudentID], e.SubjectID)
	}

	res := []Defaulter{}
	for student, subjects := range subjectsOf {
		var attended, total int
		redeemed := idx.byStudent[student]
		for _, subj := range subjects {
			for _, tokenID := range perSubject[subj] {
				total++
				if redeemed[tokenID] {
					attended++
				}
			}
		}
		if isDefaulter(attended, total, threshold) {
			res = append(res, Defaulter{
				StudentID:  student,
				Attended:   attended,
				Total:      total,
				Percentage: Percent(attended, total),
			})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Percentage != res[j].Percentage {
			return res[i].Percentage < res[j].Percentage
		}
		return res[i].StudentID < res[j].StudentID
	})
	return res
}

// isDefaulter compares the exact ratio, not the rounded percentage. A
// student with no sessions has a ratio of zero.
func isDefaulter(attended, total int, threshold float64) bool {
	if total == 0 {
		return threshold > 0
	}
	return float64(attended)*100 < threshold*float64(total)
}
