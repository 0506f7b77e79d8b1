package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for development and tests. Its
// mutex plays the part of the database's uniqueness constraints, so it only
// serves a single process.
type MemoryStore struct {
	mu          sync.RWMutex
	subjects    map[string]Subject
	enrollments map[pairKey]Enrollment
	tokens      map[string]SessionToken // by id
	tokenIndex  map[string]string       // token string -> id
	redemptions map[pairKey]Redemption  // (student, token id)
	order       []pairKey               // redemption insertion order
}

type pairKey struct{ a, b string }

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:    make(map[string]Subject),
		enrollments: make(map[pairKey]Enrollment),
		tokens:      make(map[string]SessionToken),
		tokenIndex:  make(map[string]string),
		redemptions: make(map[pairKey]Redemption),
	}
}

// RunInTx calls fn directly; each memory operation is already atomic.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m)
}

func (m *MemoryStore) CreateSubject(ctx context.Context, s Subject) (Subject, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
	return s, nil
}

func (m *MemoryStore) SubjectByID(ctx context.Context, id string) (Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return Subject{}, ErrSubjectNotFound
	}
	return s, nil
}

func (m *MemoryStore) SubjectsByOwner(ctx context.Context, ownerID string) ([]Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Subject
	for _, s := range m.subjects {
		if s.OwnerID == ownerID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) AvailableSubjects(ctx context.Context, studentID string, cohort Cohort) ([]AvailableSubject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []AvailableSubject
	for _, s := range m.subjects {
		if !s.Admits(cohort) {
			continue
		}
		_, enrolled := m.enrollments[pairKey{studentID, s.ID}]
		res = append(res, AvailableSubject{Subject: s, Enrolled: enrolled})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) InsertEnrollment(ctx context.Context, e Enrollment) (Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{e.StudentID, e.SubjectID}
	if _, exists := m.enrollments[key]; exists {
		return Enrollment{}, ErrAlreadyEnrolled
	}
	maxRoll := 0
	for k, existing := range m.enrollments {
		if k.b == e.SubjectID && existing.RollNumber > maxRoll {
			maxRoll = existing.RollNumber
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.RollNumber = maxRoll + 1
	m.enrollments[key] = e
	return e, nil
}

func (m *MemoryStore) IsEnrolled(ctx context.Context, studentID, subjectID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.enrollments[pairKey{studentID, subjectID}]
	return ok, nil
}

func (m *MemoryStore) EnrollmentsForSubjects(ctx context.Context, subjectIDs []string) ([]Enrollment, error) {
	want := toSet(subjectIDs)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Enrollment
	for _, e := range m.enrollments {
		if want[e.SubjectID] {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SubjectID != res[j].SubjectID {
			return res[i].SubjectID < res[j].SubjectID
		}
		return res[i].RollNumber < res[j].RollNumber
	})
	return res, nil
}

func (m *MemoryStore) EnrollmentsForStudent(ctx context.Context, studentID string) ([]Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SubjectID < res[j].SubjectID })
	return res, nil
}

func (m *MemoryStore) InsertToken(ctx context.Context, t SessionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokenIndex[t.Token]; exists {
		return errDuplicateToken
	}
	m.tokens[t.ID] = t
	m.tokenIndex[t.Token] = t.ID
	return nil
}

func (m *MemoryStore) TokenByValue(ctx context.Context, token string) (SessionToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokenIndex[token]
	if !ok {
		return SessionToken{}, ErrTokenNotFound
	}
	return m.tokens[id], nil
}

func (m *MemoryStore) TokenByID(ctx context.Context, id string) (SessionToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return SessionToken{}, ErrTokenNotFound
	}
	return t, nil
}

func (m *MemoryStore) SetTokenActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	t.Active = active
	m.tokens[id] = t
	return nil
}

func (m *MemoryStore) TokensForSubjects(ctx context.Context, subjectIDs []string) ([]SessionToken, error) {
	want := toSet(subjectIDs)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []SessionToken
	for _, t := range m.tokens {
		if want[t.SubjectID] {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) InsertRedemptionIfAbsent(ctx context.Context, r Redemption) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{r.StudentID, r.TokenID}
	if _, exists := m.redemptions[key]; exists {
		return false, nil
	}
	m.redemptions[key] = r
	m.order = append(m.order, key)
	return true, nil
}

func (m *MemoryStore) RedemptionsForSubjects(ctx context.Context, subjectIDs []string) ([]Redemption, error) {
	want := toSet(subjectIDs)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Redemption
	for _, key := range m.order {
		if r := m.redemptions[key]; want[r.SubjectID] {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) Roster(ctx context.Context, subjectID string, day time.Time) ([]RosterEntry, error) {
	from := startOfDay(day)
	to := from.AddDate(0, 0, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []RosterEntry
	for _, key := range m.order {
		r := m.redemptions[key]
		if r.SubjectID != subjectID || r.RedeemedAt.Before(from) || !r.RedeemedAt.Before(to) {
			continue
		}
		e, ok := m.enrollments[pairKey{r.StudentID, r.SubjectID}]
		if !ok {
			continue
		}
		t := m.tokens[r.TokenID]
		res = append(res, RosterEntry{
			StudentID:  r.StudentID,
			RollNumber: e.RollNumber,
			TokenID:    r.TokenID,
			RedeemedAt: r.RedeemedAt,
			IPAddress:  r.IPAddress,
			ClassStart: t.ClassStart,
			ClassEnd:   t.ClassEnd,
		})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].RollNumber < res[j].RollNumber })
	return res, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
