package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *MemoryStore
	now     time.Time
	issuer  *Issuer
	engine  *Engine
	subject Subject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), now: t0}
	clock := ClockFunc(func() time.Time { return f.now })
	f.issuer = NewIssuer(f.store, clock, 2*time.Hour, 3)
	f.engine = NewEngine(f.store, 3, nil)

	subj, err := f.store.CreateSubject(context.Background(), Subject{ID: "math", Name: "Mathematics", OwnerID: "teacher-1"})
	require.NoError(t, err)
	f.subject = subj
	return f
}

func (f *fixture) enroll(t *testing.T, students ...string) {
	t.Helper()
	en := NewEnroller(f.store, 3)
	for _, s := range students {
		_, err := en.Enroll(context.Background(), s, Cohort{}, f.subject.ID)
		require.NoError(t, err)
	}
}

func (f *fixture) issue(t *testing.T, validity time.Duration) SessionToken {
	t.Helper()
	tok, err := f.issuer.Issue(context.Background(), IssueRequest{
		SubjectID:  f.subject.ID,
		ClassStart: f.now,
		ClassEnd:   f.now.Add(time.Hour),
		Validity:   validity,
	})
	require.NoError(t, err)
	return tok
}
