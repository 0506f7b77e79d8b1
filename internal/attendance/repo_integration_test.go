//go:build integration

package attendance

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/store"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/attendance/
func newPostgresRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(ctx, db.Client))
	return NewRepository(db.Client)
}

func TestRepository_ConcurrentRedeemSameStudent(t *testing.T) {
	repo := newPostgresRepo(t)
	ctx := context.Background()

	subj, err := repo.CreateSubject(ctx, Subject{Name: "Concurrency", OwnerID: "teacher-" + uuid.NewString()})
	require.NoError(t, err)
	student := "student-" + uuid.NewString()
	_, err = NewEnroller(repo, 3).Enroll(ctx, student, Cohort{}, subj.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	tok, err := NewIssuer(repo, ClockFunc(func() time.Time { return now }), time.Hour, 3).Issue(ctx, IssueRequest{
		SubjectID:  subj.ID,
		ClassStart: now,
		ClassEnd:   now.Add(time.Hour),
		Validity:   time.Minute,
	})
	require.NoError(t, err)

	engine := NewEngine(repo, 3, nil)
	req := RedeemRequest{Token: tok.Token, SubjectID: subj.ID, StudentID: student}

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Redeem(ctx, req, now.Add(time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyRedeemed):
				already++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
	assert.Empty(t, other)

	recs, err := repo.RedemptionsForSubjects(ctx, []string{subj.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRepository_CohortEnrollmentRoundTrip(t *testing.T) {
	repo := newPostgresRepo(t)
	ctx := context.Background()

	subj, err := repo.CreateSubject(ctx, Subject{Name: "Data Structures", OwnerID: "teacher-" + uuid.NewString(), Year: 2, Division: "A"})
	require.NoError(t, err)
	student := "student-" + uuid.NewString()
	en := NewEnroller(repo, 3)

	_, err = en.Enroll(ctx, student, Cohort{Year: 2, Division: "B"}, subj.ID)
	assert.ErrorIs(t, err, ErrNotEligible)
	_, err = en.Enroll(ctx, student, Cohort{Year: 2, Division: "A"}, subj.ID)
	require.NoError(t, err)

	subs, err := repo.AvailableSubjects(ctx, student, Cohort{Year: 2, Division: "A"})
	require.NoError(t, err)
	var found bool
	for _, s := range subs {
		if s.ID == subj.ID {
			found = true
			assert.True(t, s.Enrolled)
		}
	}
	assert.True(t, found)
}
