package attendance

import (
	"context"
	"time"
)

// Queries is every explicit data access the core performs. Implementations
// return plain values; nothing is loaded lazily.
type Queries interface {
	CreateSubject(ctx context.Context, s Subject) (Subject, error)
	SubjectByID(ctx context.Context, id string) (Subject, error)
	SubjectsByOwner(ctx context.Context, ownerID string) ([]Subject, error)
	// AvailableSubjects lists the subjects that admit cohort, ordered by id,
	// marking those the student is enrolled in.
	AvailableSubjects(ctx context.Context, studentID string, cohort Cohort) ([]AvailableSubject, error)

	// InsertEnrollment assigns the next roll number for the subject. It
	// returns ErrAlreadyEnrolled when the pair already exists.
	InsertEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
	IsEnrolled(ctx context.Context, studentID, subjectID string) (bool, error)
	EnrollmentsForSubjects(ctx context.Context, subjectIDs []string) ([]Enrollment, error)
	EnrollmentsForStudent(ctx context.Context, studentID string) ([]Enrollment, error)

	InsertToken(ctx context.Context, t SessionToken) error
	TokenByValue(ctx context.Context, token string) (SessionToken, error)
	TokenByID(ctx context.Context, id string) (SessionToken, error)
	SetTokenActive(ctx context.Context, id string, active bool) error
	TokensForSubjects(ctx context.Context, subjectIDs []string) ([]SessionToken, error)

	// InsertRedemptionIfAbsent commits r unless a record for
	// (r.StudentID, r.TokenID) exists. It reports whether r was written.
	// The check and the write are one atomic step in the store.
	InsertRedemptionIfAbsent(ctx context.Context, r Redemption) (bool, error)
	RedemptionsForSubjects(ctx context.Context, subjectIDs []string) ([]Redemption, error)
	Roster(ctx context.Context, subjectID string, day time.Time) ([]RosterEntry, error)
}

// Store is the Token Store, Redemption Ledger and enrollment source.
type Store interface {
	Queries
	// RunInTx runs fn inside one bounded transaction. Any error from fn
	// rolls the transaction back.
	RunInTx(ctx context.Context, fn func(q Queries) error) error
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
