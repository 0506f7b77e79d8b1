package attendance

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"qrattend/internal/retry"
	"qrattend/internal/store"
)

// RedeemRequest is a student's attempt to mark attendance. IPAddress and
// DeviceInfo are provenance only.
type RedeemRequest struct {
	Token      string
	SubjectID  string
	StudentID  string
	IPAddress  string
	DeviceInfo string
}

// RedeemResult describes a committed redemption.
type RedeemResult struct {
	Redemption Redemption
	ClassStart *time.Time
	ClassEnd   *time.Time
}

// Engine validates and commits redemptions. It keeps no in-process locks:
// the store's uniqueness guarantee decides concurrent attempts.
type Engine struct {
	store   Store
	retrier *retry.Retrier
}

// NewEngine creates an engine that retries the whole transaction up to
// attempts times on transient storage faults.
func NewEngine(s Store, attempts int, onRetry func(attempt int, err error, delay time.Duration)) *Engine {
	return &Engine{
		store: s,
		retrier: retry.New(
			retry.WithMaxAttempts(attempts),
			retry.WithRetryIf(store.IsTransient),
			retry.WithOnRetry(onRetry),
		),
	}
}

// Redeem runs the validation sequence at instant now and records the
// redemption. Failures come back as the caller errors in errors.go or as
// wrapped storage errors.
func (e *Engine) Redeem(ctx context.Context, req RedeemRequest, now time.Time) (RedeemResult, error) {
	var res RedeemResult
	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		return e.store.RunInTx(ctx, func(q Queries) error {
			var err error
			res, err = redeem(ctx, q, req, now)
			return err
		})
	})
	if err != nil {
		return RedeemResult{}, err
	}
	return res, nil
}

func redeem(ctx context.Context, q Queries, req RedeemRequest, now time.Time) (RedeemResult, error) {
	if req.Token == "" {
		return RedeemResult{}, ErrTokenNotFound
	}
	tok, err := q.TokenByValue(ctx, req.Token)
	if err != nil {
		return RedeemResult{}, err
	}
	if !tok.Active {
		return RedeemResult{}, ErrTokenNotFound
	}
	if req.SubjectID != tok.SubjectID {
		return RedeemResult{}, ErrSubjectMismatch
	}
	if !now.Before(tok.ExpiresAt) {
		return RedeemResult{}, ErrTokenExpired
	}

	enrolled, err := q.IsEnrolled(ctx, req.StudentID, tok.SubjectID)
	if err != nil {
		return RedeemResult{}, err
	}
	if !enrolled {
		return RedeemResult{}, ErrNotEnrolled
	}

	rec := Redemption{
		ID:         uuid.NewString(),
		StudentID:  req.StudentID,
		SubjectID:  tok.SubjectID,
		TokenID:    tok.ID,
		RedeemedAt: now.UTC(),
		IPAddress:  req.IPAddress,
		DeviceInfo: truncate(req.DeviceInfo, 200),
	}
	inserted, err := q.InsertRedemptionIfAbsent(ctx, rec)
	if err != nil {
		return RedeemResult{}, err
	}
	if !inserted {
		return RedeemResult{}, ErrAlreadyRedeemed
	}
	return RedeemResult{Redemption: rec, ClassStart: tok.ClassStart, ClassEnd: tok.ClassEnd}, nil
}

// Enroller adds students to subjects.
type Enroller struct {
	store   Store
	retrier *retry.Retrier
}

// NewEnroller creates an enroller. Roll number collisions between
// concurrent enrollments are retried like transient faults.
func NewEnroller(s Store, attempts int) *Enroller {
	return &Enroller{
		store: s,
		retrier: retry.New(
			retry.WithMaxAttempts(attempts),
			retry.WithRetryIf(func(err error) bool {
				return store.IsTransient(err) || store.ConstraintName(err) == "unique_roll_number"
			}),
		),
	}
}

// Enroll assigns the student the next roll number of the subject. Students
// outside the subject's cohort get ErrNotEligible.
func (en *Enroller) Enroll(ctx context.Context, studentID string, cohort Cohort, subjectID string) (Enrollment, error) {
	subj, err := en.store.SubjectByID(ctx, subjectID)
	if err != nil {
		return Enrollment{}, err
	}
	if !subj.Admits(cohort) {
		return Enrollment{}, ErrNotEligible
	}
	return retry.DoWithData(ctx, en.retrier, func(ctx context.Context) (Enrollment, error) {
		return en.store.InsertEnrollment(ctx, Enrollment{StudentID: studentID, SubjectID: subjectID})
	})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
