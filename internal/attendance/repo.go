package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/store"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists attendance data in Postgres.
type Repository struct {
	db   dbtx
	conn *sql.DB // nil inside a transaction
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, conn: db}
}

// RunInTx runs fn against a transaction-scoped repository. Nested calls reuse
// the outer transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	if r.conn == nil {
		return fn(r)
	}
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Repository{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateSubject inserts a subject.
func (r *Repository) CreateSubject(ctx context.Context, s Subject) (Subject, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name, owner_id, year, division, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.OwnerID, s.Year, s.Division, s.CreatedAt)
	if err != nil {
		return Subject{}, fmt.Errorf("insert subject: %w", err)
	}
	return s, nil
}

const subjectColumns = `id, name, owner_id, year, division, created_at`

// SubjectByID returns ErrSubjectNotFound for unknown ids.
func (r *Repository) SubjectByID(ctx context.Context, id string) (Subject, error) {
	var s Subject
	err := r.db.QueryRowContext(ctx, `
		SELECT `+subjectColumns+` FROM subjects WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.OwnerID, &s.Year, &s.Division, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, ErrSubjectNotFound
	}
	if err != nil {
		return Subject{}, fmt.Errorf("get subject: %w", err)
	}
	return s, nil
}

// SubjectsByOwner lists a teacher's subjects ordered by id.
func (r *Repository) SubjectsByOwner(ctx context.Context, ownerID string) ([]Subject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subjectColumns+` FROM subjects WHERE owner_id = $1 ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	var res []Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerID, &s.Year, &s.Division, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// AvailableSubjects applies the same cohort rule as Subject.Admits in SQL.
func (r *Repository) AvailableSubjects(ctx context.Context, studentID string, cohort Cohort) ([]AvailableSubject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.owner_id, s.year, s.division, s.created_at, e.id IS NOT NULL
		FROM subjects s
		LEFT JOIN enrollments e ON e.subject_id = s.id AND e.student_id = $1
		WHERE (s.year = 0 OR s.year = $2) AND (s.division = '' OR s.division = $3)
		ORDER BY s.id
	`, studentID, cohort.Year, cohort.Division)
	if err != nil {
		return nil, fmt.Errorf("list available subjects: %w", err)
	}
	defer rows.Close()
	var res []AvailableSubject
	for rows.Next() {
		var a AvailableSubject
		if err := rows.Scan(&a.ID, &a.Name, &a.OwnerID, &a.Year, &a.Division, &a.CreatedAt, &a.Enrolled); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// InsertEnrollment computes the roll number in the same statement as the
// insert. Two concurrent enrollments may pick the same number; the
// unique_roll_number constraint rejects one of them and the caller retries.
func (r *Repository) InsertEnrollment(ctx context.Context, e Enrollment) (Enrollment, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (id, student_id, subject_id, roll_number, created_at)
		SELECT $1, $2, $3, COALESCE(MAX(roll_number), 0) + 1, $4
		FROM enrollments WHERE subject_id = $3
		ON CONFLICT (student_id, subject_id) DO NOTHING
		RETURNING roll_number
	`, e.ID, e.StudentID, e.SubjectID, e.CreatedAt).Scan(&e.RollNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Enrollment{}, ErrAlreadyEnrolled
	}
	if err != nil {
		return Enrollment{}, fmt.Errorf("insert enrollment: %w", err)
	}
	return e, nil
}

// IsEnrolled checks for an enrollment of the student in the subject.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, subjectID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_id = $2)
	`, studentID, subjectID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

const enrollmentColumns = `id, student_id, subject_id, roll_number, created_at`

// EnrollmentsForSubjects lists enrollments of the given subjects.
func (r *Repository) EnrollmentsForSubjects(ctx context.Context, subjectIDs []string) ([]Enrollment, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	return r.queryEnrollments(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE subject_id = ANY($1) ORDER BY subject_id, roll_number
	`, subjectIDs)
}

// EnrollmentsForStudent lists a student's enrollments.
func (r *Repository) EnrollmentsForStudent(ctx context.Context, studentID string) ([]Enrollment, error) {
	return r.queryEnrollments(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE student_id = $1 ORDER BY subject_id
	`, studentID)
}

func (r *Repository) queryEnrollments(ctx context.Context, query string, args ...any) ([]Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()
	var res []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.StudentID, &e.SubjectID, &e.RollNumber, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// InsertToken writes a new session token. A clash on the token string is
// reported as errDuplicateToken.
func (r *Repository) InsertToken(ctx context.Context, t SessionToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_tokens (id, subject_id, token, created_at, expires_at, active, class_start, class_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.SubjectID, t.Token, t.CreatedAt, t.ExpiresAt, t.Active, nullTime(t.ClassStart), nullTime(t.ClassEnd))
	if store.IsUniqueViolation(err) && store.ConstraintName(err) == "unique_session_token" {
		return errDuplicateToken
	}
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

const tokenColumns = `id, subject_id, token, created_at, expires_at, active, class_start, class_end`

// TokenByValue looks a token up by its exact string.
func (r *Repository) TokenByValue(ctx context.Context, token string) (SessionToken, error) {
	return r.getToken(ctx, `SELECT `+tokenColumns+` FROM session_tokens WHERE token = $1`, token)
}

// TokenByID looks a token up by id.
func (r *Repository) TokenByID(ctx context.Context, id string) (SessionToken, error) {
	return r.getToken(ctx, `SELECT `+tokenColumns+` FROM session_tokens WHERE id = $1`, id)
}

func (r *Repository) getToken(ctx context.Context, query string, arg string) (SessionToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionToken{}, ErrTokenNotFound
	}
	if err != nil {
		return SessionToken{}, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// SetTokenActive flips the soft-revoke flag.
func (r *Repository) SetTokenActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE session_tokens SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// TokensForSubjects lists every token ever issued for the subjects,
// revoked ones included.
func (r *Repository) TokensForSubjects(ctx context.Context, subjectIDs []string) ([]SessionToken, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM session_tokens
		WHERE subject_id = ANY($1) ORDER BY created_at, id
	`, subjectIDs)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()
	var res []SessionToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertRedemptionIfAbsent relies on the unique_redemption constraint: of
// two concurrent inserts for one (student, token) pair exactly one affects a
// row.
func (r *Repository) InsertRedemptionIfAbsent(ctx context.Context, rec Redemption) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO redemptions (id, student_id, subject_id, token_id, redeemed_at, ip_address, device_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, token_id) DO NOTHING
	`, rec.ID, rec.StudentID, rec.SubjectID, rec.TokenID, rec.RedeemedAt, rec.IPAddress, rec.DeviceInfo)
	if err != nil {
		return false, fmt.Errorf("insert redemption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert redemption: %w", err)
	}
	return n == 1, nil
}

// RedemptionsForSubjects lists every redemption against the subjects.
func (r *Repository) RedemptionsForSubjects(ctx context.Context, subjectIDs []string) ([]Redemption, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, subject_id, token_id, redeemed_at, ip_address, device_info
		FROM redemptions WHERE subject_id = ANY($1) ORDER BY redeemed_at, id
	`, subjectIDs)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()
	var res []Redemption
	for rows.Next() {
		var rec Redemption
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SubjectID, &rec.TokenID, &rec.RedeemedAt, &rec.IPAddress, &rec.DeviceInfo); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Roster returns the subject's redemptions made on the UTC date of day,
// ordered by roll number.
func (r *Repository) Roster(ctx context.Context, subjectID string, day time.Time) ([]RosterEntry, error) {
	from := startOfDay(day)
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.student_id, e.roll_number, a.token_id, a.redeemed_at, a.ip_address, t.class_start, t.class_end
		FROM redemptions a
		JOIN enrollments e ON e.student_id = a.student_id AND e.subject_id = a.subject_id
		JOIN session_tokens t ON t.id = a.token_id
		WHERE a.subject_id = $1 AND a.redeemed_at >= $2 AND a.redeemed_at < $3
		ORDER BY e.roll_number, a.redeemed_at
	`, subjectID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	defer rows.Close()
	var res []RosterEntry
	for rows.Next() {
		var (
			e          RosterEntry
			start, end sql.NullTime
		)
		if err := rows.Scan(&e.StudentID, &e.RollNumber, &e.TokenID, &e.RedeemedAt, &e.IPAddress, &start, &end); err != nil {
			return nil, err
		}
		e.ClassStart, e.ClassEnd = timePtr(start), timePtr(end)
		res = append(res, e)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (SessionToken, error) {
	var (
		t          SessionToken
		start, end sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.SubjectID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.Active, &start, &end); err != nil {
		return SessionToken{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.ClassStart, t.ClassEnd = timePtr(start), timePtr(end)
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
