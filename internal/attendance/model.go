package attendance

import "time"

// Cohort is the year and division a student studies in.
type Cohort struct {
	Year     int    `json:"year,omitempty"`
	Division string `json:"division,omitempty"`
}

// Subject is a class owned by one teacher. A subject with a zero Year or
// empty Division does not restrict enrollment on that field.
type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Year      int       `json:"year,omitempty"`
	Division  string    `json:"division,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Admits reports whether a student of cohort c may enroll.
func (s Subject) Admits(c Cohort) bool {
	if s.Year != 0 && s.Year != c.Year {
		return false
	}
	return s.Division == "" || s.Division == c.Division
}

// AvailableSubject is a subject open to a student, flagged when the student
// already holds an enrollment in it.
type AvailableSubject struct {
	Subject
	Enrolled bool `json:"enrolled"`
}

// Enrollment binds a student to a subject under a roll number.
type Enrollment struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	SubjectID  string    `json:"subject_id"`
	RollNumber int       `json:"roll_number"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionToken is one issuance of a scannable credential for a class meeting.
// ClassStart and ClassEnd describe the meeting and are independent of
// ExpiresAt, which bounds how long the token can be redeemed.
type SessionToken struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id"`
	Token      string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Active     bool       `json:"active"`
	ClassStart *time.Time `json:"class_start,omitempty"`
	ClassEnd   *time.Time `json:"class_end,omitempty"`
}

// HeldAt is the instant analytics buckets a session by: the class start when
// the token carries a class window, otherwise the issuance time.
func (t SessionToken) HeldAt() time.Time {
	if t.ClassStart != nil {
		return t.ClassStart.UTC()
	}
	return t.CreatedAt.UTC()
}

// Redemption is one successful attendance mark.
type Redemption struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	SubjectID  string    `json:"subject_id"`
	TokenID    string    `json:"token_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
	DeviceInfo string    `json:"device_info,omitempty"`
}

// RosterEntry is one line of a subject's attendance sheet for a day.
type RosterEntry struct {
	StudentID  string     `json:"student_id"`
	RollNumber int        `json:"roll_number"`
	TokenID    string     `json:"token_id"`
	RedeemedAt time.Time  `json:"redeemed_at"`
	IPAddress  string     `json:"ip_address"`
	ClassStart *time.Time `json:"class_start,omitempty"`
	ClassEnd   *time.Time `json:"class_end,omitempty"`
}
