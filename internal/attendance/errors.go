package attendance

import "errors"

// Caller errors. They are expected outcomes, never retried, and safe to show
// to the person who triggered them.
var (
	ErrInvalidWindow   = errors.New("class end must be after class start")
	ErrInvalidDuration = errors.New("validity must be positive and within the allowed maximum")
	ErrTokenNotFound   = errors.New("invalid QR code")
	ErrSubjectMismatch = errors.New("QR code does not belong to this subject")
	ErrTokenExpired    = errors.New("QR code has expired")
	ErrNotEnrolled     = errors.New("you are not enrolled in this subject")
	ErrAlreadyRedeemed = errors.New("attendance already marked")
	ErrAlreadyEnrolled = errors.New("already enrolled in this subject")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrNotEligible     = errors.New("you cannot enroll in this subject")
)

// errDuplicateToken reports a token string collision on insert. The issuer
// answers it with a fresh token; it never reaches callers.
var errDuplicateToken = errors.New("token string already issued")

var callerErrors = []error{
	ErrInvalidWindow,
	ErrInvalidDuration,
	ErrTokenNotFound,
	ErrSubjectMismatch,
	ErrTokenExpired,
	ErrNotEnrolled,
	ErrAlreadyRedeemed,
	ErrAlreadyEnrolled,
	ErrSubjectNotFound,
	ErrNotEligible,
}

// IsCallerError reports whether err is one of the expected caller errors.
func IsCallerError(err error) bool {
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode maps a caller error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidWindow):
		return "INVALID_WINDOW"
	case errors.Is(err, ErrInvalidDuration):
		return "INVALID_DURATION"
	case errors.Is(err, ErrTokenNotFound):
		return "TOKEN_NOT_FOUND"
	case errors.Is(err, ErrSubjectMismatch):
		return "SUBJECT_MISMATCH"
	case errors.Is(err, ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, ErrNotEnrolled):
		return "NOT_ENROLLED"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "ALREADY_REDEEMED"
	case errors.Is(err, ErrAlreadyEnrolled):
		return "ALREADY_ENROLLED"
	case errors.Is(err, ErrSubjectNotFound):
		return "SUBJECT_NOT_FOUND"
	case errors.Is(err, ErrNotEligible):
		return "NOT_ELIGIBLE"
	}
	return "INTERNAL"
}
