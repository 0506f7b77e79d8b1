package attendance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/retry"
	"qrattend/internal/store"
)

// tokenBytes is the entropy of a session token string (256 bits).
const tokenBytes = 32

// IssueRequest asks for a new session token. Validity is chosen by the
// caller; a deployment default is resolved before the call.
type IssueRequest struct {
	SubjectID  string
	ClassStart time.Time
	ClassEnd   time.Time
	Validity   time.Duration
}

// Issuer creates session tokens.
type Issuer struct {
	store       Store
	clock       Clock
	maxValidity time.Duration
	retrier     *retry.Retrier
	generate    func() (string, error)
}

// NewIssuer builds an issuer whose tokens never stay valid longer than
// maxValidity.
func NewIssuer(s Store, clock Clock, maxValidity time.Duration, attempts int) *Issuer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Issuer{
		store:       s,
		clock:       clock,
		maxValidity: maxValidity,
		retrier: retry.New(
			retry.WithMaxAttempts(attempts),
			retry.WithRetryIf(func(err error) bool {
				return errors.Is(err, errDuplicateToken) || store.IsTransient(err)
			}),
		),
		generate: newTokenString,
	}
}

// Issue validates req and persists a fresh active token. Every attempt uses
// a newly generated token string, so retrying is safe.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (SessionToken, error) {
	if !req.ClassEnd.After(req.ClassStart) {
		return SessionToken{}, ErrInvalidWindow
	}
	if req.Validity <= 0 || req.Validity > i.maxValidity {
		return SessionToken{}, ErrInvalidDuration
	}

	start, end := req.ClassStart.UTC(), req.ClassEnd.UTC()
	return retry.DoWithData(ctx, i.retrier, func(ctx context.Context) (SessionToken, error) {
		value, err := i.generate()
		if err != nil {
			return SessionToken{}, err
		}
		now := i.clock.Now().UTC()
		tok := SessionToken{
			ID:         uuid.NewString(),
			SubjectID:  req.SubjectID,
			Token:      value,
			CreatedAt:  now,
			ExpiresAt:  now.Add(req.Validity),
			Active:     true,
			ClassStart: &start,
			ClassEnd:   &end,
		}
		if err := i.store.InsertToken(ctx, tok); err != nil {
			return SessionToken{}, err
		}
		return tok, nil
	})
}

// MaxValidity is the longest validity Issue accepts.
func (i *Issuer) MaxValidity() time.Duration { return i.maxValidity }

// Revoke deactivates a token. Revoked tokens stay in the store for
// analytics.
func (i *Issuer) Revoke(ctx context.Context, tokenID string) error {
	return i.retrier.Do(ctx, func(ctx context.Context) error {
		return i.store.SetTokenActive(ctx, tokenID, false)
	})
}

func newTokenString() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// QRPayload is the document encoded into the scannable image.
type QRPayload struct {
	Token          string    `json:"token"`
	SubjectID      string    `json:"subject_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	ClassStartTime time.Time `json:"class_start_time"`
	ClassEndTime   time.Time `json:"class_end_time"`
}

// Payload renders the JSON a QR image should carry for t.
func (t SessionToken) Payload() (string, error) {
	p := QRPayload{Token: t.Token, SubjectID: t.SubjectID, ExpiresAt: t.ExpiresAt}
	if t.ClassStart != nil {
		p.ClassStartTime = *t.ClassStart
	}
	if t.ClassEnd != nil {
		p.ClassEndTime = *t.ClassEnd
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParsePayload decodes a scanned QR document.
func ParsePayload(raw string) (QRPayload, error) {
	var p QRPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return QRPayload{}, ErrTokenNotFound
	}
	if p.Token == "" {
		return QRPayload{}, ErrTokenNotFound
	}
	return p, nil
}
