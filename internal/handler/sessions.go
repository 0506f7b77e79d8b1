package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

func (h *Handler) createSubject(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Year     int    `json:"year" binding:"min=0"`
		Division string `json:"division" binding:"max=10"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_BODY", err.Error())
		return
	}
	s, err := h.Store.CreateSubject(c.Request.Context(), attendance.Subject{
		Name:     strings.TrimSpace(req.Name),
		OwnerID:  subject(c),
		Year:     req.Year,
		Division: strings.TrimSpace(req.Division),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) listSubjects(c *gin.Context) {
	subjects, err := h.Store.SubjectsByOwner(c.Request.Context(), subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	if subjects == nil {
		subjects = []attendance.Subject{}
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

var errUnknownUnit = errors.New("validity unit must be seconds, minutes or hours")

type validity struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// duration resolves a validity; a missing one yields fallback. Values that
// would exceed limit are rejected before the multiplication can overflow.
func (v *validity) duration(fallback, limit time.Duration) (time.Duration, error) {
	if v == nil {
		return fallback, nil
	}
	var unit time.Duration
	switch strings.ToLower(v.Unit) {
	case "s", "sec", "second", "seconds":
		unit = time.Second
	case "m", "min", "minute", "minutes":
		unit = time.Minute
	case "h", "hour", "hours":
		unit = time.Hour
	default:
		return 0, errUnknownUnit
	}
	if v.Value <= 0 || int64(v.Value) > int64(limit/unit) {
		return 0, attendance.ErrInvalidDuration
	}
	return time.Duration(v.Value) * unit, nil
}

func (h *Handler) issueSession(c *gin.Context) {
	subj, ok := h.ownedSubject(c)
	if !ok {
		return
	}
	var req struct {
		ClassStart time.Time `json:"class_start"`
		ClassEnd   time.Time `json:"class_end"`
		Validity   *validity `json:"validity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_BODY", err.Error())
		return
	}
	if req.ClassStart.IsZero() || req.ClassEnd.IsZero() {
		badRequest(c, "INVALID_BODY", "class_start and class_end are required")
		return
	}
	d, err := req.Validity.duration(h.DefaultValidity, h.Issuer.MaxValidity())
	if errors.Is(err, errUnknownUnit) {
		badRequest(c, "INVALID_BODY", err.Error())
		return
	}
	if err != nil {
		fail(c, err)
		return
	}

	tok, err := h.Issuer.Issue(c.Request.Context(), attendance.IssueRequest{
		SubjectID:  subj.ID,
		ClassStart: req.ClassStart,
		ClassEnd:   req.ClassEnd,
		Validity:   d,
	})
	if err != nil {
		fail(c, err)
		return
	}
	h.Metrics.TokensIssued.Inc()
	h.committed(c.Request.Context(), queue.Event{
		Type: queue.TypeTokenIssued, OwnerID: subj.OwnerID, SubjectID: subj.ID, TokenID: tok.ID, At: tok.CreatedAt,
	})

	payload, err := tok.Payload()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":       tok.Token,
		"token_id":    tok.ID,
		"subject_id":  tok.SubjectID,
		"expires_at":  tok.ExpiresAt,
		"class_start": tok.ClassStart,
		"class_end":   tok.ClassEnd,
		"payload":     payload,
	})
}

func (h *Handler) revokeSession(c *gin.Context) {
	ctx := c.Request.Context()
	tok, err := h.Store.TokenByID(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	subj, err := h.Store.SubjectByID(ctx, tok.SubjectID)
	if err != nil {
		fail(c, err)
		return
	}
	if subj.OwnerID != subject(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your subject", "code": "FORBIDDEN"})
		return
	}
	if err := h.Issuer.Revoke(ctx, tok.ID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session revoked", "token_id": tok.ID})
}
