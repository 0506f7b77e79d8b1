package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/analytics"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// Deps are the collaborators the HTTP layer drives. Cache and Queue may be
// nil.
type Deps struct {
	Store     attendance.Store
	Issuer    *attendance.Issuer
	Engine    *attendance.Engine
	Enroller  *attendance.Enroller
	Analytics *analytics.Aggregator
	Cache     *analytics.Cache
	Queue     queue.Queue
	Metrics   *metrics.Metrics
	Clock     attendance.Clock

	DefaultValidity time.Duration
	JWTSigningKey   string
	JWTIssuer       string
	Limiter         *httpmiddleware.TokenBucket
	// Health reports dependency status for /healthz.
	Health func(ctx context.Context) map[string]bool
}

// Handler serves the attendance API.
type Handler struct {
	Deps
}

// New creates a handler, filling in defaults for optional deps.
func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = attendance.SystemClock{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.DefaultValidity <= 0 {
		d.DefaultValidity = 30 * time.Second
	}
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1", auth.Authenticate(h.JWTSigningKey, h.JWTIssuer))
	if h.Limiter != nil {
		v1.Use(h.Limiter.Middleware(func(c *gin.Context) string {
			claims, _ := auth.FromContext(c)
			return claims.Subject
		}))
	}

	teacher := v1.Group("", auth.RequireRole(auth.RoleTeacher))
	teacher.POST("/subjects", h.createSubject)
	teacher.GET("/subjects", h.listSubjects)
	teacher.POST("/subjects/:id/sessions", h.issueSession)
	teacher.POST("/sessions/:id/revoke", h.revokeSession)
	teacher.GET("/subjects/:id/attendance", h.roster)
	teacher.GET("/analytics", h.report)

	student := v1.Group("", auth.RequireRole(auth.RoleStudent))
	student.GET("/subjects/available", h.availableSubjects)
	student.POST("/subjects/:id/enroll", h.enroll)
	student.POST("/attendance/redeem", h.redeem)
	student.GET("/attendance/me", h.mySummary)
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if h.Health != nil {
		for name, ok := range h.Health(c.Request.Context()) {
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
	}
	c.JSON(status, body)
}

func subject(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}

func cohort(c *gin.Context) attendance.Cohort {
	claims, _ := auth.FromContext(c)
	return attendance.Cohort{Year: claims.Year, Division: claims.Division}
}

// statusFor maps caller errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrTokenNotFound),
		errors.Is(err, attendance.ErrSubjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrAlreadyRedeemed),
		errors.Is(err, attendance.ErrAlreadyEnrolled):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, attendance.ErrNotEnrolled),
		errors.Is(err, attendance.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrInvalidWindow),
		errors.Is(err, attendance.ErrInvalidDuration),
		errors.Is(err, attendance.ErrSubjectMismatch),
		errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, analytics.ErrRangeTooLarge):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, analytics.ErrInvalidRange):
		return "INVALID_RANGE"
	case errors.Is(err, analytics.ErrRangeTooLarge):
		return "RANGE_TOO_LARGE"
	}
	return attendance.ErrorCode(err)
}

// fail writes err as {error, code}. Unexpected errors are logged and hidden.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error", "code": "INTERNAL"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": codeFor(err)})
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": code})
}

// ownedSubject loads the subject named by the :id param and checks the
// caller owns it.
func (h *Handler) ownedSubject(c *gin.Context) (attendance.Subject, bool) {
	s, err := h.Store.SubjectByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return attendance.Subject{}, false
	}
	if s.OwnerID != subject(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your subject", "code": "FORBIDDEN"})
		return attendance.Subject{}, false
	}
	return s, true
}

// committed invalidates the owner's cached analytics and notifies the
// worker. Both are best effort: the write already happened.
func (h *Handler) committed(ctx context.Context, evt queue.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx, evt.OwnerID); err != nil {
			log.Printf("analytics cache invalidate %s: %v", evt.OwnerID, err)
		}
	}
	if h.Queue != nil {
		if err := h.Queue.Publish(ctx, evt); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}
}
