package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

func (h *Handler) enroll(c *gin.Context) {
	e, err := h.Enroller.Enroll(c.Request.Context(), subject(c), cohort(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) availableSubjects(c *gin.Context) {
	subs, err := h.Store.AvailableSubjects(c.Request.Context(), subject(c), cohort(c))
	if err != nil {
		fail(c, err)
		return
	}
	if subs == nil {
		subs = []attendance.AvailableSubject{}
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subs})
}

func (h *Handler) redeem(c *gin.Context) {
	var req struct {
		Token     string `json:"token"`
		SubjectID string `json:"subject_id" binding:"required"`
		// Payload is the scanned QR document; its token is used when
		// Token is empty.
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_BODY", err.Error())
		return
	}
	if req.Token == "" && req.Payload != "" {
		p, err := attendance.ParsePayload(req.Payload)
		if err != nil {
			h.Metrics.ObserveRedeem(attendance.ErrorCode(err))
			fail(c, err)
			return
		}
		req.Token = p.Token
	}

	res, err := h.Engine.Redeem(c.Request.Context(), attendance.RedeemRequest{
		Token:      req.Token,
		SubjectID:  req.SubjectID,
		StudentID:  subject(c),
		IPAddress:  c.ClientIP(),
		DeviceInfo: c.Request.UserAgent(),
	}, h.Clock.Now())
	if err != nil {
		h.Metrics.ObserveRedeem(attendance.ErrorCode(err))
		fail(c, err)
		return
	}
	h.Metrics.ObserveRedeem("OK")

	rec := res.Redemption
	if subj, err := h.Store.SubjectByID(c.Request.Context(), rec.SubjectID); err != nil {
		log.Printf("load subject %s after redeem: %v", rec.SubjectID, err)
	} else {
		h.committed(c.Request.Context(), queue.Event{
			Type: queue.TypeRedeemed, OwnerID: subj.OwnerID, SubjectID: rec.SubjectID,
			TokenID: rec.TokenID, StudentID: rec.StudentID, At: rec.RedeemedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "attendance marked",
		"class_start": res.ClassStart,
		"class_end":   res.ClassEnd,
	})
}

func (h *Handler) mySummary(c *gin.Context) {
	defer h.Metrics.Since("student", time.Now())
	sum, err := h.Analytics.StudentSummary(c.Request.Context(), subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) roster(c *gin.Context) {
	subj, ok := h.ownedSubject(c)
	if !ok {
		return
	}
	day := h.Clock.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "INVALID_DATE", "date must be YYYY-MM-DD")
			return
		}
		day = d
	}
	entries, err := h.Store.Roster(c.Request.Context(), subj.ID, day)
	if err != nil {
		fail(c, err)
		return
	}
	if entries == nil {
		entries = []attendance.RosterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"subject_id": subj.ID,
		"date":       day.Format(dateLayout),
		"records":    entries,
	})
}
