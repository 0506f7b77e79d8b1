package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/analytics"
)

const dateLayout = "2006-01-02"

func parseDate(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, false
	}
	return &d, true
}

func (h *Handler) report(c *gin.Context) {
	defer h.Metrics.Since("owner", time.Now())
	from, ok := parseDate(c.Query("from"))
	if !ok {
		badRequest(c, "INVALID_DATE", "from must be YYYY-MM-DD")
		return
	}
	to, ok := parseDate(c.Query("to"))
	if !ok {
		badRequest(c, "INVALID_DATE", "to must be YYYY-MM-DD")
		return
	}
	rep, err := h.Analytics.Report(c.Request.Context(), analytics.Query{
		OwnerID: subject(c),
		From:    from,
		To:      to,
		Now:     h.Clock.Now(),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
