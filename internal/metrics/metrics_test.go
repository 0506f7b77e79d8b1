package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMetricsExposed(t *testing.T) {
	m := New()
	m.TokensIssued.Inc()
	m.ObserveRedeem("OK")
	m.ObserveRedeem("OK")
	m.ObserveRedeem("TOKEN_EXPIRED")
	m.OnRedeemRetry(1, nil, time.Millisecond)
	m.Since("owner", time.Now())

	body := scrape(t, m)
	assert.Contains(t, body, "qrattend_tokens_issued_total 1")
	assert.Contains(t, body, `qrattend_redemptions_total{outcome="OK"} 2`)
	assert.Contains(t, body, `qrattend_redemptions_total{outcome="TOKEN_EXPIRED"} 1`)
	assert.Contains(t, body, "qrattend_redeem_retries_total 1")
	assert.Contains(t, body, `qrattend_analytics_duration_seconds_count{report="owner"} 1`)
}

func TestNewIsIndependent(t *testing.T) {
	a, b := New(), New()
	a.TokensIssued.Inc()
	assert.Contains(t, scrape(t, b), "qrattend_tokens_issued_total 0")
}
