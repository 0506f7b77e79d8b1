package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "qrattend-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("teacher-1", RoleTeacher, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.ExpiresAt, 2*time.Second)

	claims, err := Parse(tok.Token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.Subject)
	assert.Equal(t, RoleTeacher, claims.Role)
}

func TestIssue_WithCohort(t *testing.T) {
	tok, err := Issue("s1", RoleStudent, testIssuer, testKey, time.Minute, WithCohort(2, "A"))
	require.NoError(t, err)

	claims, err := Parse(tok.Token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, 2, claims.Year)
	assert.Equal(t, "A", claims.Division)
}

func TestIssue_RejectsUnknownRole(t *testing.T) {
	_, err := Issue("x", "admin", testIssuer, testKey, time.Minute)
	assert.Error(t, err)
	_, err = Issue("", RoleStudent, testIssuer, testKey, time.Minute)
	assert.Error(t, err)
}

func TestParse_Failures(t *testing.T) {
	tok, err := Issue("s1", RoleStudent, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	_, err = Parse(tok.Token, "other-key", testIssuer)
	assert.Error(t, err, "wrong key")

	_, err = Parse(tok.Token, testKey, "someone-else")
	assert.Error(t, err, "issuer mismatch")

	expired, err := Issue("s1", RoleStudent, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired.Token, testKey, testIssuer)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleStudent, RegisteredClaims: jwt.RegisteredClaims{Subject: "s1", Issuer: testIssuer}})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Parse(raw, testKey, testIssuer)
	assert.Error(t, err, "alg none")
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", Authenticate(testKey, testIssuer))
	g.GET("/teacher", RequireRole(RoleTeacher), func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	r := newRouter()
	teacher, err := Issue("t1", RoleTeacher, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	student, err := Issue("s1", RoleStudent, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.Token, http.StatusForbidden},
		{"teacher", "Bearer " + teacher.Token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/teacher", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "t1", w.Body.String())
			}
		})
	}
}
