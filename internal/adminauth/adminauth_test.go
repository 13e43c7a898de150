package adminauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.Issue(42, "admin@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.AdminAccountID)
	assert.Equal(t, "admin@example.com", claims.EmailAddress)
}

func TestVerifyExpiredToken(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.Issue(42, "admin@example.com", -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a").Issue(42, "admin@example.com", time.Hour)
	require.NoError(t, err)

	_, err = NewManager("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	m := NewManager("test-secret")
	_, err := m.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newTestRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(m))
	admin := r.Group("/admin", RequireAdmin())
	admin.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"admin_account_id": AdminAccountID(c)})
	})
	return r
}

func TestMiddlewareAllowsValidToken(t *testing.T) {
	m := NewManager("test-secret")
	token, err := m.Issue(7, "admin@example.com", time.Hour)
	require.NoError(t, err)

	r := newTestRouter(m)
	req := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin_account_id":7`)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	r := newTestRouter(NewManager("test-secret"))
	req := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareRejectsTamperedToken(t *testing.T) {
	m := NewManager("test-secret")
	token, err := m.Issue(7, "admin@example.com", time.Hour)
	require.NoError(t, err)

	r := newTestRouter(m)
	req := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
