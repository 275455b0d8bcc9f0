package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lightloop/chat-service/internal/config"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	labels, err := ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	labels, err = ParseMetricsLabels("service=chat-service,env=prod")
	require.NoError(t, err)
	require.Equal(t, "chat-service", labels["service"])
	require.Equal(t, "prod", labels["env"])

	// Values may contain '='; only the first one splits.
	labels, err = ParseMetricsLabels("note=a=b")
	require.NoError(t, err)
	require.Equal(t, "a=b", labels["note"])

	_, err = ParseMetricsLabels("noequals")
	require.Error(t, err)

	_, err = ParseMetricsLabels("bad key=value")
	require.Error(t, err)

	t.Setenv("TEST_METRICS_ENV", "staging")
	labels, err = ParseMetricsLabels("env=${TEST_METRICS_ENV}")
	require.NoError(t, err)
	require.Equal(t, "staging", labels["env"])
}

func TestHashUserID(t *testing.T) {
	// Empty salt disables hashing.
	require.Equal(t, "user_1", HashUserID("", "user_1"))

	sum := sha256.Sum256([]byte("pepper" + "user_1"))
	require.Equal(t, hex.EncodeToString(sum[:]), HashUserID("pepper", "user_1"))
	require.NotEqual(t, HashUserID("pepper", "user_1"), HashUserID("other", "user_1"))
}

func TestSessionHelpers(t *testing.T) {
	sess := &Session{ExternalUserID: "user_1"}
	require.False(t, sess.HasOrg())
	require.False(t, sess.IsOrgAdmin())

	sess.ExternalOrgID = "org_1"
	require.True(t, sess.HasOrg())

	sess.OrgRole = "org:member"
	require.False(t, sess.IsOrgAdmin())
	sess.OrgRole = "org:admin"
	require.True(t, sess.IsOrgAdmin())
	sess.OrgRole = "org:owner"
	require.True(t, sess.IsOrgAdmin())
}

func newAuthRouter(mode string) *gin.Engine {
	cfg := config.DefaultConfig()
	cfg.Mode = mode

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", AuthMiddleware(NewTokenResolver(&cfg)), func(c *gin.Context) {
		sess := GetSession(c)
		c.JSON(http.StatusOK, gin.H{"user": sess.ExternalUserID, "org": sess.ExternalOrgID})
	})
	return router
}

func TestAuthMiddleware_TestingModeHeaders(t *testing.T) {
	router := newAuthRouter(config.ModeTesting)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "user_1")
	req.Header.Set("X-Org-ID", "org_1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user_1")
	require.Contains(t, w.Body.String(), "org_1")
}

func TestAuthMiddleware_MissingCredentials(t *testing.T) {
	router := newAuthRouter(config.ModeTesting)

	// No identity headers and no bearer token.
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Malformed Authorization header.
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic dXNlcg==")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ProdIgnoresTestingHeaders(t *testing.T) {
	router := newAuthRouter(config.ModeProd)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "user_1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_NoVerifierRejectsBearer(t *testing.T) {
	// No OIDC issuer configured, so bearer tokens cannot be verified.
	router := newAuthRouter(config.ModeProd)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
