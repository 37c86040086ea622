package laythe

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiRequest(
	t testing.TB,
	lt *Laythe,
	method string,
	path string,
	payload any,
) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	lt.api.engine.ServeHTTP(w, req)
	return w
}

// seedAdminCredentials stores hashed credentials on the runtime config.
func seedAdminCredentials(t testing.TB, lt *Laythe, username, password string) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	lt.runtimeConfig.AdminUsername = username
	lt.runtimeConfig.AdminPassword = hash
}

func TestHealthCheck(t *testing.T) {
	lt, _ := newTestLaythe(t)

	w := apiRequest(t, lt, http.MethodGet, apiHealthCheck, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.False(t, health.Paused)
	assert.False(t, health.DiscordGatewayConnected)
}

func TestSetupStatus(t *testing.T) {
	lt, _ := newTestLaythe(t)

	w := apiRequest(t, lt, http.MethodGet, apiPathSetupStatus, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status setupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Required)

	lt.pendingSetup.Store(true)
	w = apiRequest(t, lt, http.MethodGet, apiPathSetupStatus, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Required)
}

func TestLogin(t *testing.T) {
	lt, _ := newTestLaythe(t)
	seedAdminCredentials(t, lt, "admin", "correct horse battery staple")

	w := apiRequest(
		t, lt, http.MethodPost, apiPathLogin,
		userLogin{Username: "admin", Password: "correct horse battery staple"},
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp loggedInResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "admin", resp.Username)
	assert.NotEmpty(t, w.Result().Cookies())
}

func TestLoginWrongPassword(t *testing.T) {
	lt, _ := newTestLaythe(t)
	seedAdminCredentials(t, lt, "admin", "right")

	w := apiRequest(
		t, lt, http.MethodPost, apiPathLogin,
		userLogin{Username: "admin", Password: "wrong"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginWrongUsername(t *testing.T) {
	lt, _ := newTestLaythe(t)
	seedAdminCredentials(t, lt, "admin", "password")

	w := apiRequest(
		t, lt, http.MethodPost, apiPathLogin,
		userLogin{Username: "intruder", Password: "password"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginNoCredentialsConfigured(t *testing.T) {
	lt, _ := newTestLaythe(t)

	w := apiRequest(
		t, lt, http.MethodPost, apiPathLogin,
		userLogin{Username: "admin", Password: "anything"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimited(t *testing.T) {
	lt, _ := newTestLaythe(t)
	seedAdminCredentials(t, lt, "admin", "password")

	payload := userLogin{Username: "admin", Password: "nope"}
	apiRequest(t, lt, http.MethodPost, apiPathLogin, payload)
	w := apiRequest(t, lt, http.MethodPost, apiPathLogin, payload)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	lt, _ := newTestLaythe(t)

	w := apiRequest(t, lt, http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, lt, http.MethodGet, apiPrefix+apiPathWarns, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminSetupForbiddenWhenNotPending(t *testing.T) {
	lt, _ := newTestLaythe(t)

	w := apiRequest(
		t, lt, http.MethodPost, apiPathSetup,
		adminSetupPayload{
			Username:        "admin",
			Password:        "longenoughpassword",
			ConfirmPassword: "longenoughpassword",
		},
	)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthenticatedSession(t *testing.T) {
	lt, _ := newTestLaythe(t)
	seedAdminCredentials(t, lt, "admin", "password")

	login := apiRequest(
		t, lt, http.MethodPost, apiPathLogin,
		userLogin{Username: "admin", Password: "password"},
	)
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	lt.api.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp loggedInResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "admin", resp.Username)
}
