package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vighneshvikky/vortexfit-rtc/internal/middleware"
	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
	"github.com/vighneshvikky/vortexfit-rtc/internal/store"
)

const testJWTSecret = "test-secret"

func newAPIServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	sessions := NewSessionAPI(mem)

	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/login", Login(testJWTSecret))
	api.POST("/sessions", middleware.JWTAuth(testJWTSecret), sessions.Create)
	api.GET("/sessions/:sessionId", sessions.Get)
	api.DELETE("/sessions/:sessionId", middleware.JWTAuth(testJWTSecret), sessions.Delete)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, mem
}

func login(t *testing.T, srv *httptest.Server, username, role string) string {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Username: username, Password: "pw", Role: role})
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lr LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.NotEmpty(t, lr.Token)
	return lr.Token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	srv, _ := newAPIServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", "", models.CreateSessionRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetSession(t *testing.T) {
	srv, _ := newAPIServer(t)
	token := login(t, srv, "trainer-1", "trainer")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", token, models.CreateSessionRequest{UserID: "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.SessionID)

	getResp := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+created.SessionID, "", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var session models.Session
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&session))
	assert.Equal(t, "trainer-1", session.TrainerID)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, models.SessionStatusScheduled, session.Status)
	assert.Equal(t, 0, session.ParticipantCount)
}

func TestCreateSessionValidatesBody(t *testing.T) {
	srv, _ := newAPIServer(t)
	token := login(t, srv, "trainer-1", "trainer")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownSession(t *testing.T) {
	srv, _ := newAPIServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSessionTrainerOnly(t *testing.T) {
	srv, _ := newAPIServer(t)
	trainerToken := login(t, srv, "trainer-1", "trainer")
	userToken := login(t, srv, "user-1", "user")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", trainerToken, models.CreateSessionRequest{UserID: "user-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	del := doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+created.SessionID, userToken, nil)
	assert.Equal(t, http.StatusForbidden, del.StatusCode)

	del = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+created.SessionID, trainerToken, nil)
	assert.Equal(t, http.StatusOK, del.StatusCode)

	get := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+created.SessionID, "", nil)
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestRejectsGarbageToken(t *testing.T) {
	srv, _ := newAPIServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", "not-a-jwt", models.CreateSessionRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
