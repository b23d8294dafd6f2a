package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

func TestLoginReturnsTokenAndUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/login", r.URL.Path)
		_ = json.NewEncoder(w).Encode(LoginResult{AccessToken: "tok", UserID: "u1"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result, err := c.Login(context.Background(), DefaultAdminUsername, DefaultAdminPassword)
	require.NoError(t, err)
	assert.Equal(t, "tok", result.AccessToken)
	assert.Equal(t, "u1", result.UserID)
}

func TestLoginRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "admin", "wrong")
	assert.Error(t, err)
}

func TestRotateAdminPasswordRunsLoginThenSetPassword(t *testing.T) {
	var sawBearer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/auth/login":
			_ = json.NewEncoder(w).Encode(LoginResult{AccessToken: "session-tok", UserID: "admin-id"})
		case r.Method == http.MethodPut && r.URL.Path == "/v1/users/admin-id/password":
			sawBearer = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	userID, err := c.RotateAdminPassword(context.Background(), "new-secret-password")
	require.NoError(t, err)
	assert.Equal(t, "admin-id", userID)
	assert.Equal(t, "Bearer session-tok", sawBearer)
}

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/system/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.NoError(t, c.Health(context.Background()))
}

func TestStatusDecodesCognitiveState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.AgentStatus{CognitiveState: models.StateWork, Version: "1.2.3"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateWork, status.CognitiveState)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestOfferUpdateDecodesDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/system/update-notification", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"decision": "defer"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	decision, err := c.OfferUpdate(context.Background(), "ghcr.io/cirisai/ciris-agent:v2")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDefer, decision)
}

func TestOfferUpdateRejectsUnrecognizedDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"decision": "maybe"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.OfferUpdate(context.Background(), "image:v2")
	assert.Error(t, err)
}
