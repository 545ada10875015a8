package remediation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

const testJWTSecret = "test-secret"

func signedToken(t *testing.T, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestApprovalStore_CreateAndDecide(t *testing.T) {
	store := NewApprovalStore(time.Hour, bus.NewInMemoryGateway(), testJWTSecret)
	req := store.Create(context.Background(), ActionSatelliteFailover, "inc-1")

	decided, err := store.Decide(req.RequestID, "operator", true)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, decided.Status)
	assert.Equal(t, "operator", decided.Approver)
}

func TestApprovalStore_DecideTwiceFails(t *testing.T) {
	store := NewApprovalStore(time.Hour, bus.NewInMemoryGateway(), testJWTSecret)
	req := store.Create(context.Background(), ActionQoSShaping, "inc-2")

	_, err := store.Decide(req.RequestID, "operator", true)
	require.NoError(t, err)

	_, err = store.Decide(req.RequestID, "operator", true)
	assert.Error(t, err)
}

func TestApprovalStore_ExpirySweeperMarksOverdueRequests(t *testing.T) {
	store := NewApprovalStore(10*time.Millisecond, bus.NewInMemoryGateway(), testJWTSecret)
	req := store.Create(context.Background(), ActionAntennaRealignment, "inc-3")

	time.Sleep(30 * time.Millisecond)
	store.sweepExpired()

	updated, ok := store.Get(req.RequestID)
	require.True(t, ok)
	assert.Equal(t, model.ApprovalExpired, updated.Status)
}

func TestHandleApprove_RejectsMissingToken(t *testing.T) {
	store := NewApprovalStore(time.Hour, bus.NewInMemoryGateway(), testJWTSecret)
	req := store.Create(context.Background(), ActionQoSShaping, "inc-4")

	mux := http.NewServeMux()
	store.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/approve/"+req.RequestID, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleApprove_AcceptsValidToken(t *testing.T) {
	store := NewApprovalStore(time.Hour, bus.NewInMemoryGateway(), testJWTSecret)
	req := store.Create(context.Background(), ActionQoSShaping, "inc-5")

	mux := http.NewServeMux()
	store.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/approve/"+req.RequestID, strings.NewReader(`{"approve":true}`))
	require.NoError(t, err)
	httpReq.Header.Set("Authorization", "Bearer "+signedToken(t, "operator", time.Hour))

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleApprove_RejectsExpiredToken(t *testing.T) {
	store := NewApprovalStore(time.Hour, bus.NewInMemoryGateway(), testJWTSecret)
	req := store.Create(context.Background(), ActionQoSShaping, "inc-6")

	mux := http.NewServeMux()
	store.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/approve/"+req.RequestID, strings.NewReader(`{"approve":true}`))
	require.NoError(t, err)
	httpReq.Header.Set("Authorization", "Bearer "+signedToken(t, "operator", -time.Hour))

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
