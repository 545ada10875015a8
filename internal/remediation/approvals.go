// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// approvalSweepInterval is how often the expiry sweeper scans for pending
// requests that have run past their deadline.
const approvalSweepInterval = 30 * time.Second

// ApprovalStore tracks in-flight approval requests for actions the policy
// layer flagged as requires_approval, and expires them on a timer.
type ApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*model.ApprovalRequest

	ttl     time.Duration
	gateway bus.Gateway
	secret  string
	metrics *metrics.PipelineMetrics
}

// NewApprovalStore creates an ApprovalStore. secret is the HMAC key used to
// validate bearer tokens on the approve endpoint; ttl is how long a request
// stays pending before it expires.
func NewApprovalStore(ttl time.Duration, gateway bus.Gateway, secret string) *ApprovalStore {
	return &ApprovalStore{
		requests: make(map[string]*model.ApprovalRequest),
		ttl:      ttl,
		gateway:  gateway,
		secret:   secret,
		metrics:  metrics.New(),
	}
}

// Create registers a new pending approval request for action, triggered by
// triggerIncidentID, and publishes it onto remediation.approval.request.
func (s *ApprovalStore) Create(ctx context.Context, action, triggerIncidentID string) *model.ApprovalRequest {
	req := &model.ApprovalRequest{
		RequestID:         uuid.NewString(),
		Action:            action,
		TriggerIncidentID: triggerIncidentID,
		Status:            model.ApprovalPending,
		ExpiryTime:        time.Now().UTC().Add(s.ttl),
	}

	s.mu.Lock()
	s.requests[req.RequestID] = req
	s.mu.Unlock()

	if err := s.gateway.Publish(ctx, bus.TopicRemediationApprovalRequest, req.RequestID, req); err != nil {
		logger.Warnf("approval store: failed to publish approval request %s: %v", req.RequestID, err)
	}
	s.metrics.RecordApprovalRequest("created")
	return req
}

// Get returns the approval request by id.
func (s *ApprovalStore) Get(requestID string) (*model.ApprovalRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	return req, ok
}

// List returns every tracked approval request.
func (s *ApprovalStore) List() []*model.ApprovalRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ApprovalRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req)
	}
	return out
}

// Decide transitions a pending request to approved or rejected. It refuses
// to decide a request that has already expired or already been decided.
func (s *ApprovalStore) Decide(requestID, approver string, approve bool) (*model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("approval request %s not found", requestID)
	}
	if req.Expired(time.Now().UTC()) {
		req.Status = model.ApprovalExpired
		return nil, fmt.Errorf("approval request %s has expired", requestID)
	}
	if req.Status != model.ApprovalPending {
		return nil, fmt.Errorf("approval request %s already decided (%s)", requestID, req.Status)
	}

	req.Approver = approver
	if approve {
		req.Status = model.ApprovalApproved
	} else {
		req.Status = model.ApprovalRejected
	}
	s.metrics.RecordApprovalRequest(req.Status)
	return req, nil
}

// RunExpirySweeper periodically marks overdue pending requests as expired,
// until ctx is canceled.
func (s *ApprovalStore) RunExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(approvalSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *ApprovalStore) sweepExpired() {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.Expired(now) {
			req.Status = model.ApprovalExpired
		}
	}
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

// RegisterRoutes mounts the approval HTTP surface onto mux. POST
// /approve/{request_id} requires a valid Authorization: Bearer JWT signed
// with an HMAC method (see authenticate).
func (s *ApprovalStore) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /approvals", s.handleList)
	mux.HandleFunc("POST /approve/{request_id}", s.handleApprove)
}

func (s *ApprovalStore) handleList(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.List())
}

type approveRequestBody struct {
	Approve bool `json:"approve"`
}

func (s *ApprovalStore) handleApprove(rw http.ResponseWriter, r *http.Request) {
	approver, ok := s.authenticate(r)
	if !ok {
		http.Error(rw, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}

	var body approveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(rw, "malformed request body", http.StatusBadRequest)
		return
	}

	req, err := s.Decide(r.PathValue("request_id"), approver, body.Approve)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(rw, http.StatusOK, req)
}

// authenticate validates the request's bearer token: HMAC-only signing
// methods, and an explicit re-check of the exp claim. It returns the token subject
// as the approver identity.
func (s *ApprovalStore) authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token := header
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimPrefix(token, "Bearer ")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		logger.Warnf("approval store: token validation failed: %v", err)
		return "", false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() > int64(exp) {
		logger.Warnf("approval store: token has expired")
		return "", false
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		subject = "unknown-approver"
	}
	return subject, true
}
