package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeeper/internal/admin"
	"gatekeeper/internal/identity"
	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/windowstore"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// pingStorage implements storage.Storage for health check tests
type pingStorage struct {
	storage.Storage
	pingErr error
}

func (p *pingStorage) Ping(_ context.Context) error { return p.pingErr }

// pingWindowStore implements windowstore.Store for health check tests
type pingWindowStore struct {
	windowstore.Store
	pingErr error
}

func (p *pingWindowStore) Ping(_ context.Context) error { return p.pingErr }

// MockAdminService implements admin.ServiceInterface for testing
type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) ListRules(ctx context.Context) (*models.ListPolicyRulesResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(*models.ListPolicyRulesResponse), args.Error(1)
}

func (m *MockAdminService) GetRule(ctx context.Context, id string) (*models.PolicyRuleResponse, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*models.PolicyRuleResponse), args.Error(1)
}

func (m *MockAdminService) CreateRule(ctx context.Context, req *models.PolicyRuleRequest) (*models.PolicyRuleResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*models.PolicyRuleResponse), args.Error(1)
}

func (m *MockAdminService) UpdateRule(ctx context.Context, id string, req *models.PolicyRuleRequest) (*models.PolicyRuleResponse, error) {
	args := m.Called(ctx, id, req)
	return args.Get(0).(*models.PolicyRuleResponse), args.Error(1)
}

func (m *MockAdminService) DeleteRule(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAdminService) Stats(ctx context.Context, identifier string) (*models.StatsResponse, error) {
	args := m.Called(ctx, identifier)
	return args.Get(0).(*models.StatsResponse), args.Error(1)
}

func (m *MockAdminService) Clear(ctx context.Context, identifier, endpoint string) (*models.ClearResponse, error) {
	args := m.Called(ctx, identifier, endpoint)
	return args.Get(0).(*models.ClearResponse), args.Error(1)
}

func (m *MockAdminService) Status(ctx context.Context, id identity.Identity) (*models.RateLimitStatusResponse, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*models.RateLimitStatusResponse), args.Error(1)
}

func (m *MockAdminService) Tiers(ctx context.Context) (*models.TiersResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(*models.TiersResponse), args.Error(1)
}

var _ admin.ServiceInterface = (*MockAdminService)(nil)

// serve routes a request through a bare router so path variables resolve.
func serve(t *testing.T, method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc(pattern, h).Methods(method)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var errorResponse models.ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &errorResponse))
	return errorResponse
}

func TestNewHandlers(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	assert.NotNil(t, handlers)
	assert.Equal(t, mockService, handlers.service)
	assert.NotNil(t, handlers.identities)
	assert.Nil(t, handlers.storage)
	assert.Nil(t, handlers.windowStore)
	assert.Nil(t, handlers.upstream)
}

func TestHandlers_ListRules(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	rule := models.NewPolicyRule("/api/v1/auth/login", "standard", 10, 300, "")
	expected := models.NewListPolicyRulesResponse([]*models.PolicyRule{rule})
	mockService.On("ListRules", mock.Anything).Return(expected, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rate-limits", nil)
	recorder := httptest.NewRecorder()
	handlers.ListRules(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var response models.ListPolicyRulesResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, 1, response.TotalCount)
	require.Len(t, response.Rules["/api/v1/auth/login"], 1)
	assert.Equal(t, "5m", response.Rules["/api/v1/auth/login"][0].WindowText)

	mockService.AssertExpectations(t)
}

func TestHandlers_GetRule(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"found", nil, http.StatusOK, ""},
		{"missing", admin.NewRuleNotFoundError("r-1"), http.StatusNotFound, models.ErrorCodeRuleNotFound},
		{"storage failure", admin.NewInternalError("rule storage failed", errors.New("disk")), http.StatusInternalServerError, models.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockAdminService{}
			handlers := NewHandlers(mockService)

			var resp *models.PolicyRuleResponse
			if tt.serviceErr == nil {
				resp = &models.PolicyRuleResponse{ID: "r-1", Endpoint: "/api/v1/images", Tier: "premium", Requests: 1000, Window: 3600}
			}
			mockService.On("GetRule", mock.Anything, "r-1").Return(resp, tt.serviceErr)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rate-limits/r-1", nil)
			recorder := serve(t, http.MethodGet, "/api/v1/admin/rate-limits/{id}", handlers.GetRule, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, recorder).Code)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_GetRule_HidesInternalDetail(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	mockService.On("GetRule", mock.Anything, "r-1").
		Return((*models.PolicyRuleResponse)(nil), admin.NewInternalError("rule storage failed", errors.New("pq: password authentication failed")))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rate-limits/r-1", nil)
	recorder := serve(t, http.MethodGet, "/api/v1/admin/rate-limits/{id}", handlers.GetRule, req)

	errorResponse := decodeError(t, recorder)
	assert.Equal(t, "rule storage failed", errorResponse.Message)
	assert.NotContains(t, recorder.Body.String(), "password")
}

func TestHandlers_CreateRule_Success(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	expectedReq := &models.PolicyRuleRequest{Endpoint: "/api/v1/search", Tier: "standard", Requests: 50, Window: 60}
	created := &models.PolicyRuleResponse{ID: "r-9", Endpoint: "/api/v1/search", Tier: "standard", Requests: 50, Window: 60, WindowText: "1m"}
	mockService.On("CreateRule", mock.Anything, expectedReq).Return(created, nil)

	body, err := json.Marshal(expectedReq)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rate-limits", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handlers.CreateRule(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	var response models.PolicyRuleResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "r-9", response.ID)
	mockService.AssertExpectations(t)
}

func TestHandlers_CreateRule_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid budget",
			serviceErr: admin.NewInvalidPolicyError(models.ValidateBudget(0, 60)),
			wantStatus: http.StatusBadRequest,
			wantCode:   models.ErrorCodeInvalidPolicy,
		},
		{
			name:       "duplicate endpoint and tier",
			serviceErr: admin.NewConflictError("a rule for this endpoint and tier already exists", storage.ErrDuplicate),
			wantStatus: http.StatusConflict,
			wantCode:   models.ErrorCodeConflict,
		},
		{
			name:       "unexpected error",
			serviceErr: errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   models.ErrorCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockAdminService{}
			handlers := NewHandlers(mockService)
			mockService.On("CreateRule", mock.Anything, mock.AnythingOfType("*models.PolicyRuleRequest")).
				Return((*models.PolicyRuleResponse)(nil), tt.serviceErr)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rate-limits",
				bytes.NewReader([]byte(`{"endpoint":"/x","tier":"standard","requests":0,"window":60}`)))
			req.Header.Set("Content-Type", "application/json")
			recorder := httptest.NewRecorder()

			handlers.CreateRule(recorder, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, recorder).Code)
		})
	}
}

func TestHandlers_CreateRule_InvalidPolicyMessage(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)
	mockService.On("CreateRule", mock.Anything, mock.Anything).
		Return((*models.PolicyRuleResponse)(nil), admin.NewInvalidPolicyError(models.ValidateBudget(10, 0)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rate-limits",
		bytes.NewReader([]byte(`{"endpoint":"/x","tier":"standard","requests":10,"window":0}`)))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handlers.CreateRule(recorder, req)

	assert.Contains(t, decodeError(t, recorder).Message, "window must be greater than 0")
}

func TestHandlers_ContentTypeValidation(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"missing content type", "", `{}`, http.StatusUnsupportedMediaType, models.ErrorCodeBadRequest},
		{"wrong content type", "text/plain", `{}`, http.StatusUnsupportedMediaType, models.ErrorCodeBadRequest},
		{"malformed json", "application/json", `{"requests":`, http.StatusBadRequest, models.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockAdminService{}
			handlers := NewHandlers(mockService)

			for _, h := range []http.HandlerFunc{handlers.CreateRule, handlers.UpdateRule} {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rate-limits", bytes.NewReader([]byte(tt.body)))
				if tt.contentType != "" {
					req.Header.Set("Content-Type", tt.contentType)
				}
				recorder := httptest.NewRecorder()
				h(recorder, req)

				assert.Equal(t, tt.wantStatus, recorder.Code)
				assert.Equal(t, tt.wantCode, decodeError(t, recorder).Code)
			}

			mockService.AssertNotCalled(t, "CreateRule", mock.Anything, mock.Anything)
			mockService.AssertNotCalled(t, "UpdateRule", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandlers_UpdateRule(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	updated := &models.PolicyRuleResponse{ID: "r-1", Endpoint: "/api/v1/images", Tier: "premium", Requests: 2000, Window: 3600}
	mockService.On("UpdateRule", mock.Anything, "r-1", &models.PolicyRuleRequest{Requests: 2000, Window: 3600}).Return(updated, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/rate-limits/r-1",
		bytes.NewReader([]byte(`{"requests":2000,"window":3600}`)))
	req.Header.Set("Content-Type", "application/json")
	recorder := serve(t, http.MethodPut, "/api/v1/admin/rate-limits/{id}", handlers.UpdateRule, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var response models.PolicyRuleResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, 2000, response.Requests)
	mockService.AssertExpectations(t)
}

func TestHandlers_DeleteRule(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"missing", admin.NewRuleNotFoundError("r-1"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockAdminService{}
			handlers := NewHandlers(mockService)
			mockService.On("DeleteRule", mock.Anything, "r-1").Return(tt.serviceErr)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/rate-limits/r-1", nil)
			recorder := serve(t, http.MethodDelete, "/api/v1/admin/rate-limits/{id}", handlers.DeleteRule, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			if tt.serviceErr == nil {
				assert.Empty(t, recorder.Body.String())
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_ClearRateLimits(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		identifier string
		endpoint   string
		response   *models.ClearResponse
		serviceErr error
		wantStatus int
	}{
		{
			name:       "single bucket",
			query:      "?identifier=user:42&endpoint=/api/v1/auth/login",
			identifier: "user:42",
			endpoint:   "/api/v1/auth/login",
			response:   &models.ClearResponse{Message: "Rate limit cleared for user:42 on /api/v1/auth/login", Cleared: 1},
			wantStatus: http.StatusOK,
		},
		{
			name:       "everything",
			response:   &models.ClearResponse{Message: "All rate limits cleared", Cleared: 7},
			wantStatus: http.StatusOK,
		},
		{
			name:       "endpoint without identifier",
			query:      "?endpoint=/api/v1/auth/login",
			endpoint:   "/api/v1/auth/login",
			serviceErr: admin.NewInvalidRequestError("identifier is required when endpoint is given", nil),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store down",
			query:      "?identifier=user:42",
			identifier: "user:42",
			serviceErr: admin.NewUnavailableError("rate limit store unavailable", windowstore.ErrUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockAdminService{}
			handlers := NewHandlers(mockService)
			mockService.On("Clear", mock.Anything, tt.identifier, tt.endpoint).Return(tt.response, tt.serviceErr)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rate-limits/clear"+tt.query, nil)
			recorder := httptest.NewRecorder()
			handlers.ClearRateLimits(recorder, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			if tt.response != nil {
				var response models.ClearResponse
				require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
				assert.Equal(t, tt.response.Message, response.Message)
				assert.Equal(t, tt.response.Cleared, response.Cleared)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_RateLimitStats(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	stats := &models.StatsResponse{
		Identifier: "user:42",
		Endpoints: map[string]models.BucketStats{
			"/api/v1/auth/login": {Count: 3, TTLRemaining: 320},
		},
	}
	mockService.On("Stats", mock.Anything, "user:42").Return(stats, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rate-limits/stats/user:42", nil)
	recorder := serve(t, http.MethodGet, "/api/v1/admin/rate-limits/stats/{identifier}", handlers.RateLimitStats, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var response models.StatsResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, int64(3), response.Endpoints["/api/v1/auth/login"].Count)
	assert.Equal(t, int64(320), response.Endpoints["/api/v1/auth/login"].TTLRemaining)
	mockService.AssertExpectations(t)
}

func TestHandlers_RateLimitStatus(t *testing.T) {
	t.Run("uses identity from admission middleware", func(t *testing.T) {
		mockService := &MockAdminService{}
		handlers := NewHandlers(mockService)

		id := identity.Identity{Identifier: "user:42", Tier: "premium", Authenticated: true}
		status := &models.RateLimitStatusResponse{Identifier: "user:42", Tier: "premium"}
		mockService.On("Status", mock.Anything, id).Return(status, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/rate-limit/status", nil)
		req = req.WithContext(identity.NewContext(req.Context(), id))
		recorder := httptest.NewRecorder()
		handlers.RateLimitStatus(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)
		var response models.RateLimitStatusResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, "premium", response.Tier)
		mockService.AssertExpectations(t)
	})

	t.Run("resolves identity when middleware did not run", func(t *testing.T) {
		mockService := &MockAdminService{}
		handlers := NewHandlers(mockService)

		want := identity.Anonymous("192.0.2.10")
		mockService.On("Status", mock.Anything, want).
			Return(&models.RateLimitStatusResponse{Identifier: want.Identifier, Tier: want.Tier}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/rate-limit/status", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		recorder := httptest.NewRecorder()
		handlers.RateLimitStatus(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)
		mockService.AssertExpectations(t)
	})
}

func TestHandlers_RateLimitTiers(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	tiers := &models.TiersResponse{Tiers: []models.TierInfo{
		{Name: "anonymous", Limits: map[string]models.TierLimit{"default": {Requests: 100, Window: "1h"}}},
	}}
	mockService.On("Tiers", mock.Anything).Return(tiers, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rate-limit/tiers", nil)
	recorder := httptest.NewRecorder()
	handlers.RateLimitTiers(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var response models.TiersResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Len(t, response.Tiers, 1)
	assert.Equal(t, 100, response.Tiers[0].Limits["default"].Requests)
}

func TestHandlers_HealthCheck(t *testing.T) {
	tests := []struct {
		name            string
		windowStoreErr  error
		storageErr      error
		wantStatus      int
		wantHealth      string
		wantWindowStore string
		wantStorage     string
	}{
		{
			name:            "all components up",
			wantStatus:      http.StatusOK,
			wantHealth:      models.StatusHealthy,
			wantWindowStore: models.StatusHealthy,
			wantStorage:     models.StatusHealthy,
		},
		{
			name:            "window store down degrades",
			windowStoreErr:  windowstore.ErrUnavailable,
			wantStatus:      http.StatusOK,
			wantHealth:      models.StatusDegraded,
			wantWindowStore: models.StatusUnhealthy,
			wantStorage:     models.StatusHealthy,
		},
		{
			name:            "policy storage down is unhealthy",
			storageErr:      errors.New("connection refused"),
			wantStatus:      http.StatusServiceUnavailable,
			wantHealth:      models.StatusUnhealthy,
			wantWindowStore: models.StatusHealthy,
			wantStorage:     models.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHandlers(&MockAdminService{},
				WithStorage(&pingStorage{pingErr: tt.storageErr}),
				WithWindowStore(&pingWindowStore{pingErr: tt.windowStoreErr}))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			recorder := httptest.NewRecorder()
			handlers.HealthCheck(recorder, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

			var response models.HealthCheckResponse
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
			assert.Equal(t, tt.wantHealth, response.Status)
			assert.Equal(t, tt.wantWindowStore, response.Components["window_store"].Status)
			assert.Equal(t, tt.wantStorage, response.Components["storage"].Status)
			assert.NotEmpty(t, response.Version)
			assert.Equal(t, false, response.Metrics["authenticated"])
		})
	}
}

func TestHandlers_HealthCheck_Authenticated(t *testing.T) {
	handlers := NewHandlers(&MockAdminService{})
	keys := NewKeyring(testSecurityConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer "+readRawKey)
	recorder := httptest.NewRecorder()
	OptionalAuth(keys)(http.HandlerFunc(handlers.HealthCheck)).ServeHTTP(recorder, req)

	var response models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, true, response.Metrics["authenticated"])
	assert.Equal(t, "Read Key", response.Metrics["api_key_name"])
	assert.NotEmpty(t, response.Metrics["instance_id"])
}

func TestHandlers_Forward(t *testing.T) {
	t.Run("no upstream", func(t *testing.T) {
		handlers := NewHandlers(&MockAdminService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
		recorder := httptest.NewRecorder()
		handlers.Forward(recorder, req)

		assert.Equal(t, http.StatusNotFound, recorder.Code)
		assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, recorder).Code)
	})

	t.Run("upstream receives request", func(t *testing.T) {
		var gotPath string
		upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusAccepted)
		})
		handlers := NewHandlers(&MockAdminService{}, WithUpstream(upstream))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/images", nil)
		recorder := httptest.NewRecorder()
		handlers.Forward(recorder, req)

		assert.Equal(t, http.StatusAccepted, recorder.Code)
		assert.Equal(t, "/api/v1/images", gotPath)
	})
}

func TestHandlers_ErrorResponseFormat(t *testing.T) {
	mockService := &MockAdminService{}
	handlers := NewHandlers(mockService)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rate-limits", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handlers.CreateRule(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	errorResponse := decodeError(t, recorder)
	assert.Equal(t, "error", errorResponse.Error)
	assert.NotEmpty(t, errorResponse.Code)
	assert.NotEmpty(t, errorResponse.Message)
	assert.WithinDuration(t, time.Now(), errorResponse.Timestamp, time.Minute)
	assert.Empty(t, errorResponse.Details)
}
