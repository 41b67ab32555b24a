package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/api/middleware"
	"github.com/blockbrief/blockbrief/internal/api/models"
	"github.com/blockbrief/blockbrief/internal/api/response"
)

// requestWithID returns a request whose context carries a request id.
func requestWithID(t *testing.T, path string) *http.Request {
	t.Helper()
	var out *http.Request
	middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		out = r
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	require.NotNil(t, out)
	return out
}

func TestJSON(t *testing.T) {
	t.Run("with request id", func(t *testing.T) {
		req := requestWithID(t, "/v1/brief")
		rec := httptest.NewRecorder()

		response.JSON(rec, req, http.StatusOK, map[string]string{"block_id": "v1_x"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, middleware.GetRequestID(req.Context()), rec.Header().Get("X-Request-Id"))
		assert.JSONEq(t, `{"block_id":"v1_x"}`, rec.Body.String())
	})

	t.Run("without request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		response.JSON(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), http.StatusAccepted, nil)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Request-Id"))
		assert.Empty(t, rec.Body.String())
	})
}

func TestCached(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Cached(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), response.CacheBrief, map[string]int{"n": 1})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s-maxage=300, stale-while-revalidate=600", rec.Header().Get("Cache-Control"))
}

func TestProblems(t *testing.T) {
	tests := []struct {
		name    string
		write   func(http.ResponseWriter, *http.Request)
		status  int
		typeURI string
		title   string
		detail  string
	}{
		{
			name:    "bad request",
			write:   func(w http.ResponseWriter, r *http.Request) { response.BadRequest(w, r, "Provide address or bbl.", nil) },
			status:  http.StatusBadRequest,
			typeURI: models.ProblemTypeValidation,
			title:   "Validation error",
			detail:  "Provide address or bbl.",
		},
		{
			name:    "not found",
			write:   func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "no match") },
			status:  http.StatusNotFound,
			typeURI: models.ProblemTypeNotFound,
			title:   "Not found",
			detail:  "no match",
		},
		{
			name:    "bad gateway",
			write:   func(w http.ResponseWriter, r *http.Request) { response.BadGateway(w, r, "geocoder down") },
			status:  http.StatusBadGateway,
			typeURI: models.ProblemTypeUpstream,
			title:   "Upstream error",
			detail:  "geocoder down",
		},
		{
			name:    "internal",
			write:   func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "boom") },
			status:  http.StatusInternalServerError,
			typeURI: models.ProblemTypeInternal,
			title:   "Internal server error",
			detail:  "boom",
		},
		{
			name:    "unavailable",
			write:   func(w http.ResponseWriter, r *http.Request) { response.ServiceUnavailable(w, r, "draining") },
			status:  http.StatusServiceUnavailable,
			typeURI: models.ProblemTypeUnavailable,
			title:   "Service unavailable",
			detail:  "draining",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithID(t, "/v1/brief")
			rec := httptest.NewRecorder()

			tt.write(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.typeURI, p.Type)
			assert.Equal(t, tt.title, p.Title)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/brief", p.Instance)
			assert.Equal(t, middleware.GetRequestID(req.Context()), p.TraceID)
		})
	}
}

func TestBadRequest_FieldErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	response.BadRequest(rec, httptest.NewRequest(http.MethodGet, "/v1/brief", http.NoBody), "invalid", []models.FieldError{
		{Field: "address", Message: "required", Code: "required"},
	})

	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "address", p.Errors[0].Field)
}
