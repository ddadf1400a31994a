package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairi-dev/kairi/internal/patch"
)

func TestHTTPPlanner_PlanPatch(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(patch.Payload{
			Patch: []patch.Op{{
				Kind:  patch.OpSelectorsReplace,
				Key:   "buy_button",
				Value: map[string]any{"primary": "#buy-v2", "fallbacks": []any{}},
			}},
			Reason: "selector rotted",
		})
	}))
	defer server.Close()

	p := NewHTTPPlanner(server.URL, 5*time.Second)
	resp, err := p.PlanPatch(context.Background(), &Request{
		RequestID: "req-1",
		StepID:    "buy",
		ErrorType: "TargetNotFound",
		URL:       "https://shop.example.com/tickets",
	})
	require.NoError(t, err)

	assert.Equal(t, "buy", got.StepID)
	assert.Equal(t, "TargetNotFound", got.ErrorType)
	require.Len(t, resp.Payload.Patch, 1)
	assert.Equal(t, "selector rotted", resp.Payload.Reason)
}

func TestHTTPPlanner_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "planner overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewHTTPPlanner(server.URL, 5*time.Second)
	_, err := p.PlanPatch(context.Background(), &Request{StepID: "buy"})
	assert.ErrorContains(t, err, "503")
	assert.ErrorContains(t, err, "planner overloaded")
}

func TestHTTPPlanner_EmptyPatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(patch.Payload{Reason: "nothing to do"})
	}))
	defer server.Close()

	p := NewHTTPPlanner(server.URL, 5*time.Second)
	_, err := p.PlanPatch(context.Background(), &Request{StepID: "buy"})
	assert.ErrorContains(t, err, "empty patch")
}

func TestHTTPPlanner_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	p := NewHTTPPlanner(server.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.PlanPatch(ctx, &Request{StepID: "buy"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPPlannerFromEnv(t *testing.T) {
	t.Setenv("KAIRI_PLANNER_URL", "")
	_, err := NewHTTPPlannerFromEnv()
	assert.Error(t, err)

	t.Setenv("KAIRI_PLANNER_URL", "https://authoring.example.com/plan")
	p, err := NewHTTPPlannerFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "authoring-service", p.Name())
}
