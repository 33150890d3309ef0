package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(critical ...string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		critical:   critical,
	}
}

func TestGetHealth(t *testing.T) {
	resetHealth()
	SetVersion("1.0.0")
	RegisterComponent(ComponentTenants, true, "")
	RegisterComponent(ComponentEvents, true, "")

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)

	UpdateComponent(ComponentEvents, false, "broker stopped")
	health = GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: broker stopped", health.Components[ComponentEvents])
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name     string
		register map[string]bool
		want     string
	}{
		{"all ready", map[string]bool{ComponentMirrors: true, ComponentMom: true}, "ready"},
		{"missing critical", map[string]bool{ComponentMom: true}, "not_ready"},
		{"critical unhealthy", map[string]bool{ComponentMirrors: false, ComponentMom: true}, "not_ready"},
		{"non critical unhealthy", map[string]bool{ComponentMirrors: true, ComponentBlobCache: false}, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(ComponentMirrors)
			for name, healthy := range tt.register {
				RegisterComponent(name, healthy, "starting")
			}
			readiness := GetReadiness()
			assert.Equal(t, tt.want, readiness.Status)
			if tt.want != "ready" {
				assert.NotEmpty(t, readiness.Message)
			}
		})
	}
}

func TestHandlers(t *testing.T) {
	resetHealth(ComponentTenants)
	RegisterComponent(ComponentTenants, false, "loading")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "unhealthy", health.Status)

	UpdateComponent(ComponentTenants, true, "")
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
