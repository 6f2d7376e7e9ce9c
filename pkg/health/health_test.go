package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) probeResponse {
	t.Helper()
	var resp probeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestLiveEndpoint_AllHealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck("always-ok", time.Second, func(context.Context) error {
		return nil
	})

	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeProbe(t, w).Status)
}

func TestFailureThreshold(t *testing.T) {
	p := newProbe("flaky", time.Second, func(context.Context) error {
		return errors.New("down")
	})

	// Below the threshold the probe holds its healthy state.
	p.poll(context.Background())
	p.poll(context.Background())
	ok, _ := p.status()
	assert.True(t, ok)

	// The third consecutive failure flips it.
	p.poll(context.Background())
	ok, err := p.status()
	assert.False(t, ok)
	assert.EqualError(t, err, "down")
}

func TestRecoveryAfterFailure(t *testing.T) {
	down := true
	p := newProbe("recovering", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})

	for range defaultFailureThreshold {
		p.poll(context.Background())
	}
	ok, _ := p.status()
	require.False(t, ok)

	down = false
	p.poll(context.Background())
	ok, _ = p.status()
	assert.True(t, ok)
}

func TestReadyEndpoint_Gate(t *testing.T) {
	h := New()

	// Not marked ready yet.
	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeProbe(t, w).Checks, "_readiness")

	h.SetReady(true)
	w = httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Shutdown closes the gate again.
	h.SetReady(false)
	w = httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyEndpoint_FailingCheck(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	// Fail past the threshold.
	for _, p := range h.readyp {
		for range defaultFailureThreshold {
			p.poll(context.Background())
		}
	}

	assert.False(t, h.IsReady())

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeProbe(t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["postgres"])
}

func TestStartPollsChecks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polled := make(chan struct{}, 1)
	h := New()
	h.AddLivenessCheck("signal", time.Second, func(context.Context) error {
		select {
		case polled <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(ctx, 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("check was never polled")
	}
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
