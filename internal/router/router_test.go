package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/cinema-seat-sync/internal/handler"
	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/metrics"
)

type stubSession struct{ handler.SeatSession }

func (stubSession) DrainNotices() []model.Notice { return nil }

func TestRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.IncReconnect()

	e := echo.New()
	RegisterRoutes(e, reg)
	RegisterSession(e, handler.NewSessionHandler(stubSession{}), "secret")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seat_push_reconnects_total 1")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session/notices", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "control token required when a secret is set")
}
