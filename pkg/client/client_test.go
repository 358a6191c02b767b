package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/lifecycle"
	"github.com/urbanclear/bringup/internal/report"
	"github.com/urbanclear/bringup/internal/server"
)

type fixedStatus struct{ st lifecycle.Status }

func (f fixedStatus) Status() lifecycle.Status { return f.st }

func newClient(t *testing.T, st lifecycle.Status, rec *report.Recorder) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(server.NewRouter(fixedStatus{st: st}, rec, "").Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestStatusRoundTrip(t *testing.T) {
	c := newClient(t, lifecycle.Status{RunID: "abc", State: lifecycle.StateReady, PID: 7, Command: "uvicorn"}, &report.Recorder{})

	require.True(t, c.IsReachable(context.Background()))
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", st.RunID)
	assert.Equal(t, lifecycle.StateReady, st.State)
	assert.Equal(t, 7, st.PID)
}

func TestSummaryNotFoundThenFound(t *testing.T) {
	rec := &report.Recorder{}
	c := newClient(t, lifecycle.Status{State: lifecycle.StateVerifying}, rec)

	_, err := c.Summary(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, rec.Report(context.Background(), report.Summary{
		RunID:  "abc",
		Probes: []health.Result{{Path: "/health", Outcome: health.OutcomeUnexpectedStatus, StatusCode: 503}},
	}))
	s, err := c.Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Probes, 1)
	assert.Equal(t, health.OutcomeUnexpectedStatus, s.Probes[0].Outcome)
	assert.Equal(t, 503, s.Probes[0].StatusCode)
}

func TestStatsWithoutChild(t *testing.T) {
	c := newClient(t, lifecycle.Status{State: lifecycle.StateGating}, nil)
	_, err := c.Stats(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "127.0.0.1:1", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	require.Error(t, err)
}
