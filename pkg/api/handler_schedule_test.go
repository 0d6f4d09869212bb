package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/scheduler"
	"github.com/agentmux/agentmux/pkg/store"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, scheduler.Job) error { return nil }

func scheduleTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	sched, err := scheduler.New(store.New(t.TempDir()), noopDispatcher{},
		scheduler.NewActivityTracker(scheduler.DefaultAdaptiveConfig()), scheduler.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(sched.Stop)

	s := &Server{scheduler: sched}
	e := echo.New()
	e.POST("/api/v1/schedules", s.createScheduleHandler)
	e.GET("/api/v1/schedules", s.listSchedulesHandler)
	e.GET("/api/v1/schedules/stats", s.scheduleStatsHandler)
	e.DELETE("/api/v1/schedules/:id", s.cancelScheduleHandler)
	e.DELETE("/api/v1/schedules", s.cancelSessionSchedulesHandler)
	return e
}

func TestCreateScheduleHandler(t *testing.T) {
	e := scheduleTestEcho(t)

	t.Run("check-in with default delay", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/schedules", `{"session":"dev","message":"status?"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp IDResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("recurring requires interval", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/schedules",
			`{"session":"dev","message":"commit?","type":"recurring"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "interval_seconds")
	})

	t.Run("continuation requires delay", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/schedules",
			`{"session":"dev","message":"continue","type":"continuation"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "delay_seconds")
	})

	t.Run("unknown type returns 400", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/schedules",
			`{"session":"dev","message":"x","type":"lunar"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid type")
	})

	t.Run("missing session returns 400", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/schedules", `{"message":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScheduleHandlers_ListCancelStats(t *testing.T) {
	e := scheduleTestEcho(t)

	rec := postJSON(e, "/api/v1/schedules",
		`{"session":"dev","message":"check in","delay_seconds":3600}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created IDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	listRec := getJSON(e, "/api/v1/schedules")
	require.Equal(t, http.StatusOK, listRec.Code)
	var jobs []scheduler.Job
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "dev", jobs[0].TargetSession)

	statsRec := getJSON(e, "/api/v1/schedules/stats")
	require.Equal(t, http.StatusOK, statsRec.Code)
	var stats scheduler.Stats
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.ActiveJobs)

	// Cancelling twice is a no-op the second time.
	assert.Equal(t, http.StatusNoContent, deleteReq(e, "/api/v1/schedules/"+created.ID).Code)
	assert.Equal(t, http.StatusNoContent, deleteReq(e, "/api/v1/schedules/"+created.ID).Code)
}

func TestCancelSessionSchedulesHandler(t *testing.T) {
	e := scheduleTestEcho(t)

	require.Equal(t, http.StatusCreated, postJSON(e, "/api/v1/schedules",
		`{"session":"dev","message":"a","delay_seconds":3600}`).Code)
	require.Equal(t, http.StatusCreated, postJSON(e, "/api/v1/schedules",
		`{"session":"dev","message":"b","delay_seconds":3600}`).Code)
	require.Equal(t, http.StatusCreated, postJSON(e, "/api/v1/schedules",
		`{"session":"other","message":"c","delay_seconds":3600}`).Code)

	t.Run("missing session param returns 400", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, deleteReq(e, "/api/v1/schedules").Code)
	})

	rec := deleteReq(e, "/api/v1/schedules?session=dev")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["cancelled"])
}
