package api

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/transcoder/internal/mediadriver"
	"github.com/reelforge/transcoder/internal/model"
	"github.com/reelforge/transcoder/internal/registry"
	"github.com/reelforge/transcoder/internal/storage"
	"github.com/reelforge/transcoder/internal/transcodemanager"
	"github.com/reelforge/transcoder/internal/upload"
)

func TestStreamJobStatusPushesUntilTerminal(t *testing.T) {
	gin.SetMode(gin.TestMode)

	driver := &mediadriver.FakeDriver{
		ProbeMetadata: model.Metadata{DurationSeconds: 10},
		EncodeScript: []mediadriver.ScriptedProgress{
			{Percent: 50, Stage: "half"},
			{Percent: 100, Stage: "done"},
		},
	}

	dir := t.TempDir()
	st, err := storage.New(filepath.Join(dir, "staging"), filepath.Join(dir, "output"))
	require.NoError(t, err)
	reg := registry.New(nil)
	mgr := transcodemanager.New(st, driver, reg, transcodemanager.Config{Workers: 1}, nil)
	uploads := upload.NewTable(st, nil)
	h := New(uploads, mgr, reg, nil)

	videoID := stageVideoForAPI(t, st)
	job, err := mgr.CreateJob(context.Background(), transcodemanager.CreateJobRequest{
		VideoID: videoID,
		Formats: []model.VideoFormat{{Name: "720p", Width: 1280, Height: 720, VideoCodec: "libx264"}},
	})
	require.NoError(t, err)

	r := gin.New()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/" + job.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	mgr.ScheduleJob(job)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var lastStatus string
	for lastStatus != "completed" {
		var resp JobStatusResponse
		require.NoError(t, conn.ReadJSON(&resp))
		lastStatus = resp.Status
	}

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "server should close the connection once the job is terminal")
}
