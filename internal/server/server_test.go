package server

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediadupfinder/internal/config"
	"mediadupfinder/internal/metrics"
	"mediadupfinder/internal/models"
	"mediadupfinder/internal/scan"
)

// nameHasher hashes a file by the first letter of its base name, so a.jpg
// and a-copy.jpg collide
type nameHasher struct {
	block chan struct{}
}

func (n *nameHasher) Fingerprint(ctx context.Context, file models.MediaFile) (*models.Fingerprint, error) {
	if n.block != nil {
		<-n.block
	}
	base := filepath.Base(file.Path)
	h := models.Hash{uint64(base[0]) * 0x0101010101010101}
	if file.Kind == models.KindVideo {
		vf := &models.VideoFingerprint{
			Visual:      models.VideoVisualFingerprint{Frames: []models.FrameHash{{Timestamp: 1, Hash: h}}},
			ThumbnailAt: 1,
		}
		// copies come without a thumbnail, like a failed frame grab
		if !strings.Contains(base, "copy") {
			vf.Thumbnail = storedThumbnail(base)
		}
		return &models.Fingerprint{File: file, Video: vf}, nil
	}
	return &models.Fingerprint{File: file, Image: &models.ImageFingerprint{Hash: h}}, nil
}

func storedThumbnail(name string) []byte {
	return []byte("\xff\xd8thumbnail of " + name)
}

type grayFrames struct{}

func (grayFrames) Frame(context.Context, string, float64) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 64, 48)), nil
}

type fixture struct {
	dir    string
	server *Server
	hasher *nameHasher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.jpg", "a-copy.jpg", "b.png", "v.mp4", "v-copy.mkv"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	h := &nameHasher{}
	cfg := config.Default()
	cfg.Workers = 2
	opts = append([]Option{
		WithFrameSource(grayFrames{}),
		WithEngineOptions(
			scan.WithFingerprinter(models.KindImage, h),
			scan.WithFingerprinter(models.KindVideo, h),
		),
	}, opts...)
	return &fixture{dir: dir, server: New(cfg, []string{dir}, opts...), hasher: h}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) scan(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/scan", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	f.server.Wait()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatus_Idle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[statusResponse](t, rec)
	assert.Equal(t, "idle", status.State)
	assert.False(t, status.Scanning)
	assert.Empty(t, status.ScanID)
}

func TestScan_GroupsAndErrors(t *testing.T) {
	f := newFixture(t)
	f.scan(t)

	groups := decode[[]*models.DuplicateGroup](t, f.do(t, http.MethodGet, "/api/groups", ""))
	require.Len(t, groups, 2)
	for _, g := range groups {
		require.Len(t, g.Members, 2)
		assert.True(t, g.Members[0].Keep)
	}
	assert.Equal(t, filepath.Join(f.dir, "a.jpg"), groups[0].Keep)
	assert.Equal(t, models.KindVideo, groups[1].Kind)

	errs := decode[[]models.FileError](t, f.do(t, http.MethodGet, "/api/errors", ""))
	assert.Empty(t, errs)

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", ""))
	assert.Equal(t, 2, status.Groups)
	assert.Equal(t, 2, status.Duplicates)
	assert.Equal(t, 5, status.Done)
	assert.NotEmpty(t, status.ScanID)
}

func TestScan_ExplicitRoots(t *testing.T) {
	f := newFixture(t)
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "z.jpg"), []byte("z"), 0644))

	rec := f.do(t, http.MethodPost, "/api/scan", `{"roots": ["`+filepath.ToSlash(other)+`"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.server.Wait()

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", ""))
	assert.Equal(t, 0, status.Groups)
	assert.Equal(t, 1, status.Total)
}

func TestScan_NoRoots(t *testing.T) {
	s := New(config.Default(), nil, WithFrameSource(grayFrames{}))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scan", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScan_InProgressAndCancel(t *testing.T) {
	f := newFixture(t)
	f.hasher.block = make(chan struct{})

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/scan", "").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/scan", "").Code)
	assert.True(t, decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", "")).Scanning)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/scan/cancel", "").Code)
	close(f.hasher.block)
	f.server.Wait()

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", ""))
	assert.False(t, status.Scanning)
	assert.Equal(t, models.ErrCancelledScan.Error(), status.LastError)
	assert.Equal(t, 0, status.Groups, "a cancelled scan publishes no groups")

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/scan/cancel", "").Code)
}

func TestScan_CancelKeepsPreviousResultAsStale(t *testing.T) {
	f := newFixture(t)
	f.scan(t)

	before := decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", ""))
	require.NotEmpty(t, before.ScanID)
	assert.False(t, before.Stale)

	f.hasher.block = make(chan struct{})
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/scan", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/scan/cancel", "").Code)
	close(f.hasher.block)
	f.server.Wait()

	status := decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", ""))
	assert.True(t, status.Stale, "groups from the earlier scan are flagged")
	assert.Equal(t, before.ScanID, status.ScanID)
	assert.Equal(t, models.ErrCancelledScan.Error(), status.LastError)

	f.hasher.block = nil
	f.scan(t)
	status = decode[statusResponse](t, f.do(t, http.MethodGet, "/api/status", ""))
	assert.False(t, status.Stale)
	assert.NotEqual(t, before.ScanID, status.ScanID)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.scan(t)

	keep := filepath.Join(f.dir, "a.jpg")
	dup := filepath.Join(f.dir, "a-copy.jpg")
	body := func(dryRun bool, paths ...string) string {
		b, _ := json.Marshal(deleteRequest{Paths: paths, Mode: "permanent", DryRun: dryRun})
		return string(b)
	}

	t.Run("dry run", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/delete", body(true, dup))
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[struct{ Results []deleteResult }](t, rec)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "would_deleted", res.Results[0].Status)
		_, err := os.Stat(dup)
		assert.NoError(t, err)
	})

	t.Run("keep and unknown refused", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/delete", body(false, keep, "/not/scanned.jpg"))
		res := decode[struct{ Results []deleteResult }](t, rec)
		require.Len(t, res.Results, 2)
		for _, r := range res.Results {
			assert.Equal(t, "error", r.Status)
		}
		_, err := os.Stat(keep)
		assert.NoError(t, err)
	})

	t.Run("delete candidate", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/delete", body(false, dup))
		res := decode[struct{ Results []deleteResult }](t, rec)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "deleted", res.Results[0].Status, res.Results[0].Error)

		_, err := os.Stat(dup)
		assert.True(t, os.IsNotExist(err))

		groups := decode[[]*models.DuplicateGroup](t, f.do(t, http.MethodGet, "/api/groups", ""))
		assert.Len(t, groups, 1, "a group with only its keep file left is dropped")
	})
}

func TestDelete_BadMode(t *testing.T) {
	f := newFixture(t)
	f.scan(t)

	rec := f.do(t, http.MethodPost, "/api/delete", `{"paths": ["x"], "mode": "shred"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/delete", `{"paths": ["x"], "mode": "move"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThumbnail(t *testing.T) {
	f := newFixture(t)
	f.scan(t)

	rec := f.do(t, http.MethodGet, "/api/thumbnail?path="+filepath.Join(f.dir, "a.jpg"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a.jpg", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/thumbnail?path="+filepath.Join(f.dir, "v.mp4"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, storedThumbnail("v.mp4"), rec.Body.Bytes(), "the thumbnail chosen while fingerprinting is served")

	// without a stored thumbnail the frame is decoded again
	rec = f.do(t, http.MethodGet, "/api/thumbnail?path="+filepath.Join(f.dir, "v-copy.mkv"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\xff\xd8"), "expected a JPEG body")
	assert.NotEqual(t, storedThumbnail("v-copy.mkv"), rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/api/thumbnail?path="+filepath.Join(f.dir, "b.png"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "files outside any group are not served")

	rec = f.do(t, http.MethodGet, "/api/thumbnail", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, WithMetrics(metrics.NewMetrics()))
	f.scan(t)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mediadup_scans_total")
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/heartbeat", `{"active": true}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.server.idleFor(), "an active client keeps the server busy")

	f.do(t, http.MethodPost, "/api/heartbeat", `{"active": false}`)
	f.server.mu.Lock()
	f.server.lastActivity = time.Now().Add(-time.Hour)
	f.server.mu.Unlock()
	assert.GreaterOrEqual(t, f.server.idleFor(), time.Hour)
}

func TestStart_IdleTimeout(t *testing.T) {
	f := newFixture(t, WithIdleTimeout(100*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- f.server.Start(context.Background(), "127.0.0.1:0") }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after the idle timeout")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}
