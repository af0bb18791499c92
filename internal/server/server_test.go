package server

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framewell/framewell/internal/config"
	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/orchestrator"
	"github.com/framewell/framewell/internal/result"
)

type nopEngine struct{}

func (nopEngine) Process(ctx context.Context, fr *frame.Frame, template string) (*result.Result, error) {
	return &result.Result{FrameID: fr.ID, Timestamp: time.Now()}, nil
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	cfg := &config.Config{
		EngineTimeout: time.Second,
		Template:      "default",
		MaxFrameCount: 4,
		OverflowMode:  "update",

		DedupForgetTime:   time.Minute,
		MinVerifiedFrames: 1,
		MaxOverlapFrames:  5,

		ClarityResetTimeout:     time.Minute,
		ClarityMinStabilization: time.Second,
		ClarityMinNonImproving:  2,
	}
	orch, err := orchestrator.New(cfg, nopEngine{}, nil)
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	return New(orch, cfg), orch
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/api/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, "stopped", st.LoopState)
	assert.Equal(t, 4, st.BufferMax)
}

func TestBestFrameNotFoundBeforeConfirmation(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/api/bestframe", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBufferControls(t *testing.T) {
	srv, orch := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/buffer", `{"max_count": 2, "overflow_mode": "block"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := orch.Status()
	assert.Equal(t, 2, st.BufferMax)
	assert.Equal(t, "block", st.OverflowMode)

	rec = doJSON(t, h, "POST", "/api/buffer", `{"max_count": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "POST", "/api/buffer", `{"overflow_mode": "bounce"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "POST", "/api/buffer", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntervalValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/interval", `{"interval_ms": -2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "POST", "/api/interval", `{"interval_ms": 0}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTemplateValidation(t *testing.T) {
	srv, orch := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/template", `{"template": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "POST", "/api/template", `{"template": "receipt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "receipt", orch.Status().Template)
}

func TestPauseWithoutRunningLoop(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "POST", "/api/capture/pause", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishFrameEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)
	h := srv.Handler()

	// []byte fields arrive base64-encoded in JSON.
	rec := doJSON(t, h, "POST", "/api/frames", `{"image": "aGVsbG8=", "format": "jpeg"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["frame_id"])
	assert.Equal(t, 1, orch.Status().BufferLen)

	rec = doJSON(t, h, "POST", "/api/frames", `{"format": "jpeg"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStabilizerRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/stabilizer",
		`{"kind": "barcode", "verify_enabled": true, "min_consecutive": 3, "forget_time_ms": 1500}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "GET", "/api/stabilizer?kind=barcode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["verify_enabled"])
	assert.Equal(t, float64(3), got["min_consecutive"])
	assert.Equal(t, float64(1500), got["forget_time_ms"])

	rec = doJSON(t, h, "POST", "/api/stabilizer", `{"kind": "hologram", "verify_enabled": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "GET", "/api/stabilizer?kind=", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResultMessageConversion(t *testing.T) {
	clarity := 42.5
	res := result.Result{
		FrameID:    3,
		Clarity:    clarity,
		HasClarity: true,
		Items: []result.Item{
			{Kind: result.KindTextLine, Text: "total", Points: []image.Point{{X: 10, Y: 20}}},
		},
	}

	msg := toResultMessage("stabilized", res)
	assert.Equal(t, "stabilized", msg.Type)
	assert.Equal(t, uint64(3), msg.FrameID)
	require.NotNil(t, msg.Clarity)
	assert.Equal(t, clarity, *msg.Clarity)
	require.Len(t, msg.Items, 1)
	assert.Equal(t, "text-line", msg.Items[0].Kind)
	assert.Equal(t, [][2]int{{10, 20}}, msg.Items[0].Points)

	// Absent clarity stays absent in the JSON, not zero.
	msg = toResultMessage("result", result.Result{FrameID: 4})
	assert.Nil(t, msg.Clarity)
}
