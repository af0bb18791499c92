// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/framewell/framewell/internal/config"
	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/orchestrator"
	"github.com/framewell/framewell/internal/result"
	"github.com/framewell/framewell/internal/trace"
)

// Message types pushed over the WebSocket.
type ItemMessage struct {
	Kind       string   `json:"kind"`
	Text       string   `json:"text,omitempty"`
	Format     string   `json:"format,omitempty"`
	Confidence float32  `json:"confidence,omitempty"`
	Points     [][2]int `json:"points,omitempty"`
	Payload    []byte   `json:"payload,omitempty"`
}

type ResultMessage struct {
	Type      string        `json:"type"`
	FrameID   uint64        `json:"frame_id"`
	Timestamp time.Time     `json:"timestamp"`
	Items     []ItemMessage `json:"items"`
	Clarity   *float64      `json:"clarity,omitempty"`
}

type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type ErrorMessage struct {
	Type     string            `json:"type"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type BestFrameMessage struct {
	Type       string    `json:"type"`
	FrameID    uint64    `json:"frame_id"`
	Score      float64   `json:"score"`
	Format     string    `json:"format"`
	CapturedAt time.Time `json:"captured_at"`
	Image      []byte    `json:"image"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch  *orchestrator.Orchestrator
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a new server and starts the event broadcasters.
func New(orch *orchestrator.Orchestrator, _ *config.Config) *Server {
	s := &Server{
		orch:  orch,
		conns: make(map[*websocket.Conn]struct{}),
	}

	hub := orch.Hub()
	go s.broadcastResults("result", hub.Results.Subscribe())
	go s.broadcastResults("stabilized", hub.Stabilized.Subscribe())
	go s.broadcastStates(hub.States.Subscribe())
	go s.broadcastErrors(hub.Errors.Subscribe())
	go s.broadcastBestFrames(hub.BestFrames.Subscribe())

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/bestframe", s.handleBestFrame)
	mux.HandleFunc("GET /api/stabilizer", s.handleStabilizerGet)
	mux.HandleFunc("POST /api/capture/start", s.handleCaptureStart)
	mux.HandleFunc("POST /api/capture/stop", s.handleCaptureStop)
	mux.HandleFunc("POST /api/capture/pause", s.handleCapturePause)
	mux.HandleFunc("POST /api/capture/resume", s.handleCaptureResume)
	mux.HandleFunc("POST /api/fetch/start", s.handleFetchStart)
	mux.HandleFunc("POST /api/fetch/stop", s.handleFetchStop)
	mux.HandleFunc("POST /api/frames", s.handlePublishFrame)
	mux.HandleFunc("POST /api/buffer", s.handleBuffer)
	mux.HandleFunc("POST /api/buffer/next", s.handleBufferNext)
	mux.HandleFunc("POST /api/interval", s.handleInterval)
	mux.HandleFunc("POST /api/template", s.handleTemplate)
	mux.HandleFunc("POST /api/stabilizer", s.handleStabilizerSet)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	log := trace.Logger(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Push-only connection: CloseRead watches for the client going away.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	log.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), BroadcastWriteTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, msg)
		}(conn)
	}
	s.mu.RUnlock()
}

func (s *Server) broadcastResults(msgType string, ch <-chan result.Result) {
	for res := range ch {
		s.broadcast(toResultMessage(msgType, res))
	}
}

func (s *Server) broadcastStates(ch <-chan result.SourceState) {
	for st := range ch {
		s.broadcast(StateMessage{Type: "source_state", State: st.String()})
	}
}

func (s *Server) broadcastErrors(ch <-chan *apperrors.AppError) {
	for ae := range ch {
		s.broadcast(ErrorMessage{
			Type:     "error",
			Code:     ae.Code.String(),
			Message:  ae.Message,
			Metadata: ae.Metadata,
		})
	}
}

func (s *Server) broadcastBestFrames(ch <-chan result.BestFrame) {
	for bf := range ch {
		s.broadcast(BestFrameMessage{
			Type:       "best_frame",
			FrameID:    bf.FrameID,
			Score:      bf.Score,
			Format:     bf.Format,
			CapturedAt: bf.CapturedAt,
			Image:      bf.Image,
		})
	}
}

func toResultMessage(msgType string, res result.Result) ResultMessage {
	msg := ResultMessage{
		Type:      msgType,
		FrameID:   res.FrameID,
		Timestamp: res.Timestamp,
		Items:     make([]ItemMessage, 0, len(res.Items)),
	}
	if res.HasClarity {
		c := res.Clarity
		msg.Clarity = &c
	}
	for _, it := range res.Items {
		im := ItemMessage{
			Kind:       it.Kind.String(),
			Text:       it.Text,
			Format:     it.Format,
			Confidence: it.Confidence,
			Payload:    it.Payload,
		}
		for _, p := range it.Points {
			im.Points = append(im.Points, [2]int{p.X, p.Y})
		}
		msg.Items = append(msg.Items, im)
	}
	return msg
}

// REST handlers.

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orch.Status())
}

func (s *Server) handleBestFrame(w http.ResponseWriter, r *http.Request) {
	bf, ok := s.orch.BestFrame()
	if !ok {
		http.Error(w, `{"error":"no best frame confirmed yet"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, BestFrameMessage{
		Type:       "best_frame",
		FrameID:    bf.FrameID,
		Score:      bf.Score,
		Format:     bf.Format,
		CapturedAt: bf.CapturedAt,
		Image:      bf.Image,
	})
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.StartCapturing(), "capture_started")
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	s.orch.StopCapturing()
	writeStatus(w, "capture_stopped")
}

func (s *Server) handleCapturePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.PauseCapturing(), "capture_paused")
}

func (s *Server) handleCaptureResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.ResumeCapturing(), "capture_resumed")
}

func (s *Server) handleFetchStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.orch.StartFetching(), "fetch_started")
}

func (s *Server) handleFetchStop(w http.ResponseWriter, r *http.Request) {
	s.orch.StopFetching()
	writeStatus(w, "fetch_stopped")
}

func (s *Server) handlePublishFrame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        uint64    `json:"id"`
		Image     []byte    `json:"image"`
		Format    string    `json:"format"`
		Timestamp time.Time `json:"timestamp"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	fr := &frame.Frame{ID: req.ID, Data: req.Image, Format: req.Format, Timestamp: req.Timestamp}
	if err := s.orch.PublishFrame(fr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "frame_published", "frame_id": fr.ID})
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxCount     *int    `json:"max_count"`
		OverflowMode *string `json:"overflow_mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxCount != nil {
		if err := s.orch.SetMaxFrameCount(*req.MaxCount); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.OverflowMode != nil {
		if err := s.orch.SetOverflowMode(*req.OverflowMode); err != nil {
			writeError(w, err)
			return
		}
	}
	writeStatus(w, "buffer_updated")
}

func (s *Server) handleBufferNext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FrameID      uint64 `json:"frame_id"`
		KeepInBuffer bool   `json:"keep_in_buffer"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.orch.SetNextFrame(req.FrameID, req.KeepInBuffer)
	writeStatus(w, "next_frame_pinned")
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalMs int64 `json:"interval_ms"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.control(w, s.orch.SetFetchInterval(req.IntervalMs), "interval_updated")
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Template string `json:"template"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.control(w, s.orch.SetTemplate(req.Template), "template_staged")
}

func (s *Server) handleStabilizerGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.KindSettings(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"dedup_enabled":      st.DedupEnabled,
		"forget_time_ms":     st.ForgetTime.Milliseconds(),
		"verify_enabled":     st.VerifyEnabled,
		"min_consecutive":    st.MinConsecutive,
		"overlap_enabled":    st.OverlapEnabled,
		"max_overlap_frames": st.MaxOverlapFrames,
	})
}

func (s *Server) handleStabilizerSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind             string `json:"kind"`
		Dedup            *bool  `json:"dedup_enabled"`
		ForgetTimeMs     *int64 `json:"forget_time_ms"`
		Verify           *bool  `json:"verify_enabled"`
		MinConsecutive   *int   `json:"min_consecutive"`
		Overlap          *bool  `json:"overlap_enabled"`
		MaxOverlapFrames *int   `json:"max_overlap_frames"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	steps := []func() error{
		func() error {
			if req.Dedup == nil {
				return nil
			}
			return s.orch.EnableDeduplication(req.Kind, *req.Dedup)
		},
		func() error {
			if req.ForgetTimeMs == nil {
				return nil
			}
			return s.orch.SetForgetTime(req.Kind, time.Duration(*req.ForgetTimeMs)*time.Millisecond)
		},
		func() error {
			if req.Verify == nil {
				return nil
			}
			return s.orch.EnableVerification(req.Kind, *req.Verify)
		},
		func() error {
			if req.MinConsecutive == nil {
				return nil
			}
			return s.orch.SetMinConsecutive(req.Kind, *req.MinConsecutive)
		},
		func() error {
			if req.Overlap == nil {
				return nil
			}
			return s.orch.EnableLatestOverlapping(req.Kind, *req.Overlap)
		},
		func() error {
			if req.MaxOverlapFrames == nil {
				return nil
			}
			return s.orch.SetMaxOverlapFrames(req.Kind, *req.MaxOverlapFrames)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			writeError(w, err)
			return
		}
	}
	writeStatus(w, "stabilizer_updated")
}

func (s *Server) control(w http.ResponseWriter, err error, status string) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, MaxControlBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status string) {
	writeJSON(w, map[string]string{"status": status})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case apperrors.CodeInvalidArgument, apperrors.CodeConfigInvalid:
			code = http.StatusBadRequest
		case apperrors.CodeBufferFull:
			code = http.StatusConflict
		case apperrors.CodeTimeout, apperrors.CodeProcessTimeout:
			code = http.StatusGatewayTimeout
		case apperrors.CodeUnavailable:
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
