// Package remote implements the Engine contract over gRPC.
package remote

import (
	"context"
	"image"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/resilience"
	"github.com/framewell/framewell/internal/result"
	"github.com/framewell/framewell/internal/trace"
	"github.com/framewell/framewell/pkg/enginewire"
)

// Client talks to a remote analysis engine service. A circuit breaker
// guards the connection so a dead engine fails fast instead of stacking
// per-frame timeouts.
type Client struct {
	conn    *grpc.ClientConn
	breaker *resilience.Breaker
}

// New creates a client for the engine service at addr. The connection is
// lazy; the first Process call establishes it.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "connect engine at %s", addr)
	}
	return &Client{
		conn:    conn,
		breaker: resilience.New(resilience.EngineConfig()),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Process implements engine.Engine.
func (c *Client) Process(ctx context.Context, fr *frame.Frame, template string) (*result.Result, error) {
	req := &enginewire.ProcessRequest{
		FrameID:  fr.ID,
		Image:    fr.Data,
		Format:   fr.Format,
		Template: template,
	}

	resp, err := resilience.ExecuteWithResult(c.breaker, func() (*enginewire.ProcessResponse, error) {
		resp := &enginewire.ProcessResponse{}
		err := c.conn.Invoke(ctx, enginewire.ProcessMethod, req, resp, grpc.ForceCodec(enginewire.Codec{}))
		return resp, err
	})
	if err != nil {
		if err == resilience.ErrOpen {
			return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "engine circuit open")
		}
		return nil, apperrors.FromGRPCError(err)
	}

	return toResult(fr, resp), nil
}

func toResult(fr *frame.Frame, resp *enginewire.ProcessResponse) *result.Result {
	res := &result.Result{
		FrameID:    fr.ID,
		Timestamp:  fr.Timestamp,
		Clarity:    resp.Clarity,
		HasClarity: resp.HasClarity,
	}
	for _, it := range resp.Items {
		kind, err := result.ParseKind(it.Kind)
		if err != nil {
			slog.Debug("dropping item with unknown kind", "kind", it.Kind, "frame_id", fr.ID)
			continue
		}
		res.Items = append(res.Items, result.Item{
			Kind:       kind,
			Text:       it.Text,
			Format:     it.Format,
			Confidence: it.Confidence,
			Points:     toPoints(it.Points),
			Payload:    it.Payload,
		})
	}
	return res
}

func toPoints(flat []int32) []image.Point {
	if len(flat) < 2 {
		return nil
	}
	pts := make([]image.Point, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		pts = append(pts, image.Point{X: int(flat[i]), Y: int(flat[i+1])})
	}
	return pts
}
