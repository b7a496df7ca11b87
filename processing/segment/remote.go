package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"blurcam/internal/models"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
)

// RemoteSegmenter runs inference on a model server over a websocket. Frames
// go out as downscaled JPEGs, masks come back as grayscale PNGs.
type RemoteSegmenter struct {
	serverURL      string
	modelSelection int
	dialer         *websocket.Dialer

	mu        sync.Mutex // Single flight: one request on the wire at a time.
	conn      *websocket.Conn
	lastID    int64
	model     string
	inputSize image.Point
}

// Ensure RemoteSegmenter implements Segmenter.
var _ Segmenter = (*RemoteSegmenter)(nil)

func NewRemoteSegmenter(serverURL string, modelSelection int) *RemoteSegmenter {
	return &RemoteSegmenter{
		serverURL:      serverURL,
		modelSelection: modelSelection,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		inputSize:      InputSize(modelSelection),
	}
}

// Load connects to the server and selects the model. A failure is a
// *ModelLoadError.
func (s *RemoteSegmenter) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	return s.connect(ctx)
}

// Model returns the model name the server reported at load.
func (s *RemoteSegmenter) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *RemoteSegmenter) connect(ctx context.Context) error {
	slog.Info("connecting to segmentation server", "url", s.serverURL, "model_selection", s.modelSelection)

	conn, _, err := s.dialer.DialContext(ctx, s.serverURL, nil)
	if err != nil {
		return &ModelLoadError{URL: s.serverURL, Err: err}
	}

	hello := models.HelloRequest{ID: s.nextID(), Hello: 1, ModelSelection: s.modelSelection}
	resp, err := transact(ctx, conn, hello.ID, hello, func(r *models.HelloResponse) *models.Response { return &r.Response })
	if err != nil {
		conn.Close()
		return &ModelLoadError{URL: s.serverURL, Err: fmt.Errorf("hello: %w", err)}
	}

	s.conn = conn
	s.model = resp.Model
	if resp.InputWidth > 0 && resp.InputHeight > 0 {
		s.inputSize = image.Pt(resp.InputWidth, resp.InputHeight)
	}

	slog.Info("segmentation model loaded", "model", resp.Model, "input", fmt.Sprintf("%dx%d", s.inputSize.X, s.inputSize.Y))
	return nil
}

// Infer sends frame to the model and returns its foreground mask scaled back
// to the frame's bounds. Failures are *InferenceError; a broken connection is
// re-established on the next call.
func (s *RemoteSegmenter) Infer(ctx context.Context, frame image.Image) (*image.Alpha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			return nil, &InferenceError{Err: err}
		}
	}

	bounds := frame.Bounds()
	input := imaging.Resize(frame, s.inputSize.X, s.inputSize.Y, imaging.Linear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, input, &jpeg.Options{Quality: 85}); err != nil {
		return nil, &InferenceError{Err: fmt.Errorf("jpeg encode: %w", err)}
	}

	req := models.SegmentRequest{
		ID:     s.nextID(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Image:  buf.Bytes(),
	}

	resp, err := transact(ctx, s.conn, req.ID, req, func(r *models.SegmentResponse) *models.Response { return &r.Response })
	if err != nil {
		var remote *remoteError
		if !errors.As(err, &remote) {
			// Transport failure or timeout: the connection state is unknown.
			s.dropConn()
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &InferenceError{ID: req.ID, Err: err}
	}

	out, err := png.Decode(bytes.NewReader(resp.Mask))
	if err != nil {
		return nil, &InferenceError{ID: req.ID, Err: fmt.Errorf("decoding mask: %w", err)}
	}

	return maskFor(out, bounds), nil
}

// Close shuts the connection to the server.
func (s *RemoteSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *RemoteSegmenter) dropConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *RemoteSegmenter) nextID() int64 {
	s.lastID++
	return s.lastID
}

// remoteError is a well-formed reply reporting failure; the connection is
// still usable.
type remoteError struct {
	msg string
}

func (e *remoteError) Error() string { return "model: " + e.msg }

// transact writes req and reads replies until the one answering id arrives.
// Replies to earlier, abandoned requests are discarded. Each reply is decoded
// into a fresh value so nothing carries over from a discarded one.
func transact[T any](ctx context.Context, conn *websocket.Conn, id int64, req any, status func(*T) *models.Response) (*T, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	for {
		resp := new(T)
		if err := conn.ReadJSON(resp); err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		st := status(resp)
		switch {
		case st.ID < id:
			slog.Debug("discarding stale segmentation response", "id", st.ID, "want", id)
			continue
		case st.ID > id:
			return nil, fmt.Errorf("response id %d for request %d", st.ID, id)
		}
		if !st.Success {
			return nil, &remoteError{msg: st.Error}
		}
		return resp, nil
	}
}
