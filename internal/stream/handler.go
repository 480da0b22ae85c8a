package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/ts-nvr/internal/metrics"
)

// Handler owns one camera connection: a dedicated capture goroutine feeding a
// bounded latest-frames buffer, with an indefinite reconnect loop. Exactly one
// producer per handler; any number of consumers may call GetFrame.
type Handler struct {
	cameraID  uuid.UUID
	url       string
	targetFPS int

	newSource      SourceFactory
	reconnectDelay time.Duration

	frames   chan *Frame
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu   sync.RWMutex
	info Info
}

// HandlerOpts tunes buffer size and reconnect behavior; zero values pick
// defaults.
type HandlerOpts struct {
	BufferSize     int
	ReconnectDelay time.Duration
	Source         SourceFactory
}

func NewHandler(cameraID uuid.UUID, url string, fps int, opts HandlerOpts) *Handler {
	if fps <= 0 {
		fps = 15
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Source == nil {
		opts.Source = NewFFmpegSource
	}
	return &Handler{
		cameraID:       cameraID,
		url:            url,
		targetFPS:      fps,
		newSource:      opts.Source,
		reconnectDelay: opts.ReconnectDelay,
		frames:         make(chan *Frame, opts.BufferSize),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		info: Info{
			CameraID: cameraID,
			URL:      sanitizeURL(url),
			State:    StateIdle,
			FPS:      fps,
		},
	}
}

// Start launches the capture goroutine. It does not wait for the first
// connection; use WaitConnected if the caller needs confirmation.
func (h *Handler) Start() {
	go h.captureLoop()
}

// WaitConnected blocks until the handler reaches connected, the first
// connection attempt fails, or the context expires. Returns whether the
// handler is connected at return time; the reconnect loop keeps running
// either way.
func (h *Handler) WaitConnected(ctx context.Context) bool {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		switch h.State() {
		case StateConnected:
			return true
		case StateError, StateReconnecting, StateStopped:
			return false
		}
		select {
		case <-ctx.Done():
			return h.State() == StateConnected
		case <-tick.C:
		}
	}
}

func (h *Handler) captureLoop() {
	defer close(h.doneCh)
	frameInterval := time.Second / time.Duration(h.targetFPS)

	for h.active() {
		h.setState(StateConnecting)
		src := h.newSource(h.url, h.targetFPS)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			// Unblock a stalled Open/Read when the handler stops.
			select {
			case <-h.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		w, hh, err := src.Open(ctx)
		if err != nil {
			h.recordError(err)
			src.Close()
			cancel()
			metrics.StreamReconnectsTotal.Inc()
			h.sleepInterruptible(h.reconnectDelay)
			if h.active() {
				h.setState(StateReconnecting)
			}
			continue
		}

		h.mu.Lock()
		h.info.Width, h.info.Height = w, hh
		h.info.State = StateConnected
		h.info.LastError = ""
		h.mu.Unlock()
		log.Printf("Stream %s: connected (%dx%d)", h.cameraID, w, hh)

		lastFrame := time.Time{}
		for h.active() {
			data, err := src.Read()
			if err != nil {
				log.Printf("Stream %s: read failed: %v", h.cameraID, err)
				h.recordError(err)
				break
			}

			now := time.Now()
			if !lastFrame.IsZero() && now.Sub(lastFrame) < frameInterval {
				continue // faster than target fps: drop, never queue
			}
			lastFrame = now

			h.mu.Lock()
			h.info.LastFrameTime = now
			h.info.FrameCount++
			seq := h.info.FrameCount
			h.mu.Unlock()
			metrics.FramesReadTotal.Inc()

			h.enqueue(&Frame{
				CameraID:  h.cameraID,
				Data:      data,
				Seq:       seq,
				Timestamp: now,
				Width:     w,
				Height:    hh,
			})
		}

		src.Close()
		cancel()

		if h.active() {
			h.setState(StateReconnecting)
			metrics.StreamReconnectsTotal.Inc()
			log.Printf("Stream %s: reconnecting in %s", h.cameraID, h.reconnectDelay)
			h.sleepInterruptible(h.reconnectDelay)
		}
	}

	h.setState(StateStopped)
	log.Printf("Stream %s: stopped", h.cameraID)
}

// enqueue adds the frame, evicting the oldest when the buffer is full so
// consumers always see the freshest frames.
func (h *Handler) enqueue(f *Frame) {
	for {
		select {
		case h.frames <- f:
			return
		default:
			select {
			case <-h.frames:
			default:
			}
		}
	}
}

// GetFrame returns the most recently buffered frame without blocking, or nil.
func (h *Handler) GetFrame() *Frame {
	var latest *Frame
	for {
		select {
		case f := <-h.frames:
			latest = f
		default:
			return latest
		}
	}
}

// GetFrameCtx waits up to the context deadline for a frame. Returns nil on
// timeout; transient absence is not an error.
func (h *Handler) GetFrameCtx(ctx context.Context) *Frame {
	if f := h.GetFrame(); f != nil {
		return f
	}
	select {
	case f := <-h.frames:
		return f
	case <-ctx.Done():
		return nil
	case <-h.doneCh:
		return nil
	}
}

// Stop halts the capture loop, joins it with a bounded timeout, and drains
// the buffer. Safe to call more than once.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
	case <-time.After(10 * time.Second):
		log.Printf("[ERROR] Stream %s: capture loop did not exit within 10s", h.cameraID)
	}
	for {
		select {
		case <-h.frames:
		default:
			return
		}
	}
}

func (h *Handler) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.info.State
}

func (h *Handler) IsConnected() bool { return h.State() == StateConnected }

func (h *Handler) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.info
}

func (h *Handler) CameraID() uuid.UUID { return h.cameraID }

func (h *Handler) active() bool {
	select {
	case <-h.stopCh:
		return false
	default:
		return true
	}
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.info.State = s
	h.mu.Unlock()
}

func (h *Handler) recordError(err error) {
	h.mu.Lock()
	h.info.State = StateError
	h.info.LastError = err.Error()
	h.mu.Unlock()
}

func (h *Handler) sleepInterruptible(d time.Duration) {
	select {
	case <-h.stopCh:
	case <-time.After(d):
	}
}
