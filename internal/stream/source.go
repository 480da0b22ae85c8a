package stream

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os/exec"
	"strings"
)

// Source is one connection attempt to a video endpoint. A source is used by
// exactly one handler capture loop; Read blocks until the next complete frame.
type Source interface {
	// Open connects and returns the negotiated resolution.
	Open(ctx context.Context) (width, height int, err error)
	// Read returns the next JPEG frame. Any error ends the connection.
	Read() ([]byte, error)
	Close() error
}

// SourceFactory builds a fresh source per connection attempt, letting tests
// script connect/read failures without a real camera.
type SourceFactory func(url string, fps int) Source

// FFmpegSource shells out to ffmpeg and parses MJPEG frames off its stdout.
// ffmpeg handles the RTSP session; -r clamps output to the target frame rate
// so a fast camera cannot flood the pipe.
type FFmpegSource struct {
	url string
	fps int

	cmd     *exec.Cmd
	stdout  io.ReadCloser
	buf     []byte
	chunk   []byte
	pending []byte
}

func NewFFmpegSource(url string, fps int) Source {
	return &FFmpegSource{url: url, fps: fps, chunk: make([]byte, 32*1024)}
}

func (s *FFmpegSource) Open(ctx context.Context) (int, int, error) {
	args := []string{"-loglevel", "error"}
	if strings.HasPrefix(s.url, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", s.url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", s.fps),
		"-q:v", "5",
		"-",
	)

	s.cmd = exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return 0, 0, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	s.stdout = stdout

	if err := s.cmd.Start(); err != nil {
		return 0, 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	// The first frame doubles as the connection probe and tells us the
	// negotiated resolution.
	first, err := s.Read()
	if err != nil {
		s.Close()
		return 0, 0, fmt.Errorf("open stream %s: %w", sanitizeURL(s.url), err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(first))
	if err != nil {
		s.Close()
		return 0, 0, fmt.Errorf("decode first frame: %w", err)
	}
	s.pending = first
	return cfg.Width, cfg.Height, nil
}

func (s *FFmpegSource) Read() ([]byte, error) {
	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}
	for {
		if frame := extractJPEG(&s.buf); frame != nil {
			return frame, nil
		}
		n, err := s.stdout.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("read ffmpeg pipe: %w", err)
		}
	}
}

func (s *FFmpegSource) Close() error {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return nil
}

// extractJPEG pulls one complete SOI..EOI frame out of the accumulation
// buffer, consuming it. Returns nil when no full frame is buffered yet.
func extractJPEG(buf *[]byte) []byte {
	b := *buf
	start := bytes.Index(b, []byte{0xFF, 0xD8})
	if start < 0 {
		// Keep at most one trailing byte in case 0xFF arrives split.
		if len(b) > 1 {
			*buf = b[len(b)-1:]
		}
		return nil
	}
	end := bytes.Index(b[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		*buf = b[start:]
		return nil
	}
	end = start + 2 + end + 2
	frame := make([]byte, end-start)
	copy(frame, b[start:end])
	*buf = b[end:]
	return frame
}

// sanitizeURL strips embedded credentials before a URL reaches a log line.
func sanitizeURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + url[at+1:]
}
