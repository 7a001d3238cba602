package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"mediagen/internal/retry"
)

var _ Generator = (*Mock)(nil)

// Mock is a deterministic generator. The same prompt always yields the same
// PNG, and failures can be scripted ahead of calls.
type Mock struct {
	// Latency delays every call; the call fails if ctx ends first.
	Latency time.Duration
	Width   int
	Height  int

	mu      sync.Mutex
	script  []error
	calls   int
	prompts []string
}

// NewMock returns a Mock producing 64x64 images with no latency.
func NewMock() *Mock {
	return &Mock{Width: 64, Height: 64}
}

// FailNext queues n failures of the given class after anything already
// scripted.
func (m *Mock) FailNext(class retry.Classification, message string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.script = append(m.script, &ProviderError{Class: class, Message: message})
	}
}

// Script queues raw outcomes; a nil entry is a successful call.
func (m *Mock) Script(outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, outcomes...)
}

// Calls returns the number of Generate calls so far.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts seen, in call order.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Generate returns the next scripted failure, or a synthetic PNG.
func (m *Mock) Generate(ctx context.Context, req Request) (*Artifact, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	var scripted error
	if len(m.script) > 0 {
		scripted = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, Retryable("mock: generation interrupted", ctx.Err())
		}
	}
	if scripted != nil {
		return nil, scripted
	}
	if err := ctx.Err(); err != nil {
		return nil, Retryable("mock: generation interrupted", err)
	}

	w, h := m.Width, m.Height
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 64
	}
	data, err := syntheticPNG(req.Prompt, w, h)
	if err != nil {
		return nil, NonRetryable("mock: encode image", err)
	}
	return &Artifact{Data: data, MIME: "image/png", Width: w, Height: h, Source: "mock://" + req.JobID}, nil
}

// syntheticPNG paints a two-colour gradient seeded by the prompt hash.
func syntheticPNG(prompt string, w, h int) ([]byte, error) {
	sum := sha256.Sum256([]byte(prompt))
	from := color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
	to := color.RGBA{R: sum[3], G: sum[4], B: sum[5], A: 0xff}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := float64(x+y) / float64(w+h)
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 0xff,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
