// Package trajectory accumulates camera positions produced by visual odometry and renders them.
// Renderers are explicit objects owned by the caller; nothing here is process-wide.
package trajectory

import (
	"sync"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
)

// Sink receives one camera position per processed frame pair.
type Sink interface {
	PushPoint(x, y, z float64)
}

// Renderer is a Sink that can write what it received to a file.
type Renderer interface {
	Sink
	Save(path string) error
}

// Recorder keeps the pushed positions in order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	points []r3.Vector
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// PushPoint appends a position.
func (r *Recorder) PushPoint(x, y, z float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, r3.Vector{X: x, Y: y, Z: z})
}

// Points returns a copy of the positions received so far.
func (r *Recorder) Points() []r3.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]r3.Vector, len(r.points))
	copy(out, r.points)
	return out
}

// Len returns the number of positions received so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// Length returns the length of the polyline through the positions.
func (r *Recorder) Length() float64 {
	points := r.Points()
	length := 0.
	for i := 1; i < len(points); i++ {
		length += points[i].Sub(points[i-1]).Norm()
	}
	return length
}

// MultiSink forwards every position to all of its sinks.
type MultiSink []Sink

// PushPoint forwards the position.
func (ms MultiSink) PushPoint(x, y, z float64) {
	for _, s := range ms {
		s.PushPoint(x, y, z)
	}
}

// SaveAll saves every renderer to its path, keyed by path, and returns all the errors that occurred.
func SaveAll(renderers map[string]Renderer) error {
	var errs error
	for path, r := range renderers {
		errs = multierr.Append(errs, r.Save(path))
	}
	return errs
}
