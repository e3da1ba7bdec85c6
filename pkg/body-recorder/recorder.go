package bodyrecorder

import "bytes"

// ProgressFunc receives the running byte count and the expected total (-1 if unknown).
type ProgressFunc func(received, expected int64)

// Recorder is an io.Writer that saves a response body to a buffer.
// It reports progress after every non-empty write.
type Recorder struct {
	b          *bytes.Buffer
	received   int64
	expected   int64
	onProgress ProgressFunc
}

// Implementation of io.Writer
func (r *Recorder) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.b.Write(p)
	r.received += int64(n)
	if r.onProgress != nil {
		r.onProgress(r.received, r.expected)
	}
	return n, err
}

// Bytes returns the recorded body.
func (r *Recorder) Bytes() []byte {
	return r.b.Bytes()
}

// Received returns the number of bytes recorded so far.
func (r *Recorder) Received() int64 {
	return r.received
}

// Expected returns the declared body length, -1 if unknown.
func (r *Recorder) Expected() int64 {
	return r.expected
}

// Complete reports whether the recorded length matches the declared one.
// Bodies of unknown length are always complete.
func (r *Recorder) Complete() bool {
	return r.expected < 0 || r.expected == r.received
}

// New returns a new Recorder for a body of the given declared length.
// If onProgress is not nil, it is called after each write.
func New(expected int64, onProgress ProgressFunc) *Recorder {
	b := &bytes.Buffer{}
	if expected > 0 {
		b.Grow(int(min(expected, 1<<24)))
	}
	return &Recorder{
		b:          b,
		expected:   expected,
		onProgress: onProgress,
	}
}
