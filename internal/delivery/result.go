package delivery

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const stderrTailSize = 2048

// Result is a running delivery. Reading yields the output bytes; the read that follows the last
// byte reports how the processes exited.
type Result struct {
	reader   *io.PipeReader
	procs    []*exec.Cmd
	cancel   func()
	strategy Strategy

	done     chan struct{}
	err      error
	bytes    atomic.Int64
	position atomic.Int64
	progress sync.WaitGroup
	killOnce sync.Once
}

func (r *Result) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

// Close stops the delivery and releases the reader.
func (r *Result) Close() error {
	r.Cancel()
	return r.reader.Close()
}

// Cancel kills every process in the topology.
func (r *Result) Cancel() {
	r.killOnce.Do(func() {
		r.cancel()
		for _, cmd := range r.procs {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	})
}

// Done is closed once every process exited and the limiter was released.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Err returns the final error. It is only meaningful after Done is closed.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Result) Strategy() string {
	return string(r.strategy)
}

// BytesSent returns how many bytes were produced so far.
func (r *Result) BytesSent() int64 {
	return r.bytes.Load()
}

// Position returns the media time ffmpeg last reported.
func (r *Result) Position() time.Duration {
	return time.Duration(r.position.Load()) * time.Microsecond
}

// readProgress parses ffmpeg "-progress" key=value lines until the pipe closes.
func (r *Result) readProgress(f *os.File) {
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "out_time_us" {
			continue
		}
		if us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && us >= 0 {
			r.position.Store(us)
		}
	}
}

// countingWriter counts bytes and fires onFirst before the first write.
type countingWriter struct {
	w       io.Writer
	n       *atomic.Int64
	onFirst func()
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 && c.n.Load() == 0 && c.onFirst != nil {
		c.onFirst()
		c.onFirst = nil
	}
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
