// ABOUTME: Spawning a provider with piped stdio and keeping a tail of its stderr.
// ABOUTME: stdout and stderr use os.Pipe so cmd.Wait never closes the hub's read ends.

package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// stderrTailBytes bounds how much provider stderr is kept for diagnostics.
const stderrTailBytes = 4096

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *tailBuffer
}

func spawn(spec LaunchSpec, logger *slog.Logger) (*process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		return nil, err
	}
	// The child holds its own copies of the write ends.
	_ = outW.Close()
	_ = errW.Close()

	tail := newTailBuffer(stderrTailBytes)
	go tail.drain(errR, func(line string) {
		logger.Debug("provider stderr", "server", spec.Name, "line", line)
	})

	return &process{cmd: cmd, stdin: stdin, stdout: outR, stderr: tail}, nil
}

func (p *process) closePipes() {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	buf  []byte
	done chan struct{}
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max, done: make(chan struct{})}
}

// drain copies r line by line until EOF, then closes r.
func (t *tailBuffer) drain(r io.ReadCloser, onLine func(string)) {
	defer close(t.done)
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		t.write(append(sc.Bytes(), '\n'))
		if onLine != nil {
			onLine(sc.Text())
		}
	}
}

func (t *tailBuffer) write(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

// wait blocks until the stream hits EOF or d elapses.
func (t *tailBuffer) wait(d time.Duration) {
	select {
	case <-t.done:
	case <-time.After(d):
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
