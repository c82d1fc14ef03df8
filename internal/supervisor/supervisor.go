package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"

	"srt-gateway/internal/config"
)

const (
	// Model loading dominates worker startup, so the readiness wait is long.
	launchTimeout = 10 * time.Minute
	// Grace period between TERM and KILL during teardown.
	gracePeriod  = 5 * time.Second
	teardownPoll = 100 * time.Millisecond
)

// LaunchError reports which worker failed its readiness handshake and what
// it said.
type LaunchError struct {
	Stage  string
	Detail string
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s", e.Stage, e.Detail)
}

// WorkerHandle tracks one spawned worker process. It is mutated only by the
// supervisor, never by request-handling code.
type WorkerHandle struct {
	Name  string
	Ready *ReadinessChannel

	cmd *exec.Cmd
}

// PID returns the worker's process id, or 0 before it started.
func (h *WorkerHandle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Supervisor spawns the tokenizer coordinator, scheduler and detokenizer and
// owns their lifecycle.
type Supervisor struct {
	cfg     config.WorkersConfig
	workers []*WorkerHandle
}

// New constructs a supervisor for the configured workers.
func New(cfg config.WorkersConfig) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Workers returns the spawned worker handles.
func (s *Supervisor) Workers() []*WorkerHandle {
	return s.workers
}

// Launch spawns all workers and blocks until every readiness channel has
// reported. If any worker reports a non-success state, or the wait times
// out, every spawned process tree is killed and a LaunchError is returned;
// no partial cluster is left running.
func (s *Supervisor) Launch(ctx context.Context) error {
	specs := []struct {
		name   string
		worker config.WorkerConfig
	}{
		{"tokenizer", s.cfg.Tokenizer},
		{"scheduler", s.cfg.Scheduler},
		{"detokenizer", s.cfg.Detokenizer},
	}

	for _, spec := range specs {
		handle, err := spawn(spec.name, spec.worker.Command)
		if err != nil {
			s.TeardownAll()
			return &LaunchError{Stage: spec.name, Detail: err.Error()}
		}
		s.workers = append(s.workers, handle)
	}

	// Wait-all: every channel must report success, arrival order does not
	// matter.
	waitCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	var failed *WorkerHandle
	states := make(map[string]string, len(s.workers))
	for _, handle := range s.workers {
		state, err := handle.Ready.Recv(waitCtx)
		if err != nil {
			state = fmt.Sprintf("timeout waiting for readiness: %v", err)
		}
		states[handle.Name] = state
		if state != ReadyMessage && failed == nil {
			failed = handle
		}
	}

	for _, handle := range s.workers {
		slog.Info("worker init state", "worker", handle.Name, "state", states[handle.Name])
	}

	if failed != nil {
		s.TeardownAll()
		return &LaunchError{Stage: failed.Name, Detail: states[failed.Name]}
	}

	for _, handle := range s.workers {
		go reap(handle)
	}
	return nil
}

// TeardownAll tears down every spawned worker tree. Safe to call repeatedly
// and with workers already gone.
func (s *Supervisor) TeardownAll() {
	for _, handle := range s.workers {
		pid := handle.PID()
		if pid == 0 {
			continue
		}
		if err := Teardown(pid); err != nil {
			slog.Warn("worker teardown failed", "worker", handle.Name, "pid", pid, "err", err)
		}
	}
}

// spawn starts one worker with the write end of its readiness pipe inherited
// as fd 3.
func spawn(name string, command []string) (*WorkerHandle, error) {
	if len(command) == 0 {
		return nil, errors.New("command must not be empty")
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create readiness pipe: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{writer}

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("start worker %s: %w", name, err)
	}
	// The child holds the write end now; the parent's copy must go so EOF is
	// observed if the worker dies silently.
	writer.Close()

	ready := NewReadinessChannel()
	go watchPipe(reader, ready)

	slog.Info("worker spawned", "worker", name, "pid", cmd.Process.Pid)
	return &WorkerHandle{Name: name, Ready: ready, cmd: cmd}, nil
}

func reap(handle *WorkerHandle) {
	err := handle.cmd.Wait()
	if err != nil {
		slog.Warn("worker exited", "worker", handle.Name, "err", err)
		return
	}
	slog.Info("worker exited", "worker", handle.Name)
}

// Teardown terminates the process tree rooted at pid: descendants are
// enumerated, asked to terminate, given a grace period, then force-killed.
// A target that is already gone is treated as already torn down; the call is
// idempotent.
func Teardown(pid int) error {
	targets, err := processTree(pid)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	for _, target := range targets {
		signalProcess(target, syscall.SIGTERM)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		if !anyAlive(targets) {
			return nil
		}
		time.Sleep(teardownPoll)
	}

	for _, target := range targets {
		signalProcess(target, syscall.SIGKILL)
	}
	return nil
}

// processTree returns pid and all its descendants, children before parents
// removed — the root is last so children are signalled first.
func processTree(pid int) ([]int, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	children := make(map[int][]int, len(procs))
	known := make(map[int]bool, len(procs))
	for _, proc := range procs {
		children[proc.PPid()] = append(children[proc.PPid()], proc.Pid())
		known[proc.Pid()] = true
	}

	if !known[pid] {
		return nil, nil
	}

	var tree []int
	queue := []int{pid}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		tree = append(tree, next)
		queue = append(queue, children[next]...)
	}

	// Reverse so leaves are signalled before their parents.
	for i, j := 0, len(tree)-1; i < j; i, j = i+1, j-1 {
		tree[i], tree[j] = tree[j], tree[i]
	}
	return tree, nil
}

func signalProcess(pid int, sig syscall.Signal) {
	// ESRCH here just means the process beat us to exiting.
	_ = syscall.Kill(pid, sig)
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		proc, err := ps.FindProcess(pid)
		if err == nil && proc != nil {
			return true
		}
	}
	return false
}
