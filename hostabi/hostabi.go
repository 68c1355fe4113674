// Package hostabi implements vm.IOHost against real OS files and processes:
// the concrete backend behind the io_* builtins (§4.7), grounded on
// original_source/pd-vm/src/vm/builtin_runtime.rs's IoState/IoHandle pair
// (there: a HashMap<i64, IoHandle> of File/PopenRead/PopenWrite variants
// behind a monotonic handle counter). Go has no tagged-union equivalent, so
// each variant becomes its own type behind a small ioHandle interface, the
// same shape os/exec's *Cmd pipe plumbing in the teacher's runtime package
// (runtime/system.go's popen implementation) already uses.
package hostabi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/wudi/edgevm/vm"
)

// ioHandle is one open file-like resource, closed by Close and otherwise
// read/written through the type switch in Host's methods.
type ioHandle interface {
	io.Closer
}

type fileHandle struct {
	*os.File
}

// popenReadHandle is a child process whose stdout is read via io_read_*.
type popenReadHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
}

func (h *popenReadHandle) Close() error {
	h.stdout.Close()
	return h.cmd.Wait()
}

// popenWriteHandle is a child process whose stdin is written via io_write.
type popenWriteHandle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (h *popenWriteHandle) Close() error {
	h.stdin.Close()
	return h.cmd.Wait()
}

// Host is the default vm.IOHost: real files opened with os.OpenFile and
// real subprocesses spawned with os/exec, guarded by a mutex since a Vm's
// host-call dispatch is single-threaded but the handle table may be shared
// across goroutines driving concurrent Vm instances (e.g. one per request,
// §6.4).
type Host struct {
	mu         sync.Mutex
	nextHandle int64
	handles    map[int64]ioHandle
}

// New returns an empty Host with no open handles.
func New() *Host {
	return &Host{nextHandle: 1, handles: make(map[int64]ioHandle)}
}

var _ vm.IOHost = (*Host)(nil)

func (h *Host) insert(handle ioHandle) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextHandle
	h.nextHandle++
	h.handles[id] = handle
	return id
}

func (h *Host) get(id int64) (ioHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.handles[id]
	if !ok {
		return nil, fmt.Errorf("io handle %d not found", id)
	}
	return handle, nil
}

// Open implements vm.IOHost, matching builtin_io_open's r/w/a/r+/w+/a+ mode
// set exactly.
func (h *Host) Open(path, mode string) (int64, error) {
	var flag int
	switch mode {
	case "r":
		flag = os.O_RDONLY
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case "r+":
		flag = os.O_RDWR
	case "w+":
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case "a+":
		flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
	default:
		return 0, fmt.Errorf("unsupported io_open mode %q, expected r/w/a/r+/w+/a+", mode)
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return 0, fmt.Errorf("io_open failed: %w", err)
	}
	return h.insert(&fileHandle{f}), nil
}

// Popen implements vm.IOHost, spawning the command through a shell the way
// builtin_io_popen does (sh -c on unix, cmd /C on windows).
func (h *Host) Popen(command, mode string) (int64, error) {
	if mode != "r" && mode != "w" {
		return 0, fmt.Errorf("unsupported io_popen mode %q, expected r or w", mode)
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/C", command)
	} else {
		cmd = exec.Command("sh", "-c", command)
	}

	switch mode {
	case "r":
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return 0, fmt.Errorf("io_popen failed: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return 0, fmt.Errorf("io_popen failed: %w", err)
		}
		return h.insert(&popenReadHandle{cmd: cmd, stdout: stdout, reader: bufio.NewReader(stdout)}), nil
	default: // "w"
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return 0, fmt.Errorf("io_popen failed: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return 0, fmt.Errorf("io_popen failed: %w", err)
		}
		return h.insert(&popenWriteHandle{cmd: cmd, stdin: stdin}), nil
	}
}

// ReadAll implements vm.IOHost.
func (h *Host) ReadAll(id int64) (string, error) {
	handle, err := h.get(id)
	if err != nil {
		return "", err
	}
	switch hh := handle.(type) {
	case *fileHandle:
		data, err := io.ReadAll(hh.File)
		if err != nil {
			return "", fmt.Errorf("io_read_all failed: %w", err)
		}
		return string(data), nil
	case *popenReadHandle:
		data, err := io.ReadAll(hh.reader)
		if err != nil {
			return "", fmt.Errorf("io_read_all failed: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("io_read_all requires a readable handle")
	}
}

// ReadLine implements vm.IOHost, including the trailing newline, matching
// read_line_from_reader's byte-at-a-time behavior.
func (h *Host) ReadLine(id int64) (string, error) {
	handle, err := h.get(id)
	if err != nil {
		return "", err
	}
	var r *bufio.Reader
	switch hh := handle.(type) {
	case *fileHandle:
		var line []byte
		b := make([]byte, 1)
		for len(line) == 0 || line[len(line)-1] != '\n' {
			n, err := hh.File.Read(b)
			if n > 0 {
				line = append(line, b[0])
			} else if err == io.EOF {
				break
			} else if err != nil {
				return "", fmt.Errorf("io_read_line failed: %w", err)
			}
		}
		return string(line), nil
	case *popenReadHandle:
		r = hh.reader
	default:
		return "", fmt.Errorf("io_read_line requires a readable handle")
	}
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("io_read_line failed: %w", err)
	}
	return line, nil
}

// Write implements vm.IOHost.
func (h *Host) Write(id int64, data string) (int64, error) {
	handle, err := h.get(id)
	if err != nil {
		return 0, err
	}
	var w io.Writer
	switch hh := handle.(type) {
	case *fileHandle:
		w = hh.File
	case *popenWriteHandle:
		w = hh.stdin
	default:
		return 0, fmt.Errorf("io_write requires a writable handle")
	}
	n, err := w.Write([]byte(data))
	if err != nil {
		return 0, fmt.Errorf("io_write failed: %w", err)
	}
	return int64(n), nil
}

// Flush implements vm.IOHost.
func (h *Host) Flush(id int64) error {
	handle, err := h.get(id)
	if err != nil {
		return err
	}
	switch hh := handle.(type) {
	case *fileHandle:
		return hh.File.Sync()
	case *popenWriteHandle:
		return nil
	case *popenReadHandle:
		return nil
	default:
		return fmt.Errorf("io_flush requires a known handle")
	}
}

// Close implements vm.IOHost.
func (h *Host) Close(id int64) error {
	h.mu.Lock()
	handle, ok := h.handles[id]
	if ok {
		delete(h.handles, id)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("io handle %d not found", id)
	}
	return handle.Close()
}

// Exists implements vm.IOHost.
func (h *Host) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CloseAll closes every still-open handle, mirroring close_all_handles'
// best-effort cleanup when a Vm's lifetime ends (e.g. an edge request
// completes without the program explicitly closing every handle it opened).
func (h *Host) CloseAll() {
	h.mu.Lock()
	handles := h.handles
	h.handles = make(map[int64]ioHandle)
	h.mu.Unlock()
	for _, handle := range handles {
		_ = handle.Close()
	}
}
