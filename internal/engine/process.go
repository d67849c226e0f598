package engine

import (
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Handle 已启动的子进程
type Handle interface {
	Pid() int
}

// ProcessControl 进程操作能力，测试中可替换
type ProcessControl interface {
	// Spawn 非阻塞地启动进程，stdout/stderr 写入 out
	Spawn(path string, args []string, out io.Writer) (Handle, error)
	Terminate(h Handle) error
	// Wait 最多等待 d，返回进程是否已退出
	Wait(h Handle, d time.Duration) bool
	Kill(h Handle) error
}

// OSProcessControl os/exec 启动。
// unix 上信号发给整个进程组，引擎派生的子进程一并结束。
type OSProcessControl struct{}

// 进程退出后等待输出管道关闭的上限，继承了管道的孙进程不会让 Wait 一直挂住
const outputDrainDelay = time.Second

type osHandle struct {
	cmd  *exec.Cmd
	proc *process.Process
	done chan struct{}
}

func (h *osHandle) Pid() int { return h.cmd.Process.Pid }

func (OSProcessControl) Spawn(path string, args []string, out io.Writer) (Handle, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = outputDrainDelay
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", path, err)
	}
	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("inspect pid %d: %w", cmd.Process.Pid, err)
	}

	h := &osHandle{cmd: cmd, proc: proc, done: make(chan struct{})}
	// 回收子进程，避免僵尸
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

func (OSProcessControl) Terminate(h Handle) error {
	oh, ok := h.(*osHandle)
	if !ok {
		return fmt.Errorf("unexpected handle %T", h)
	}
	select {
	case <-oh.done:
		return nil
	default:
	}
	return terminateGroup(oh)
}

func (OSProcessControl) Wait(h Handle, d time.Duration) bool {
	oh, ok := h.(*osHandle)
	if !ok {
		return false
	}
	select {
	case <-oh.done:
		return true
	default:
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-oh.done:
		return true
	case <-timer.C:
		return false
	}
}

func (OSProcessControl) Kill(h Handle) error {
	oh, ok := h.(*osHandle)
	if !ok {
		return fmt.Errorf("unexpected handle %T", h)
	}
	select {
	case <-oh.done:
		return nil
	default:
	}
	return killGroup(oh)
}
