//go:build unix

package engine

import (
	"errors"
	"syscall"
)

// 子进程独立进程组，管理进程收到的 Ctrl-C 不会直接传给引擎
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(h *osHandle) error { return signalGroup(h, syscall.SIGTERM) }

func killGroup(h *osHandle) error { return signalGroup(h, syscall.SIGKILL) }

// signalGroup 进程组 id 与引擎 pid 相同
func signalGroup(h *osHandle, sig syscall.Signal) error {
	err := syscall.Kill(-h.Pid(), sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
