//go:build !unix

package engine

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func terminateGroup(h *osHandle) error { return h.proc.Terminate() }

func killGroup(h *osHandle) error { return h.proc.Kill() }
