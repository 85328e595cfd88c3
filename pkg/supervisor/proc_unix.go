//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// terminateSignal asks the child to shut down.
var terminateSignal os.Signal = syscall.SIGTERM

// configureProcAttr puts the child in a new process group so the whole tree
// it starts can be signalled at once.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(proc *os.Process, sig os.Signal) error {
	sysSig, ok := sig.(syscall.Signal)
	if !ok {
		return proc.Signal(sig)
	}
	// Negative pid addresses the process group.
	err := syscall.Kill(-proc.Pid, sysSig)
	if errors.Is(err, syscall.ESRCH) {
		err = proc.Signal(sig)
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return err
}
