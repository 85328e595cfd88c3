//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var terminateSignal os.Signal = os.Kill

func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalGroup terminates the child. Windows has no process group signals,
// so every signal is a kill.
func signalGroup(proc *os.Process, _ os.Signal) error {
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
