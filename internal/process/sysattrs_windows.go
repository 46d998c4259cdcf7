//go:build windows

package process

import (
	"io/fs"
	"os/exec"
	"syscall"
)

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
	CREATE_NO_WINDOW         = 0x08000000
)

// configureSysProcAttr creates the server in a new process group without a
// console window; its output is read through the pipes instead.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: CREATE_NEW_PROCESS_GROUP | CREATE_NO_WINDOW,
	}
}

// Windows has no execute bit; CreateProcess decides.
func isExecutable(fs.FileInfo) bool { return true }
