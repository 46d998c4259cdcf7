//go:build !windows

package process

import (
	"io/fs"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the server in its own process group so a kill
// reaches any helpers it forks.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func isExecutable(fi fs.FileInfo) bool {
	return fi.Mode().Perm()&0o111 != 0
}
