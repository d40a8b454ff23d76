package supervisor

import "syscall"

// workerSysProcAttr kills a worker whose supervisor dies without running
// its teardown.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
