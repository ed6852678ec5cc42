// Package masterid captures the MasterIdentity from spec.md §3: the pid
// recorded at startup, used to gate every signal-handler invocation so a
// forked/exec'd child that happens to inherit a stale handler reference
// never performs a master-only action (spec.md §5, testable property 6).
package masterid

import "os"

// Identity holds the pid captured once at master startup.
type Identity struct {
	pid int
}

// Capture records the current process's pid as the master identity.
func Capture() *Identity {
	return &Identity{pid: os.Getpid()}
}

// Pid returns the captured master pid.
func (i *Identity) Pid() int {
	return i.pid
}

// IsMaster reports whether the calling goroutine is running inside the
// process that captured this Identity.
func (i *Identity) IsMaster() bool {
	return os.Getpid() == i.pid
}
