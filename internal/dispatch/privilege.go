package dispatch

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// UnprivilegedID is the conventional "nobody" uid/gid: the
// unprivileged identity the process drops to once the listener is bound.
const UnprivilegedID = 65534

// DropPrivileges sets the process's group and user to UnprivilegedID,
// dropping root immediately after opening the listener and before
// entering the dispatcher. It is a no-op when not running as root,
// since there is nothing to drop.
//
// Group is set before user deliberately: once the uid changes, the
// process generally loses permission to call setgid.
func DropPrivileges() error {
	if os.Geteuid() != 0 {
		return nil
	}
	if err := unix.Setgid(UnprivilegedID); err != nil {
		return fmt.Errorf("%w: setgid: %v", ErrPrivilegeDropFailed, err)
	}
	if err := unix.Setuid(UnprivilegedID); err != nil {
		return fmt.Errorf("%w: setuid: %v", ErrPrivilegeDropFailed, err)
	}
	return nil
}
