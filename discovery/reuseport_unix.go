//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReusePort sets SO_REUSEADDR (and SO_REUSEPORT where the platform
// supports it) on the raw socket before bind, so that two local node
// instances in the same process or two separate test processes can each
// listen on the announce port, matching the behavior the teacher's
// `reuseport` submodule provided for its broadcast/multicast sockets (its
// source was filtered out of the retrieval pack; this recreates the
// behavior directly against golang.org/x/sys/unix instead of assuming the
// submodule's API).
func controlReusePort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		// Best-effort: some unix variants reject SO_REUSEPORT on UDP sockets
		// bound to a specific address; ignore a failure here since
		// SO_REUSEADDR above already gives us the sharing behavior we need.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
