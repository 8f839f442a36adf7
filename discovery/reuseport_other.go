//go:build !unix

package discovery

import "syscall"

// controlReusePort is a no-op on non-unix platforms; two local instances
// binding the same discovery port will simply fail to both listen, which
// only affects multi-instance-per-process testing, not normal operation.
func controlReusePort(network, address string, c syscall.RawConn) error {
	return nil
}
