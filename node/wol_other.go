//go:build !unix

package node

import "syscall"

func broadcastControl(network, address string, c syscall.RawConn) error {
	return nil
}
