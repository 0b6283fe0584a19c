package lifecycle

import (
	"net"
	"strconv"
)

// portInUse reports whether a listener cannot be opened on the loopback
// port the worker will bind.
func portInUse(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}
