package freeport

import (
	"errors"
	"fmt"
	"net"
)

// ErrExhausted is returned when the operating system will not hand out
// another port on the requested address.
var ErrExhausted = errors.New("no free port available")

// Triple is the set of ports one scenario needs: the proxy data port, the
// proxy control API port and the counting backend port. The three values
// are distinct.
type Triple struct {
	Proxy    int
	ProxyAPI int
	Backend  int
}

// FindFreePort finds an available TCP port on the specified address.
// If address is empty, it defaults to "127.0.0.1".
//
// Note: There is a small race window between closing the listener and
// another process binding to the same port. The backend covers this with
// its bind retry.
func FindFreePort(address string) (int, error) {
	ports, err := FindFreePorts(address, 1)
	if err != nil {
		return 0, err
	}
	return ports[0], nil
}

// FindFreePorts finds multiple available TCP ports on the specified address.
// All listeners are held open until every port has been picked, so the
// returned ports never repeat.
func FindFreePorts(address string, count int) ([]int, error) {
	if address == "" {
		address = "127.0.0.1"
	}

	listeners := make([]net.Listener, 0, count)
	ports := make([]int, 0, count)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	for i := 0; i < count; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(address, "0"))
		if err != nil {
			return nil, fmt.Errorf("finding free port %d of %d: %w: %w", i+1, count, ErrExhausted, err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}

	return ports, nil
}

// AllocateTriple picks the three ports for one scenario.
func AllocateTriple(address string) (Triple, error) {
	ports, err := FindFreePorts(address, 3)
	if err != nil {
		return Triple{}, err
	}
	return Triple{Proxy: ports[0], ProxyAPI: ports[1], Backend: ports[2]}, nil
}
