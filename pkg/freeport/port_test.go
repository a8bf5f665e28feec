package freeport

import (
	"errors"
	"net"
	"strconv"
	"testing"
)

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort("")
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("FindFreePort() = %d, want a valid port", port)
	}

	// The port must be bindable again once released
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("port %d not reusable: %v", port, err)
	}
	l.Close()
}

func TestFindFreePorts_Distinct(t *testing.T) {
	ports, err := FindFreePorts("127.0.0.1", 8)
	if err != nil {
		t.Fatalf("FindFreePorts() error = %v", err)
	}
	if len(ports) != 8 {
		t.Fatalf("got %d ports, want 8", len(ports))
	}

	seen := make(map[int]bool)
	for _, p := range ports {
		if seen[p] {
			t.Errorf("port %d returned twice", p)
		}
		seen[p] = true
	}
}

func TestAllocateTriple(t *testing.T) {
	tr, err := AllocateTriple("")
	if err != nil {
		t.Fatalf("AllocateTriple() error = %v", err)
	}
	if tr.Proxy == tr.ProxyAPI || tr.Proxy == tr.Backend || tr.ProxyAPI == tr.Backend {
		t.Errorf("AllocateTriple() = %+v, want three distinct ports", tr)
	}
}

func TestFindFreePorts_BadAddress(t *testing.T) {
	// TEST-NET-1 is never assigned to a local interface
	_, err := FindFreePorts("192.0.2.1", 1)
	if err == nil {
		t.Fatal("expected error for non-local address")
	}
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("error = %v, want ErrExhausted", err)
	}
}
