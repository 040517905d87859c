package dns

import (
	"context"
	"net"
	"testing"
)

func TestLookupReturnsIPLiterals(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1"} {
		got, err := Lookup(context.Background(), host)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", host, err)
		}
		if got != host {
			t.Fatalf("Lookup(%q)=%q", host, got)
		}
	}
}

func TestPreferIPv4(t *testing.T) {
	got, err := preferIPv4([]string{"::1", "10.0.0.1"})
	if err != nil || got != "10.0.0.1" {
		t.Fatalf("preferIPv4=%q, %v", got, err)
	}
	got, err = preferIPv4([]string{"::1"})
	if err != nil || got != "::1" {
		t.Fatalf("preferIPv4=%q, %v", got, err)
	}
	if _, err := preferIPv4(nil); err == nil {
		t.Fatalf("expected error for empty list")
	}
}

func TestDialContextResolvesLiteral(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	conn.Close()
}
