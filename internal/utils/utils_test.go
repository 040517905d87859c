package utils

import (
	"net"
	"testing"
	"time"
)

func TestFormatTimeDuration(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Second:  "5s",
		90 * time.Second: "1m 30s",
		2*time.Hour + 3*time.Minute + 4*time.Second: "2h 3m 4s",
	}
	for d, want := range tests {
		if got := FormatTimeDuration(d); got != want {
			t.Errorf("FormatTimeDuration(%s)=%q, want %q", d, got, want)
		}
	}
}

func TestFormatLatency(t *testing.T) {
	if got := FormatLatency(42); got != "42 ms" {
		t.Errorf("FormatLatency(42)=%q", got)
	}
	if got := FormatLatency(1500); got != "1.50 s" {
		t.Errorf("FormatLatency(1500)=%q", got)
	}
	if got := FormatLatency(-7); got != "-7 ms" {
		t.Errorf("FormatLatency(-7)=%q", got)
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(60, 2*time.Second); got != "30.0 msg/s" {
		t.Errorf("FormatRate=%q", got)
	}
	if got := FormatRate(10, 0); got != "0.0 msg/s" {
		t.Errorf("FormatRate zero elapsed=%q", got)
	}
}

func TestIsCGNAT(t *testing.T) {
	if !IsCGNAT(net.ParseIP("100.100.1.1")) {
		t.Errorf("100.100.1.1 should be CGNAT")
	}
	if IsCGNAT(net.ParseIP("192.168.1.1")) || IsCGNAT(nil) {
		t.Errorf("private and nil addresses are not CGNAT")
	}
	if !isTunnelName("WG0") || isTunnelName("eth0") {
		t.Errorf("tunnel name heuristic wrong")
	}
}
