package server

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

func TestAllowed(t *testing.T) {
	prefixes := []netip.Prefix{
		netip.MustParsePrefix("149.154.160.0/20"),
		netip.MustParsePrefix("91.108.4.0/22"),
	}
	cases := map[string]bool{
		"149.154.167.220:443":        true,
		"91.108.6.66:5000":           true,
		"91.108.8.1:5000":            false,
		"203.0.113.7:1234":           false,
		"[::ffff:149.154.160.1]:443": true,
		"[2001:db8::1]:443":          false,
	}
	for in, want := range cases {
		addr, err := net.ResolveTCPAddr("tcp", in)
		if err != nil {
			t.Fatalf("resolve %s: %v", in, err)
		}
		if got := allowed(addr, prefixes); got != want {
			t.Errorf("allowed(%s) = %v, want %v", in, got, want)
		}
	}
}

func acceptOne(t *testing.T, prefixes []netip.Prefix) (accepted bool) {
	t.Helper()
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln := newAllowlistListener(raw, prefixes)
	defer ln.Close()

	got := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			got <- c
		}
	}()

	conn, err := net.Dial("tcp", raw.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	select {
	case c := <-got:
		c.Close()
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

func TestAllowlistListener(t *testing.T) {
	if !acceptOne(t, []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}) {
		t.Error("loopback connection should be accepted")
	}
	if acceptOne(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}) {
		t.Error("loopback connection should be rejected")
	}
}
