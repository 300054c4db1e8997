package fluxio

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// IPv4 is a dotted-quad address in network byte order: IPv4[0] is the
// most significant octet. The zero value is 0.0.0.0.
type IPv4 [4]byte

func (ip IPv4) isZero() bool { return ip == IPv4{} }

func (ip IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// ParseIPv4 parses a dotted-quad string. It rejects IPv6 literals and
// anything else outside the spec's IPv4-only scope.
func ParseIPv4(s string) (IPv4, error) {
	var ip IPv4
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ip, fmt.Errorf("fluxio: %q is not a dotted-quad IPv4 address", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return ip, fmt.Errorf("fluxio: %q is not a dotted-quad IPv4 address", s)
		}
		ip[i] = byte(n)
	}
	return ip, nil
}

// Endpoint is the wire form of a peer: an IPv4 host plus a port. This
// is the only address shape the runtime understands; named hosts are
// resolved to their IPv4 Endpoint values before use (see AsyncResolve
// in resolver.go), and IPv6 addresses are not supported.
type Endpoint struct {
	IP   IPv4
	Port uint16
}

// LoopbackEndpoint returns 127.0.0.1:port.
func LoopbackEndpoint(port uint16) Endpoint {
	return Endpoint{IP: IPv4{127, 0, 0, 1}, Port: port}
}

// AnyEndpoint returns 0.0.0.0:port, suitable for binding a listener to
// every local interface.
func AnyEndpoint(port uint16) Endpoint {
	return Endpoint{IP: IPv4{0, 0, 0, 0}, Port: port}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP.String(), e.Port)
}

// ParseEndpoint parses an "a.b.c.d:port" string.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return Endpoint{}, fmt.Errorf("fluxio: %q is missing a port", s)
	}
	ip, err := ParseIPv4(s[:idx])
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("fluxio: %q has an invalid port: %w", s, err)
	}
	return Endpoint{IP: ip, Port: uint16(port)}, nil
}

func (e Endpoint) sockaddr() *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(e.Port)}
	sa.Addr = e.IP
	return sa
}

func endpointFromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return Endpoint{}, fmt.Errorf("fluxio: unsupported socket address %T", sa)
	}
	return Endpoint{IP: IPv4(sa4.Addr), Port: uint16(sa4.Port)}, nil
}
