package fluxio

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

const resolvePollInterval = 10 * time.Millisecond

type resolveState struct {
	mu        sync.Mutex
	ready     bool
	canceled  boolFlag
	endpoints []Endpoint
	err       error
}

// AsyncResolve looks up host's IPv4 addresses for the given service
// (a numeric port or a service name net.LookupPort understands),
// offloading the blocking lookup to a worker goroutine and polling for
// its completion via AsyncSleep rather than blocking the calling
// goroutine on the DNS round trip. Grounded on
// original_source/src/runtime/resolver.cpp's worker-thread-plus-poll
// design, translated to a worker goroutine and a mutex-guarded result
// struct.
//
// Neither event loop holds a mutex; this resolver state is guarded by
// one, as are QueuedWriter and the async package's executor pool.
func AsyncResolve(ctx context.Context, host, service string, tok CancelToken) ([]Endpoint, error) {
	if tok.StopRequested() {
		return nil, ErrCanceled
	}

	state := &resolveState{}
	go resolveWorker(host, service, state)

	for {
		if tok.StopRequested() {
			state.canceled.setTrue()
			return nil, ErrCanceled
		}

		state.mu.Lock()
		ready := state.ready
		eps, err := state.endpoints, state.err
		state.mu.Unlock()
		if ready {
			return eps, err
		}

		if err := AsyncSleep(ctx, resolvePollInterval, tok); err != nil {
			return nil, err
		}
	}
}

func resolveWorker(host, service string, state *resolveState) {
	if state.canceled.get() {
		state.mu.Lock()
		state.err = ErrCanceled
		state.ready = true
		state.mu.Unlock()
		return
	}

	eps, err := resolveIPv4TCPEndpoints(host, service)

	state.mu.Lock()
	state.endpoints, state.err = eps, err
	state.ready = true
	state.mu.Unlock()
}

// resolveIPv4TCPEndpoints is the blocking half of AsyncResolve, run
// only on the worker goroutine. It uses net.DefaultResolver rather
// than shelling out to getaddrinfo directly, since that is the
// idiomatic Go equivalent and (unlike a raw cgo getaddrinfo call) plays
// correctly with Go's own goroutine scheduler.
func resolveIPv4TCPEndpoints(host, service string) ([]Endpoint, error) {
	port, err := resolvePort(service)
	if err != nil {
		return nil, err
	}

	addrs, err := net.DefaultResolver.LookupIP(context.Background(), "ip4", host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return nil, ErrNotFound
		}
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsTimeout {
			return nil, ErrTimedOut
		}
		return nil, ErrHostUnreachable
	}

	endpoints := make([]Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		v4 := addr.To4()
		if v4 == nil {
			continue
		}
		endpoints = append(endpoints, Endpoint{IP: IPv4(v4), Port: port})
	}
	if len(endpoints) == 0 {
		return nil, ErrNotFound
	}
	return endpoints, nil
}

func resolvePort(service string) (uint16, error) {
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return 0, ErrInvalid
	}
	return uint16(port), nil
}
