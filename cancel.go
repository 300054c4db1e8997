package fluxio

import "sync/atomic"

// CancelSource owns the cancellation state for a task tree. The zero
// value is ready to use and starts out not cancelled.
type CancelSource struct {
	flag atomic.Bool
}

// RequestStop transitions the source to cancelled. Idempotent.
func (s *CancelSource) RequestStop() {
	s.flag.Store(true)
}

// Token returns a read-only view of this source.
func (s *CancelSource) Token() CancelToken {
	return CancelToken{flag: &s.flag}
}

// CancelToken is a cheap, copyable, read-only view of a CancelSource.
// The zero value never cancels.
type CancelToken struct {
	flag *atomic.Bool
}

// StopRequested reports whether the backing source has been cancelled.
func (t CancelToken) StopRequested() bool {
	return t.flag != nil && t.flag.Load()
}
