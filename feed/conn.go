package feed

import "sync/atomic"

// ConnState tracks an adapter's transport lifecycle with atomic transitions
// so reader goroutines and the HTTP layer can inspect it without locks.
type ConnState struct {
	v atomic.Value
}

func NewConnState() *ConnState {
	s := &ConnState{}
	s.v.Store(StateDisconnected)
	return s
}

func (s *ConnState) Get() State {
	return s.v.Load().(State)
}

func (s *ConnState) Set(state State) {
	s.v.Store(state)
}

// Connected reports whether the transport is currently established.
func (s *ConnState) Connected() bool {
	return s.Get() == StateConnected
}
