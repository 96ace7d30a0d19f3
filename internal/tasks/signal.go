package tasks

import "sync"

// Signal delivers stop requests from the pool to one running worker.
//
// Terminate asks for a graceful stop and Kill forces one. Both are idempotent.
type Signal struct {
	term     chan struct{}
	kill     chan struct{}
	termOnce sync.Once
	killOnce sync.Once
}

func NewSignal() *Signal {
	return &Signal{term: make(chan struct{}), kill: make(chan struct{})}
}

func (s *Signal) Terminate() { s.termOnce.Do(func() { close(s.term) }) }

// Kill implies Terminate.
func (s *Signal) Kill() {
	s.Terminate()
	s.killOnce.Do(func() { close(s.kill) })
}

func (s *Signal) TermC() <-chan struct{} { return s.term }

func (s *Signal) KillC() <-chan struct{} { return s.kill }

// Terminated reports whether a stop was requested.
func (s *Signal) Terminated() bool {
	select {
	case <-s.term:
		return true
	default:
		return false
	}
}
