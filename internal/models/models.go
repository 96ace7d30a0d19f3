package models

import (
	"fmt"
)

// SessionState is the top-level state of a backup session.
type SessionState int

const (
	Stopped SessionState = iota
	Running
	Paused
)

var sessionStateNames = map[SessionState]string{
	Stopped: "stopped",
	Running: "running",
	Paused:  "paused",
}

func (s SessionState) String() string { return sessionStateNames[s] }

// MarshalText implements [encoding.TextMarshaler] using the canonical wire name.
func (s SessionState) MarshalText() ([]byte, error) { return marshalEnum(sessionStateNames, s) }

// UnmarshalText implements [encoding.TextUnmarshaler] for the canonical wire name.
func (s *SessionState) UnmarshalText(b []byte) error { return unmarshalEnum(sessionStateNames, s, b) }

// ParseSessionState parses the canonical wire name of a [SessionState].
func ParseSessionState(name string) (SessionState, error) {
	var s SessionState
	err := s.UnmarshalText([]byte(name))
	return s, err
}

// DirectoryStatus is the lifecycle status of one directory unit.
//
// Allowed edges: Pending→Queued→InProgress→{Completed, Error, Skipped}, plus Error→Queued on retry.
type DirectoryStatus int

const (
	Pending DirectoryStatus = iota
	Queued
	InProgress
	Completed
	Error
	Skipped
)

var directoryStatusNames = map[DirectoryStatus]string{
	Pending:    "pending",
	Queued:     "queued",
	InProgress: "in_progress",
	Completed:  "completed",
	Error:      "error",
	Skipped:    "skipped",
}

func (s DirectoryStatus) String() string { return directoryStatusNames[s] }

func (s DirectoryStatus) MarshalText() ([]byte, error) { return marshalEnum(directoryStatusNames, s) }

func (s *DirectoryStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(directoryStatusNames, s, b)
}

// Terminal reports whether no worker will touch a directory in this status again without a retry.
func (s DirectoryStatus) Terminal() bool {
	return s == Completed || s == Error || s == Skipped
}

// CanTransition reports whether s→to is an allowed edge.
func (s DirectoryStatus) CanTransition(to DirectoryStatus) bool {
	switch s {
	case Pending:
		return to == Queued
	case Queued:
		return to == InProgress
	case InProgress:
		return to == Completed || to == Error || to == Skipped
	case Error:
		return to == Queued
	default:
		return false
	}
}

// Order selects how directories are listed and tie-broken in the queue.
type Order int

const (
	OrderName Order = iota // name, descending
	OrderSize              // size, descending
)

var orderNames = map[Order]string{
	OrderName: "name",
	OrderSize: "size",
}

func (o Order) String() string { return orderNames[o] }

func (o Order) MarshalText() ([]byte, error) { return marshalEnum(orderNames, o) }

func (o *Order) UnmarshalText(b []byte) error { return unmarshalEnum(orderNames, o, b) }

// ParseOrder parses "name" or "size"; the empty string is [OrderName].
func ParseOrder(name string) (Order, error) {
	if name == "" {
		return OrderName, nil
	}
	var o Order
	err := o.UnmarshalText([]byte(name))
	return o, err
}

// SlotState is the state of one worker slot in the pool arena.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotBusy
	SlotDraining // busy, retires when its task ends
	SlotRetired
)

var slotStateNames = map[SlotState]string{
	SlotIdle:     "idle",
	SlotBusy:     "busy",
	SlotDraining: "draining",
	SlotRetired:  "retired",
}

func (s SlotState) String() string { return slotStateNames[s] }

func (s SlotState) MarshalText() ([]byte, error) { return marshalEnum(slotStateNames, s) }

func (s *SlotState) UnmarshalText(b []byte) error { return unmarshalEnum(slotStateNames, s, b) }

// Live reports whether the slot counts toward the pool size. Draining slots do not.
func (s SlotState) Live() bool { return s == SlotIdle || s == SlotBusy }

// SummaryStatus is the outcome recorded in backup history.
type SummaryStatus int

const (
	SummaryCompleted SummaryStatus = iota
	SummaryCompletedWithErrors
	SummaryStopped
)

var summaryStatusNames = map[SummaryStatus]string{
	SummaryCompleted:           "completed",
	SummaryCompletedWithErrors: "completed_with_errors",
	SummaryStopped:             "stopped",
}

func (s SummaryStatus) String() string { return summaryStatusNames[s] }

func (s SummaryStatus) MarshalText() ([]byte, error) { return marshalEnum(summaryStatusNames, s) }

func (s *SummaryStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(summaryStatusNames, s, b)
}

func marshalEnum[E comparable](names map[E]string, v E) ([]byte, error) {
	name, ok := names[v]
	if !ok {
		return nil, fmt.Errorf("unknown enum value %#v", v)
	}
	return []byte(name), nil
}

func unmarshalEnum[E comparable](names map[E]string, dst *E, b []byte) error {
	for v, name := range names {
		if name == string(b) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown value %q", string(b))
}
