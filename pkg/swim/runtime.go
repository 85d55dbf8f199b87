package swim

import (
	"time"

	"github.com/criticalstack/swimkv/pkg/identity"
)

// TimerKind discriminates the events the Engine schedules with itself
// through Runtime.SubmitAfter.
type TimerKind int

const (
	// TimerProbeTick fires once per ProbePeriod to start a new probe
	// round against a randomly chosen member.
	TimerProbeTick TimerKind = iota
	// TimerProbeTimeout fires ProbeTimeout after a direct ping; if no
	// ack arrived by then the target is escalated to indirect probing.
	TimerProbeTimeout
	// TimerSuspectTimeout fires SuspicionTimeout after a member is
	// marked suspect; if it hasn't recovered by then it is declared down.
	TimerSuspectTimeout
)

// Timer is a previously scheduled event re-injected into the Engine.
type Timer struct {
	Kind   TimerKind
	Target identity.ID
}

// NotificationKind discriminates the membership events the Engine
// reports up to its owner.
type NotificationKind int

const (
	NotifyMemberUp NotificationKind = iota
	NotifyMemberDown
	NotifyIdle
)

// Notification is a membership event pushed onto the accumulating
// runtime during a single Engine call.
type Notification struct {
	Kind NotificationKind
	ID   identity.ID
}

// Runtime is the side-effect sink the Engine pushes to during a single
// HandleData/HandleTimer/Announce call. It mirrors the three-method
// contract (notify/send_to/submit_after) spec.md treats as an external
// collaborator: a per-step scratchpad drained deterministically by
// whatever owns the Engine (the Runtime Actor, pkg/runtime).
type Runtime interface {
	Notify(Notification)
	SendTo(to identity.ID, data []byte)
	SubmitAfter(after time.Duration, t Timer)
}

type sendItem struct {
	To   identity.ID
	Data []byte
}

type scheduleItem struct {
	After time.Duration
	Timer Timer
}

// AccumulatingRuntime buffers one step's side-effects. The Engine never
// performs I/O or scheduling itself; it only ever talks to a Runtime.
// Popping is FIFO here (order doesn't matter per spec: side-effects
// within one step are independent of each other).
type AccumulatingRuntime struct {
	toSend        []sendItem
	toSchedule    []scheduleItem
	notifications []Notification
}

func NewAccumulatingRuntime() *AccumulatingRuntime {
	return &AccumulatingRuntime{}
}

func (r *AccumulatingRuntime) Notify(n Notification) {
	r.notifications = append(r.notifications, n)
}

func (r *AccumulatingRuntime) SendTo(to identity.ID, data []byte) {
	r.toSend = append(r.toSend, sendItem{To: to, Data: data})
}

func (r *AccumulatingRuntime) SubmitAfter(after time.Duration, t Timer) {
	r.toSchedule = append(r.toSchedule, scheduleItem{After: after, Timer: t})
}

// Backlog reports how many side-effects are currently buffered. The
// owner asserts this is zero before dispatching the next command (the
// per-step drain invariant, spec.md §8).
func (r *AccumulatingRuntime) Backlog() int {
	return len(r.toSend) + len(r.toSchedule) + len(r.notifications)
}

// DrainSend removes and returns all buffered outbound datagrams.
func (r *AccumulatingRuntime) DrainSend() []sendItem {
	items := r.toSend
	r.toSend = nil
	return items
}

// DrainSchedule removes and returns all buffered timer submissions.
func (r *AccumulatingRuntime) DrainSchedule() []scheduleItem {
	items := r.toSchedule
	r.toSchedule = nil
	return items
}

// DrainNotifications removes and returns all buffered notifications.
func (r *AccumulatingRuntime) DrainNotifications() []Notification {
	items := r.notifications
	r.notifications = nil
	return items
}
