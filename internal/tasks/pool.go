package tasks

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

type slot struct {
	id    int
	state models.SlotState
	task  *Task
	sig   *Signal
}

// PoolOpts configures a [Pool].
type PoolOpts struct {
	Min     int
	Max     int
	Initial int
	Logger  *log.Logger
}

// Pool runs queued tasks on a resizable arena of worker slots.
//
// Slots are addressed by id and never removed from the arena: a retired slot can be revived.
// The mutex guards bookkeeping only; transfers run in their own goroutines.
// Every event is handed to post, which must not block.
type Pool struct {
	runner Runner
	post   func(Event)
	ctx    context.Context
	logger *log.Logger

	mu     sync.Mutex
	min    int
	max    int
	slots  []*slot
	queue  taskQueue
	queued map[string]*queueItem
	bound  map[string]int
	order  map[string]int
	paused bool

	wg sync.WaitGroup
}

// NewPool creates a paused pool with opts.Initial idle slots (at least Min).
//
// ctx is the parent of every transfer; cancelling it terminates them.
func NewPool(ctx context.Context, runner Runner, post func(Event), opts PoolOpts) *Pool {
	if opts.Min < 1 {
		opts.Min = 1
	}
	if opts.Max < opts.Min {
		opts.Max = opts.Min
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	p := &Pool{
		runner: runner,
		post:   post,
		ctx:    ctx,
		logger: shared.WithLogger(opts.Logger, "component", "pool"),
		min:    opts.Min,
		max:    opts.Max,
		queued: make(map[string]*queueItem),
		bound:  make(map[string]int),
		order:  make(map[string]int),
		paused: true,
	}
	p.Rescale(max(opts.Initial, opts.Min))
	return p
}

// Enqueue adds tasks that are neither queued nor running and returns how many were added.
func (p *Pool) Enqueue(tasks ...Task) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, t := range tasks {
		if _, ok := p.queued[t.Name]; ok {
			continue
		}
		if _, ok := p.bound[t.Name]; ok {
			continue
		}
		if t.Priority == 0 {
			t.Priority = Priority(t.Size)
		}
		if idx, ok := p.order[t.Name]; ok {
			t.Index = idx
		}
		item := &queueItem{task: t}
		heap.Push(&p.queue, item)
		p.queued[t.Name] = item
		added++
	}
	p.dispatch()
	return added
}

// Remove drops a queued task. Running tasks are unaffected.
func (p *Pool) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.queued[name]
	if !ok {
		return false
	}
	heap.Remove(&p.queue, item.index)
	delete(p.queued, name)
	return true
}

// Reorder replaces the tie-break order of queued and future tasks.
func (p *Pool) Reorder(index map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.order = make(map[string]int, len(index))
	for name, i := range index {
		p.order[name] = i
	}
	for _, item := range p.queue {
		if i, ok := p.order[item.task.Name]; ok {
			item.task.Index = i
		}
	}
	heap.Init(&p.queue)
}

// Pause stops dispatching; running transfers continue.
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume restarts dispatching.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.dispatch()
}

// SetBounds replaces the slot bounds and rescales the live count into them.
func (p *Pool) SetBounds(lo, hi int) int {
	p.mu.Lock()
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	p.min, p.max = lo, hi
	live := p.liveLocked()
	p.mu.Unlock()
	return p.Rescale(live)
}

// Rescale sets the number of live slots, clamped to the bounds, and returns the new count.
//
// Growing revives draining slots, then retired ones, then appends new slots.
// Shrinking retires idle slots and marks busy ones draining; a draining slot retires when its task ends.
func (p *Pool) Rescale(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n = min(max(n, p.min), p.max)
	live := p.liveLocked()

	for _, s := range p.slots {
		if live >= n {
			break
		}
		if s.state == models.SlotDraining {
			s.state = models.SlotBusy
			live++
		}
	}
	for _, s := range p.slots {
		if live >= n {
			break
		}
		if s.state == models.SlotRetired {
			s.state = models.SlotIdle
			live++
		}
	}
	for live < n {
		p.slots = append(p.slots, &slot{id: len(p.slots), state: models.SlotIdle})
		live++
	}

	for i := len(p.slots) - 1; i >= 0 && live > n; i-- {
		if s := p.slots[i]; s.state == models.SlotIdle {
			s.state = models.SlotRetired
			live--
		}
	}
	for i := len(p.slots) - 1; i >= 0 && live > n; i-- {
		if s := p.slots[i]; s.state == models.SlotBusy {
			s.state = models.SlotDraining
			live--
		}
	}

	p.dispatch()
	return live
}

// StopAll drops the queue, terminates every running transfer and waits for all of them to return.
//
// Transfers still running after grace, or after ctx ends, are killed. The pool is left paused.
// The names of dropped queued tasks are returned.
func (p *Pool) StopAll(ctx context.Context, grace time.Duration) []string {
	p.mu.Lock()
	p.paused = true
	dropped := make([]string, 0, len(p.queue))
	for _, item := range p.queue {
		dropped = append(dropped, item.task.Name)
	}
	p.queue = nil
	p.queued = make(map[string]*queueItem)
	sigs := p.signalsLocked()
	p.mu.Unlock()

	for _, s := range sigs {
		s.Terminate()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return dropped
	case <-timer.C:
		p.logger.Warn("grace period elapsed, killing transfers", "grace", grace)
	case <-ctx.Done():
		p.logger.Warn("stop interrupted, killing transfers", "err", ctx.Err())
	}

	p.mu.Lock()
	sigs = p.signalsLocked()
	p.mu.Unlock()
	for _, s := range sigs {
		s.Kill()
	}
	<-done
	return dropped
}

// Wait blocks until every transfer goroutine has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Slots returns the live slots for status output.
func (p *Pool) Slots() []models.SlotView {
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]models.SlotView, 0, len(p.slots))
	for _, s := range p.slots {
		if s.state == models.SlotRetired {
			continue
		}
		v := models.SlotView{ID: s.id, State: s.state}
		if s.task != nil {
			v.Directory = s.task.Name
			v.Attempt = s.task.Attempt
		}
		views = append(views, v)
	}
	return views
}

// Live returns the number of idle and busy slots.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveLocked()
}

// QueueLen returns the number of tasks waiting for a slot.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Tracked reports whether name is queued or running.
func (p *Pool) Tracked(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, q := p.queued[name]
	_, b := p.bound[name]
	return q || b
}

func (p *Pool) liveLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.state.Live() {
			n++
		}
	}
	return n
}

func (p *Pool) signalsLocked() []*Signal {
	var sigs []*Signal
	for _, s := range p.slots {
		if s.sig != nil {
			sigs = append(sigs, s.sig)
		}
	}
	return sigs
}

// dispatch binds queued tasks to idle slots, highest priority first. Callers hold mu.
func (p *Pool) dispatch() {
	if p.paused {
		return
	}
	for _, s := range p.slots {
		if len(p.queue) == 0 {
			return
		}
		if s.state != models.SlotIdle {
			continue
		}

		item := heap.Pop(&p.queue).(*queueItem)
		delete(p.queued, item.task.Name)
		t := item.task

		s.state = models.SlotBusy
		s.task = &t
		s.sig = NewSignal()
		p.bound[t.Name] = s.id

		p.post(dispatchedEvent(s.id, t))
		p.logger.Debug("dispatched", "directory", t.Name, "slot", s.id, "priority", t.Priority)

		p.wg.Add(1)
		go p.work(s.id, t, s.sig)
	}
}

func (p *Pool) work(id int, t Task, sig *Signal) {
	defer p.wg.Done()

	ev := p.runner.Run(p.ctx, t, sig, func(e Event) {
		e.Slot = id
		p.post(e)
	})
	ev.Kind = EventFinished
	ev.Slot = id
	ev.Directory = t.Name

	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.slots[id]
	if s.state == models.SlotDraining {
		s.state = models.SlotRetired
	} else {
		s.state = models.SlotIdle
	}
	s.task = nil
	s.sig = nil
	delete(p.bound, t.Name)

	p.post(ev)
	p.dispatch()
}

type queueItem struct {
	task  Task
	index int
}

// taskQueue is a max-heap on priority with the display order index as tie-break.
type taskQueue []*queueItem

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	a, b := q[i].task, q[j].task
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Name < b.Name
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
