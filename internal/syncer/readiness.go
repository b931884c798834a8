package syncer

import (
	"fmt"
	"sync"

	"github.com/agentic-research/cominavi/internal/download"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

// State is the coarse phase of a sync run.
type State int

const (
	Uninitialized State = iota
	Downloading
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Downloading:
		return "downloading"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Readiness is the observable status of an Orchestrator. Progress is set
// while Downloading, Stage while Initializing, Message and Code once Failed.
type Readiness struct {
	State    State               `json:"state"`
	Progress *download.Aggregate `json:"progress,omitempty"`
	Fraction float64             `json:"fraction,omitempty"`
	Stage    string              `json:"stage,omitempty"`
	Message  string              `json:"message,omitempty"`
	Code     syncerr.Code        `json:"code,omitempty"`
}

// Terminal reports whether no further transitions will follow.
func (r Readiness) Terminal() bool {
	return r.State == Ready || r.State == Failed
}

func (r Readiness) String() string {
	switch r.State {
	case Downloading:
		if r.Progress != nil {
			return fmt.Sprintf("downloading %.1f%% (%d/%d bytes)",
				r.Fraction*100, r.Progress.CompletedBytes(), r.Progress.TotalBytes())
		}
		return "downloading"
	case Initializing:
		return "initializing: " + r.Stage
	case Failed:
		return fmt.Sprintf("error [%s]: %s", r.Code, r.Message)
	}
	return r.State.String()
}

func downloadingState(a download.Aggregate) Readiness {
	return Readiness{State: Downloading, Progress: &a, Fraction: a.FractionCompleted()}
}

func initializingState(stage string) Readiness {
	return Readiness{State: Initializing, Stage: stage}
}

func failedState(err error) Readiness {
	return Readiness{State: Failed, Message: err.Error(), Code: syncerr.Classify(err)}
}

// Broadcaster holds the current Readiness and fans every published value out
// to subscribers. All callbacks run on one dispatcher goroutine, in
// publication order, whichever goroutine published.
type Broadcaster struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current Readiness
	subs    map[uint64]func(Readiness)
	nextID  uint64
	queue   []delivery
	closed  bool
	done    chan struct{}
}

type delivery struct {
	value Readiness
	to    []uint64
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subs: make(map[uint64]func(Readiness)),
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// Current returns the latest published value.
func (b *Broadcaster) Current() Readiness {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish replaces the current value and queues it for every subscriber.
func (b *Broadcaster) Publish(r Readiness) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = r
	if b.closed || len(b.subs) == 0 {
		return
	}
	to := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		to = append(to, id)
	}
	b.queue = append(b.queue, delivery{value: r, to: to})
	b.cond.Signal()
}

// Subscribe registers fn and queues the current value for it, so fn first
// sees the state at subscription time and then every later change. The
// returned func unsubscribes; pending deliveries to fn are dropped.
func (b *Broadcaster) Subscribe(fn func(Readiness)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.closed {
		return func() {}
	}
	b.subs[id] = fn
	b.queue = append(b.queue, delivery{value: b.current, to: []uint64{id}})
	b.cond.Signal()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Close drains queued deliveries and stops the dispatcher. It must not be
// called from a subscriber callback.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.cond.Signal()
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Broadcaster) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		fns := make([]func(Readiness), 0, len(d.to))
		for _, id := range d.to {
			if fn, ok := b.subs[id]; ok {
				fns = append(fns, fn)
			}
		}
		b.mu.Unlock()

		for _, fn := range fns {
			fn(d.value)
		}
	}
}
