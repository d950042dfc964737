// Package events is a typed publish/subscribe bus that keeps independent
// observers of the analysis engine consistent.
//
// Delivery is synchronous: Publish returns after every handler has run, on
// the publishing goroutine, in subscription order. Deliveries from different
// goroutines are serialized by a delivery lock. A handler that publishes
// does not re-enter delivery; its event is delivered by the same goroutine
// once the current one has reached every handler. Unsubscribe waits for a
// delivery running on another goroutine, so no handler runs after its
// Unsubscribe returns.
//
// A handler must not block on another goroutine that publishes or
// unsubscribes on the same bus.
package events

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// Scheduler runs f later, never before returning.
type Scheduler func(f func())

// Subscription is a registered handler.
type Subscription struct {
	bus     *Bus
	kind    Kind
	handler func(Event)

	active   atomic.Bool
	sawLive  atomic.Bool
	replayed atomic.Bool
}

// Unsubscribe stops delivery. When it returns the handler is not running on
// another goroutine and will not be invoked again. Calling it more than once
// is a no-op.
func (s *Subscription) Unsubscribe() {
	if !s.active.Swap(false) {
		return
	}
	s.bus.remove(s)
	if s.bus.owner.Load() != goid() {
		s.bus.deliver.Lock()
		s.bus.deliver.Unlock()
	}
}

type delivery struct {
	event   Event // nil for a selection replay
	targets []*Subscription
}

// Bus routes events to subscribers.
type Bus struct {
	schedule Scheduler

	// deliver is held by the goroutine running handlers; owner is its id.
	deliver sync.Mutex
	owner   atomic.Int64

	mu        sync.Mutex
	subs      map[Kind][]*Subscription
	selection *model.Requirement
	queue     []delivery // publishes made by handlers, delivered by owner
}

// Option configures a Bus.
type Option func(*Bus)

// WithScheduler overrides how selection replays are deferred.
func WithScheduler(s Scheduler) Option {
	return func(b *Bus) { b.schedule = s }
}

// New creates a bus. Replays run on a new goroutine unless a scheduler is
// supplied.
func New(opts ...Option) *Bus {
	b := &Bus{
		schedule: func(f func()) { go f() },
		subs:     make(map[Kind][]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for events of type T. Subscribing to
// RequirementSelected while a selection exists schedules a single replay of
// the current selection; it is never delivered during Subscribe.
func Subscribe[T Event](b *Bus, fn func(T)) *Subscription {
	var zero T
	sub := &Subscription{
		bus:     b,
		kind:    zero.Kind(),
		handler: func(ev Event) { fn(ev.(T)) },
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs[sub.kind] = append(b.subs[sub.kind], sub)
	replay := sub.kind == KindRequirementSelected && b.selection != nil
	b.mu.Unlock()

	if replay {
		b.schedule(func() { b.dispatch(nil, sub) })
	}
	return sub
}

// Publish delivers ev to every subscription registered before delivery
// starts and returns once they have all run. Called from a handler, it
// returns immediately and ev follows the event being delivered.
func Publish[T Event](b *Bus, ev T) {
	if s, ok := any(&ev).(stamper); ok {
		s.stamp()
	}
	b.dispatch(ev, nil)
}

// Selection returns the most recently published selection, or nil.
func (b *Bus) Selection() *model.Requirement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selection
}

// Subscribers returns the number of live subscriptions for a kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

// dispatch delivers ev, or a selection replay to sub when ev is nil.
func (b *Bus) dispatch(ev Event, sub *Subscription) {
	id := goid()
	if b.owner.Load() == id {
		b.mu.Lock()
		b.queue = append(b.queue, b.prepareLocked(ev, sub))
		b.mu.Unlock()
		return
	}

	b.deliver.Lock()
	b.owner.Store(id)
	defer func() {
		b.owner.Store(0)
		b.deliver.Unlock()
	}()

	b.mu.Lock()
	d := b.prepareLocked(ev, sub)
	b.mu.Unlock()
	for {
		b.run(d)

		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		d = b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		b.mu.Unlock()
	}
}

// prepareLocked records a published selection and snapshots the targets.
func (b *Bus) prepareLocked(ev Event, sub *Subscription) delivery {
	if ev == nil {
		return delivery{targets: []*Subscription{sub}}
	}
	if sel, ok := ev.(RequirementSelected); ok {
		b.selection = sel.Requirement
	}
	return delivery{event: ev, targets: append([]*Subscription(nil), b.subs[ev.Kind()]...)}
}

func (b *Bus) run(d delivery) {
	if d.event == nil {
		b.replay(d.targets[0])
		return
	}
	for _, sub := range d.targets {
		if !sub.active.Load() {
			continue
		}
		if sub.kind == KindRequirementSelected {
			sub.sawLive.Store(true)
		}
		b.invoke(sub, d.event)
	}
}

func (b *Bus) replay(sub *Subscription) {
	if !sub.active.Load() || sub.sawLive.Load() || sub.replayed.Swap(true) {
		return
	}
	sel := b.Selection()
	if sel == nil {
		return
	}
	ev := RequirementSelected{Requirement: sel, Replay: true}
	ev.stamp()
	b.invoke(sub, ev)
}

func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("handler for %s panicked: %v", ev.Kind(), r)
		}
	}()
	sub.handler(ev)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.kind]
	for i, s := range list {
		if s == sub {
			b.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// goid returns the id of the calling goroutine, parsed from the first line
// of its stack trace ("goroutine 18 [running]:").
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
