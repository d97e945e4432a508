// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package eventbus implements the pub/sub half of corebus (spec §4.5):
// global and per-sender subscription spaces, synchronous and queued
// delivery, copy-on-write subscription lists, lazy garbage collection of
// dead subscribers, and a single worker goroutine draining the queued
// tasks.
//
// Subscribers and senders are held by weak reference so subscribing never
// extends their lifetime. This package uses the standard library's "weak"
// package (weak.Pointer[T]) for that — the Go-native realization of the
// source design's "weak identity equality" note (spec §9): two
// weak.Pointer[T] values compare equal iff they observe the same object,
// which is exactly the property a type-erased map key needs.
package eventbus

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/hashicorp/go-hclog"

	"github.com/componentbus/corebus/ident"
)

// Event is any value whose type carries a compile-time event id and a
// diagnostic name (spec §3). Delivered as a shared, immutable value so
// every subscriber of one Fire call sees the same instance.
type Event interface {
	EventID() ident.EventId
	Name() string
}

// Mode selects synchronous or queued delivery for a subscription (spec §3).
type Mode int

const (
	// Sync delivers the callback on the calling goroutine, before Fire
	// returns.
	Sync Mode = iota
	// Queued enqueues the callback for the bus's single worker goroutine.
	Queued
)

func (m Mode) String() string {
	if m == Queued {
		return "queued"
	}
	return "sync"
}

// TracePoint identifies one of the diagnostic points the tracing hook is
// invoked at (spec §4.5).
type TracePoint int

const (
	TraceEventFired TracePoint = iota
	TraceSyncCallStart
	TraceTaskEnqueued
	TraceTaskExecuteStart
	TraceTaskExecuteEnd
	// TraceTaskDropped fires when a queued task is dropped for queue
	// overflow (spec §6: "the drop is visible to the tracing hook"). The
	// reference implementation's queue is unbounded and has no equivalent
	// trace point; this one is specific to this bounded-channel rendition.
	TraceTaskDropped
)

// TraceHook is an optional diagnostics callback. It must not panic; any
// panic is caught and dropped silently (spec §7).
type TraceHook func(point TracePoint, eventID ident.EventId, name string)

// OOBHandler is the host-installed out-of-band exception sink (spec §4.5,
// §7): invoked for synchronous-delivery failures, queued-task failures,
// and plugin shutdown-hook failures. Must be safe to call from any
// goroutine.
type OOBHandler func(err error)

// subscription is one entry in a CoW subscription list. It is immutable
// once constructed; disconnect only ever flips active, never mutates the
// struct itself.
type subscription struct {
	subscriberKey any // a weak.Pointer[S] boxed in an interface; comparable
	alive         func() bool
	senderKey     any // nil for global subscriptions
	callback      func(Event)
	mode          Mode
	active        *atomic.Bool
}

type senderEventKey struct {
	sender  any
	eventID ident.EventId
}

// Connection is the handle Subscribe returns (spec §3). Disconnect is
// idempotent and safe to call at any time, including after the subscriber
// has been garbage collected.
type Connection struct {
	bus       *Bus
	eventID   ident.EventId
	subKey    any
	senderKey any // nil for global
	active    *atomic.Bool
}

// Disconnect flips the connection's active token from true to false. A
// second or later call is a no-op (spec §8 "disconnect is idempotent").
// Once this call returns, no future Fire will invoke the callback; an
// in-flight synchronous callback already running on another goroutine
// completes normally (spec §9 Open Question #1 — this package never
// blocks the disconnecting caller).
func (c *Connection) Disconnect() {
	if !c.active.CompareAndSwap(true, false) {
		return
	}
	c.bus.unsubscribeOne(c.eventID, c.subKey, c.senderKey)
}

// NewScoped wraps conn in a handle that calls Disconnect when it is
// garbage collected, approximating the source's RAII ScopedConnection
// (spec §3). It is a safety net, not a substitute for an explicit
// Disconnect/defer in code that knows its own lifetime.
func NewScoped(conn *Connection) *ScopedConnection {
	sc := &ScopedConnection{conn: conn}
	runtime.AddCleanup(sc, func(c *Connection) { c.Disconnect() }, conn)
	return sc
}

// ScopedConnection disconnects its wrapped Connection when finalized.
type ScopedConnection struct {
	conn *Connection
}

// Disconnect disconnects immediately, same as calling it on the wrapped
// Connection directly.
func (sc *ScopedConnection) Disconnect() { sc.conn.Disconnect() }

type task struct {
	eventID ident.EventId
	run     func()
}

// Config controls Bus tunables. All fields have defaults applied by New
// (spec §6: "No configuration file. All policy is in code").
type Config struct {
	Logger hclog.Logger
	// QueueCapacity bounds the asynchronous task queue (spec §6: "a small
	// four-digit number in reference implementation"). Zero selects the
	// default.
	QueueCapacity int
	// OOBHandler is installed at construction; it may also be set later
	// with SetOOBHandler.
	OOBHandler OOBHandler
}

const defaultQueueCapacity = 4096

// Bus is the process-wide (or, in tests, per-Manager) event bus (spec
// §4.5). One Bus owns exactly one worker goroutine, started at
// construction and joined by Shutdown.
type Bus struct {
	logger hclog.Logger

	subMu         sync.Mutex
	global        map[ident.EventId][]*subscription
	perSender     map[any]map[ident.EventId][]*subscription
	reverseGlobal map[any]map[ident.EventId]struct{}
	reverseSender map[any]map[senderEventKey]struct{}

	gcMu            sync.Mutex
	pendingGCGlobal map[ident.EventId]struct{}
	pendingGCSender map[senderEventKey]struct{}

	oobMu sync.Mutex
	oob   OOBHandler

	hookMu sync.Mutex
	hook   TraceHook

	queue      chan task
	closed     atomic.Bool
	closeOnce  sync.Once
	workerDone chan struct{}
	dropped    atomic.Int64
}

// New builds a Bus and starts its worker goroutine.
func New(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = defaultQueueCapacity
	}
	b := &Bus{
		logger:          logger.Named("eventbus"),
		global:          make(map[ident.EventId][]*subscription),
		perSender:       make(map[any]map[ident.EventId][]*subscription),
		reverseGlobal:   make(map[any]map[ident.EventId]struct{}),
		reverseSender:   make(map[any]map[senderEventKey]struct{}),
		pendingGCGlobal: make(map[ident.EventId]struct{}),
		pendingGCSender: make(map[senderEventKey]struct{}),
		oob:             cfg.OOBHandler,
		queue:           make(chan task, cap),
		workerDone:      make(chan struct{}),
	}
	go b.worker()
	return b
}

// SetOOBHandler installs (or replaces) the out-of-band exception sink.
func (b *Bus) SetOOBHandler(h OOBHandler) {
	b.oobMu.Lock()
	b.oob = h
	b.oobMu.Unlock()
}

// SetTraceHook installs (or clears, with nil) the diagnostic tracing hook.
func (b *Bus) SetTraceHook(h TraceHook) {
	b.hookMu.Lock()
	b.hook = h
	b.hookMu.Unlock()
}

// DroppedTasks reports how many queued tasks have been dropped for queue
// overflow since construction (spec §6's "atomic drop counter").
func (b *Bus) DroppedTasks() int64 { return b.dropped.Load() }

// Reset discards every subscription, global and per-sender, and drains any
// task still waiting in the queue, without stopping the worker goroutine.
// This is the loader unload phase-2 hook (spec §4.4: "clear the event
// queue, the subscription maps") — the bus stays usable afterward so the
// core's built-in services can resubscribe once plugins reload.
func (b *Bus) Reset() {
	b.subMu.Lock()
	b.global = make(map[ident.EventId][]*subscription)
	b.perSender = make(map[any]map[ident.EventId][]*subscription)
	b.reverseGlobal = make(map[any]map[ident.EventId]struct{})
	b.reverseSender = make(map[any]map[senderEventKey]struct{})
	b.subMu.Unlock()

	b.gcMu.Lock()
	b.pendingGCGlobal = make(map[ident.EventId]struct{})
	b.pendingGCSender = make(map[senderEventKey]struct{})
	b.gcMu.Unlock()

drain:
	for {
		select {
		case <-b.queue:
		default:
			break drain
		}
	}
}

// Shutdown closes the task queue and joins the worker goroutine. Safe to
// call more than once.
func (b *Bus) Shutdown() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.queue)
	})
	<-b.workerDone
}

// Publish satisfies registry.Publisher / loader.Publisher so those
// packages can depend on a narrow local interface instead of importing
// eventbus directly, without this package needing to know about either of
// them. It dispatches by the event's own EventID as a global fire.
func (b *Bus) Publish(event any) {
	e, ok := event.(Event)
	if !ok {
		b.logger.Warn("published value does not implement eventbus.Event", "type", event)
		return
	}
	b.FireGlobal(e)
}

// SubscribeGlobal subscribes subscriber to every Event whose EventID
// equals eventID, fired via FireGlobal (spec §4.5). subscriber is held by
// weak reference: it imposes no lifetime obligation on the bus, and once
// it is garbage collected the subscription becomes semantically absent
// (delivery stops immediately, physical removal happens on the next GC
// pass or on Disconnect).
func SubscribeGlobal[S any](b *Bus, subscriber *S, eventID ident.EventId, mode Mode, cb func(Event)) *Connection {
	wp := weak.Make(subscriber)
	key := any(wp)
	alive := func() bool { return wp.Value() != nil }
	active := &atomic.Bool{}
	active.Store(true)
	sub := &subscription{subscriberKey: key, alive: alive, callback: cb, mode: mode, active: active}

	b.subMu.Lock()
	b.global[eventID] = append(cloneList(b.global[eventID]), sub)
	if b.reverseGlobal[key] == nil {
		b.reverseGlobal[key] = make(map[ident.EventId]struct{})
	}
	b.reverseGlobal[key][eventID] = struct{}{}
	b.subMu.Unlock()

	return &Connection{bus: b, eventID: eventID, subKey: key, active: active}
}

// SubscribeToSender subscribes subscriber to Events fired specifically
// against sender via FireToSender (spec §4.5). Both subscriber and sender
// are held weakly; two weak references are equal iff they observe the
// same object (spec §3), which weak.Pointer[T] equality gives for free.
func SubscribeToSender[S, T any](b *Bus, subscriber *S, sender *T, eventID ident.EventId, mode Mode, cb func(Event)) *Connection {
	subWP := weak.Make(subscriber)
	senderWP := weak.Make(sender)
	subKey := any(subWP)
	senderKey := any(senderWP)
	alive := func() bool { return subWP.Value() != nil }
	active := &atomic.Bool{}
	active.Store(true)
	sub := &subscription{subscriberKey: subKey, alive: alive, senderKey: senderKey, callback: cb, mode: mode, active: active}

	b.subMu.Lock()
	byEvent, ok := b.perSender[senderKey]
	if !ok {
		byEvent = make(map[ident.EventId][]*subscription)
		b.perSender[senderKey] = byEvent
	}
	byEvent[eventID] = append(cloneList(byEvent[eventID]), sub)
	rsk := senderEventKey{sender: senderKey, eventID: eventID}
	if b.reverseSender[subKey] == nil {
		b.reverseSender[subKey] = make(map[senderEventKey]struct{})
	}
	b.reverseSender[subKey][rsk] = struct{}{}
	b.subMu.Unlock()

	return &Connection{bus: b, eventID: eventID, subKey: subKey, senderKey: senderKey, active: active}
}

func cloneList(list []*subscription) []*subscription {
	out := make([]*subscription, len(list), len(list)+1)
	copy(out, list)
	return out
}

// IsGlobalSubscribed reports whether any (live or not-yet-GCed) global
// subscription exists for eventID. Callers can use this to skip
// constructing an expensive Event value when nobody is listening (spec
// §4.5: "the fire helper ... short-circuits via an is_subscribed probe").
func (b *Bus) IsGlobalSubscribed(eventID ident.EventId) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return len(b.global[eventID]) > 0
}

// IsSenderSubscribed reports whether any subscription exists for eventID
// scoped to sender.
func IsSenderSubscribed[T any](b *Bus, sender *T, eventID ident.EventId) bool {
	senderKey := any(weak.Make(sender))
	b.subMu.Lock()
	defer b.subMu.Unlock()
	byEvent, ok := b.perSender[senderKey]
	if !ok {
		return false
	}
	return len(byEvent[eventID]) > 0
}

// FireGlobal delivers event to every live global subscription for its
// EventID (spec §4.5). If there are none, it returns immediately without
// taking any other lock or allocating a task.
func (b *Bus) FireGlobal(event Event) {
	eventID := event.EventID()
	b.subMu.Lock()
	subs := b.global[eventID]
	b.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	b.deliver(eventID, event.Name(), subs, event, func() { b.scheduleGlobalGC(eventID) })
}

// FireToSender delivers event only to subscriptions created via
// SubscribeToSender(subscriber, sender, ...) for the same sender and the
// event's EventID (spec §4.5).
func FireToSender[T any](b *Bus, sender *T, event Event) {
	eventID := event.EventID()
	senderKey := any(weak.Make(sender))

	b.subMu.Lock()
	var subs []*subscription
	if byEvent, ok := b.perSender[senderKey]; ok {
		subs = byEvent[eventID]
	}
	b.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	rsk := senderEventKey{sender: senderKey, eventID: eventID}
	b.deliver(eventID, event.Name(), subs, event, func() { b.scheduleSenderGC(rsk) })
}

func (b *Bus) deliver(eventID ident.EventId, name string, subs []*subscription, event Event, scheduleGC func()) {
	b.traceHook(TraceEventFired, eventID, name)

	needsGC := false
	for _, s := range subs {
		if !s.active.Load() || !s.alive() {
			needsGC = true
			continue
		}
		if s.mode == Sync {
			b.traceHook(TraceSyncCallStart, eventID, name)
			b.invokeSync(s.callback, event)
			continue
		}
		b.enqueue(eventID, s, event)
	}
	if needsGC {
		scheduleGC()
	}
}

func (b *Bus) invokeSync(cb func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.reportOOB(panicError("synchronous callback", r))
		}
	}()
	cb(event)
}

func (b *Bus) enqueue(eventID ident.EventId, s *subscription, event Event) {
	token := s.active
	cb := s.callback
	t := task{
		eventID: eventID,
		run: func() {
			// Re-check the token at dequeue time (spec §5's race-bound
			// guarantee): a disconnect that raced the enqueue but
			// completed first is observed here even if it missed the
			// check in deliver.
			if !token.Load() {
				return
			}
			defer func() {
				if r := recover(); r != nil {
					b.reportOOB(panicError("queued callback", r))
				}
			}()
			cb(event)
		},
	}
	if b.closed.Load() {
		b.dropped.Add(1)
		b.traceHook(TraceTaskDropped, eventID, "")
		return
	}
	select {
	case b.queue <- t:
		b.traceHook(TraceTaskEnqueued, eventID, "")
	default:
		b.dropped.Add(1)
		b.traceHook(TraceTaskDropped, eventID, "")
	}
}

func (b *Bus) worker() {
	defer close(b.workerDone)
	for t := range b.queue {
		b.traceHook(TraceTaskExecuteStart, t.eventID, "")
		t.run()
		b.traceHook(TraceTaskExecuteEnd, t.eventID, "")
	}
}

func (b *Bus) scheduleGlobalGC(eventID ident.EventId) {
	b.gcMu.Lock()
	if _, pending := b.pendingGCGlobal[eventID]; pending {
		b.gcMu.Unlock()
		return
	}
	b.pendingGCGlobal[eventID] = struct{}{}
	b.gcMu.Unlock()

	b.enqueueGC(eventID, func() { b.performGlobalGC(eventID) }, func() { delete(b.pendingGCGlobal, eventID) })
}

func (b *Bus) scheduleSenderGC(key senderEventKey) {
	b.gcMu.Lock()
	if _, pending := b.pendingGCSender[key]; pending {
		b.gcMu.Unlock()
		return
	}
	b.pendingGCSender[key] = struct{}{}
	b.gcMu.Unlock()

	b.enqueueGC(key.eventID, func() { b.performSenderGC(key) }, func() { delete(b.pendingGCSender, key) })
}

// enqueueGC queues a GC task. clearPending removes the caller's pending-GC
// entry and is run under gcMu if the queue is full.
func (b *Bus) enqueueGC(eventID ident.EventId, run func(), clearPending func()) {
	if b.closed.Load() {
		return
	}
	select {
	case b.queue <- task{eventID: eventID, run: run}:
	default:
		// Queue full: GC is opportunistic. Clear the pending flag so a
		// later Fire can re-request it.
		b.gcMu.Lock()
		clearPending()
		b.gcMu.Unlock()
	}
}

// performGlobalGC rebuilds the global[eventID] list with only entries
// that are still active and whose subscriber hasn't been collected (spec
// §4.5 "GC task for event_id").
func (b *Bus) performGlobalGC(eventID ident.EventId) {
	b.gcMu.Lock()
	delete(b.pendingGCGlobal, eventID)
	b.gcMu.Unlock()

	b.subMu.Lock()
	defer b.subMu.Unlock()
	current := b.global[eventID]
	if len(current) == 0 {
		return
	}
	filtered := make([]*subscription, 0, len(current))
	changed := false
	for _, s := range current {
		if s.active.Load() && s.alive() {
			filtered = append(filtered, s)
		} else {
			changed = true
		}
	}
	if changed {
		b.global[eventID] = filtered
	}
}

func (b *Bus) performSenderGC(key senderEventKey) {
	b.gcMu.Lock()
	delete(b.pendingGCSender, key)
	b.gcMu.Unlock()

	b.subMu.Lock()
	defer b.subMu.Unlock()
	byEvent, ok := b.perSender[key.sender]
	if !ok {
		return
	}
	current := byEvent[key.eventID]
	if len(current) == 0 {
		return
	}
	filtered := make([]*subscription, 0, len(current))
	changed := false
	for _, s := range current {
		if s.active.Load() && s.alive() {
			filtered = append(filtered, s)
		} else {
			changed = true
		}
	}
	if changed {
		byEvent[key.eventID] = filtered
	}
}

// unsubscribeOne physically removes the single subscription identified by
// (eventID, subKey, senderKey). senderKey is nil for a global
// subscription. Called from Connection.Disconnect; always safe to call
// even if the subscriber has already been collected, since subKey is a
// plain comparable value, not a dereference.
func (b *Bus) unsubscribeOne(eventID ident.EventId, subKey, senderKey any) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if senderKey == nil {
		b.global[eventID] = removeSubscriber(b.global[eventID], subKey)
		if evts, ok := b.reverseGlobal[subKey]; ok {
			delete(evts, eventID)
			if len(evts) == 0 {
				delete(b.reverseGlobal, subKey)
			}
		}
		return
	}

	if byEvent, ok := b.perSender[senderKey]; ok {
		byEvent[eventID] = removeSubscriber(byEvent[eventID], subKey)
	}
	rsk := senderEventKey{sender: senderKey, eventID: eventID}
	if keys, ok := b.reverseSender[subKey]; ok {
		delete(keys, rsk)
		if len(keys) == 0 {
			delete(b.reverseSender, subKey)
		}
	}
}

func removeSubscriber(list []*subscription, subKey any) []*subscription {
	if len(list) == 0 {
		return list
	}
	out := make([]*subscription, 0, len(list))
	for _, s := range list {
		if s.subscriberKey != subKey {
			out = append(out, s)
		}
	}
	return out
}

// Unsubscribe removes every subscription — global and per-sender — held
// by subscriber, in time proportional to its own subscription count
// rather than the bus's total (spec §4.5 "Full unsubscribe of
// subscriber").
func Unsubscribe[S any](b *Bus, subscriber *S) {
	key := any(weak.Make(subscriber))
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for eventID := range b.reverseGlobal[key] {
		b.global[eventID] = removeSubscriber(b.global[eventID], key)
	}
	delete(b.reverseGlobal, key)

	for rsk := range b.reverseSender[key] {
		if byEvent, ok := b.perSender[rsk.sender]; ok {
			byEvent[rsk.eventID] = removeSubscriber(byEvent[rsk.eventID], key)
		}
	}
	delete(b.reverseSender, key)
}

func (b *Bus) traceHook(point TracePoint, eventID ident.EventId, name string) {
	b.hookMu.Lock()
	hook := b.hook
	b.hookMu.Unlock()
	if hook == nil {
		return
	}
	defer func() { _ = recover() }() // tracing-hook failures are caught and dropped (spec §7)
	hook(point, eventID, name)
}

func (b *Bus) reportOOB(err error) {
	b.oobMu.Lock()
	handler := b.oob
	b.oobMu.Unlock()
	if handler == nil {
		b.logger.Error("unhandled event callback failure (no OOB handler installed)", "error", err)
		return
	}
	handler(err)
}

func panicError(where string, r any) error {
	return &panicErr{where: where, value: r}
}

type panicErr struct {
	where string
	value any
}

func (e *panicErr) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.where, e.value)
}
