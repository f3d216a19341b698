package main

import "time"

// typingIdle is the quiescence window: with no renewed typing_start inside it,
// the indicator expires as an implicit typing_stop.
const typingIdle = 1000 * time.Millisecond

type typingKey struct {
	room string
	user string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// typingTracker holds the ephemeral per-(room, user) typing state. Like the
// room registry it is owned by the hub's dispatch goroutine. Expiry timers
// fire on their own goroutines and report back through onExpire, which must
// re-enter the dispatcher (the hub posts a command to itself); the generation
// counter discards fires that lost a race with a refresh or stop.
type typingTracker struct {
	ttl      time.Duration
	active   map[typingKey]*typingEntry
	gen      uint64
	schedule func(d time.Duration, fn func()) *time.Timer
	onExpire func(room, user string, gen uint64)
}

func newTypingTracker(ttl time.Duration, onExpire func(room, user string, gen uint64)) *typingTracker {
	return &typingTracker{
		ttl:      ttl,
		active:   make(map[typingKey]*typingEntry),
		schedule: time.AfterFunc,
		onExpire: onExpire,
	}
}

// start records or refreshes an active typing entry and (re)arms its expiry
// timer. It reports true only on the inactive->active transition, so rapid
// repeated starts debounce to a single broadcast.
func (t *typingTracker) start(room, user string) bool {
	key := typingKey{room: room, user: user}
	t.gen++
	gen := t.gen

	fire := func() { t.onExpire(room, user, gen) }

	if e, ok := t.active[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.gen = gen
		e.timer = t.schedule(t.ttl, fire)
		return false
	}

	t.active[key] = &typingEntry{gen: gen, timer: t.schedule(t.ttl, fire)}
	return true
}

// stop removes the entry and cancels its timer, reporting whether an active
// entry existed.
func (t *typingTracker) stop(room, user string) bool {
	key := typingKey{room: room, user: user}
	e, ok := t.active[key]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(t.active, key)
	return true
}

// expire handles a fired timer. A stale generation means the entry was
// refreshed or stopped after the timer was armed; nothing happens then.
func (t *typingTracker) expire(room, user string, gen uint64) bool {
	key := typingKey{room: room, user: user}
	e, ok := t.active[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(t.active, key)
	return true
}

// stopAll clears every indicator owned by the user in the given rooms,
// returning the rooms that actually had one. Used on disconnect teardown.
func (t *typingTracker) stopAll(user string, rooms map[string]bool) []string {
	var cleared []string
	for room := range rooms {
		if t.stop(room, user) {
			cleared = append(cleared, room)
		}
	}
	return cleared
}
