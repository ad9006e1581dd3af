package dispatch

import (
	"sync"
	"time"
)

// chatLimits bounds listener fan-out per chat: a concurrency ceiling and a
// fixed-window rate cap. Work beyond either bound is dropped, never queued;
// listener traffic is bursty group chatter and a queued invocation would
// reply to stale context.
type chatLimits struct {
	maxConcurrent int
	ratePerMinute int
	now           func() time.Time

	mu      sync.Mutex
	sems    map[string]chan struct{}
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newChatLimits(maxConcurrent, ratePerMinute int) *chatLimits {
	return &chatLimits{
		maxConcurrent: maxConcurrent,
		ratePerMinute: ratePerMinute,
		now:           time.Now,
		sems:          make(map[string]chan struct{}),
		windows:       make(map[string]*rateWindow),
	}
}

// acquireSlot reserves a listener concurrency slot for the chat. The
// returned release func is non-nil only when ok.
func (l *chatLimits) acquireSlot(chatID string) (release func(), ok bool) {
	sem := l.chatSem(chatID)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return nil, false
	}
}

// admitRate counts the event against the chat's current minute window.
func (l *chatLimits) admitRate(chatID string) bool {
	if l.ratePerMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[chatID]
	if !exists || now.Sub(w.start) >= time.Minute {
		l.windows[chatID] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= l.ratePerMinute {
		return false
	}
	w.count++
	return true
}

func (l *chatLimits) chatSem(chatID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[chatID]
	if !ok {
		n := l.maxConcurrent
		if n <= 0 {
			n = 1
		}
		sem = make(chan struct{}, n)
		l.sems[chatID] = sem
	}
	return sem
}
