package services

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	deadlineTimerPrefix = "deadline:"
	presenceTimerPrefix = "presence:"
)

type timerKey struct {
	room string
	name string
}

type scheduledTimer struct {
	timer *time.Timer
	at    time.Time
}

// Scheduler runs named one-shot timers keyed by room. Timers are local to
// this process; anything that must survive a restart is persisted on the
// room and re-armed with SyncDeadlines when the room is next loaded.
type Scheduler struct {
	mu     sync.Mutex
	timers map[timerKey]*scheduledTimer
	now    func() time.Time
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[timerKey]*scheduledTimer),
		now:    time.Now,
		logger: logger,
	}
}

// Schedule arms fn to run at the given time, replacing any timer with the
// same room and name.
func (s *Scheduler) Schedule(roomID, name string, at time.Time, fn func()) {
	key := timerKey{room: roomID, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	entry := &scheduledTimer{at: at}
	entry.timer = time.AfterFunc(at.Sub(s.now()), func() {
		s.mu.Lock()
		if s.timers[key] != entry {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		s.logger.Debug("timer fired", "room_id", roomID, "timer", name)
		fn()
	})
	s.timers[key] = entry
}

func (s *Scheduler) Cancel(roomID, name string) {
	key := timerKey{room: roomID, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// CancelRoom drops every timer of a room.
func (s *Scheduler) CancelRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		if key.room == roomID {
			t.timer.Stop()
			delete(s.timers, key)
		}
	}
}

// SyncDeadlines makes the local deadline timers of a room match its
// persisted deadlines: missing or moved ones are armed, stale ones stopped.
func (s *Scheduler) SyncDeadlines(roomID string, deadlines map[string]time.Time, fire func(name string)) {
	s.mu.Lock()
	var arm []string
	for name, at := range deadlines {
		t, ok := s.timers[timerKey{room: roomID, name: deadlineTimerPrefix + name}]
		if !ok || !t.at.Equal(at) {
			arm = append(arm, name)
		}
	}
	for key, t := range s.timers {
		if key.room != roomID || !strings.HasPrefix(key.name, deadlineTimerPrefix) {
			continue
		}
		if _, ok := deadlines[strings.TrimPrefix(key.name, deadlineTimerPrefix)]; !ok {
			t.timer.Stop()
			delete(s.timers, key)
		}
	}
	s.mu.Unlock()

	for _, name := range arm {
		name := name
		s.Schedule(roomID, deadlineTimerPrefix+name, deadlines[name], func() { fire(name) })
	}
}

// Pending lists the armed timer names of a room.
func (s *Scheduler) Pending(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for key := range s.timers {
		if key.room == roomID {
			names = append(names, key.name)
		}
	}
	return names
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
}
