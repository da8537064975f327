package audio

import (
	"log/slog"
	"sync"
	"time"
)

// OutputDevice is the sink the scheduler feeds. The real device is
// backed by the speaker; tests substitute a recording fake.
type OutputDevice interface {
	Write(pcm []byte)
	Resume() error
	Close()
}

// SchedulerConfig fixes playback timing.
type SchedulerConfig struct {
	SampleRate   int
	SafetyMargin time.Duration
}

// Scheduler plays decoded frames gapless and in order. It keeps a
// single scalar, the next free start time on the output clock, advances
// it by each frame's duration, and resets it to zero on interruption so
// stale scheduled audio never plays late.
type Scheduler struct {
	cfg SchedulerConfig
	out OutputDevice
	log *slog.Logger

	clock func() time.Duration
	timer func(d time.Duration, f func())

	mu   sync.Mutex
	next time.Duration
	gen  int
}

func NewScheduler(cfg SchedulerConfig, out OutputDevice, log *slog.Logger) *Scheduler {
	start := time.Now()
	return &Scheduler{
		cfg:   cfg,
		out:   out,
		log:   log.With(slog.String("component", "audio-playback")),
		clock: func() time.Duration { return time.Since(start) },
		timer: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Play decodes one transport frame and schedules it at
// max(now+margin, next free start). Decode failures are logged and the
// frame skipped; playback glitches never reach the state machine.
func (s *Scheduler) Play(encoded string) {
	pcm, err := DecodePCM(encoded)
	if err != nil {
		s.log.Debug("skipping undecodable frame", slog.String("error", err.Error()))
		return
	}
	if len(pcm) == 0 {
		return
	}

	s.mu.Lock()
	now := s.clock()
	start := now + s.cfg.SafetyMargin
	if s.next > start {
		start = s.next
	}
	s.next = start + PCMDuration(len(pcm), s.cfg.SampleRate)
	gen := s.gen
	s.mu.Unlock()

	s.timer(start-now, func() {
		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}
		s.out.Write(pcm)
	})
}

// Interrupt drops all scheduled-but-unplayed audio and resets the
// schedule, so the next frame starts immediately. Used on barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.next = 0
	s.gen++
	s.mu.Unlock()
}

// Resume restarts a suspended output device.
func (s *Scheduler) Resume() error {
	return s.out.Resume()
}

// Stop invalidates pending frames and releases the output device.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.gen++
	s.next = 0
	s.mu.Unlock()
	s.out.Close()
}
