package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/observe"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

// ContainerPlayer plays one self-contained audio container.
type ContainerPlayer interface {
	// Play blocks until the container has finished or ctx is cancelled.
	Play(ctx context.Context, container []byte) error
}

type sequentialItem struct {
	id        uint64
	container []byte
	duration  time.Duration
}

// Sequential is the scheduler for hosts that can only play whole
// containers. Items are played strictly in order, one at a time, by a
// single worker. Gapless output is best effort.
type Sequential struct {
	player  ContainerPlayer
	format  audio.Format
	tick    time.Duration
	limit   int
	onStart func(ScheduledBuffer)
	logger  *zap.Logger
	metrics *observe.Metrics
	origin  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	queue      []sequentialItem
	seq        uint64
	gen        uint64
	playing    bool
	cancelPlay context.CancelFunc
	closed     bool
}

// NewSequential starts the playback worker.
func NewSequential(player ContainerPlayer, opts SchedulerOptions) *Sequential {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequential{
		player:  player,
		format:  opts.Format,
		tick:    opts.Tick,
		limit:   opts.QueueSize,
		onStart: opts.OnStart,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		origin:  time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue wraps the chunk in a container and appends it to the FIFO.
func (s *Sequential) Enqueue(chunk audio.Chunk) error {
	if chunk.Format() != s.format {
		return fmt.Errorf("chunk format %+v does not match output %+v", chunk.Format(), s.format)
	}
	container := audio.WrapContainer(chunk.Bytes(), s.format.SampleRate, s.format.Channels)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	if len(s.queue) >= s.limit {
		s.mu.Unlock()
		return fmt.Errorf("playback queue full (%d buffers)", s.limit)
	}
	s.seq++
	s.queue = append(s.queue, sequentialItem{id: s.seq, container: container, duration: chunk.Duration()})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Sequential) run() {
	defer close(s.done)

	for {
		item, gen, playCtx, ok := s.next()
		if !ok {
			return
		}

		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if current && s.onStart != nil {
			start := time.Since(s.origin)
			s.onStart(ScheduledBuffer{ID: item.id, Start: start, End: start + item.duration})
		}

		err := s.player.Play(playCtx, item.container)

		s.mu.Lock()
		s.cancelPlay()
		s.playing = false
		s.cancelPlay = nil
		s.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			if errors.Is(err, audio.ErrMalformedContainer) {
				s.metrics.RecordDrop(context.Background(), "malformed_container")
			}
			s.logger.Warn("Failed to play audio container",
				zap.Uint64("buffer_id", item.id),
				zap.Error(err))
		}
	}
}

// next blocks until an item is available and marks it as playing.
func (s *Sequential) next() (sequentialItem, uint64, context.Context, bool) {
	s.mu.Lock()
	for len(s.queue) == 0 && !s.closed {
		s.mu.Unlock()
		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return sequentialItem{}, 0, nil, false
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.closed {
		return sequentialItem{}, 0, nil, false
	}

	item := s.queue[0]
	s.queue[0] = sequentialItem{}
	s.queue = s.queue[1:]

	playCtx, cancel := context.WithCancel(s.ctx)
	s.playing = true
	s.cancelPlay = cancel
	return item, s.gen, playCtx, true
}

// Flush implements PlaybackScheduler.
func (s *Sequential) Flush() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	s.gen++
	if s.cancelPlay != nil {
		s.cancelPlay()
	}
	s.mu.Unlock()

	s.logger.Debug("Flushed playback queue", zap.Int("dropped_buffers", dropped))
}

// IsSpeaking implements PlaybackScheduler.
func (s *Sequential) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing || len(s.queue) > 0
}

// Drain implements PlaybackScheduler.
func (s *Sequential) Drain(ctx context.Context) error {
	return drain(ctx, s.tick, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closed || (!s.playing && len(s.queue) == 0)
	})
}

// Close stops the worker and waits for it to exit.
func (s *Sequential) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	if s.cancelPlay != nil {
		s.cancelPlay()
	}
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}
