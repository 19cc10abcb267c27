package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxWait is the wall-clock budget for one reply.
	DefaultMaxWait = 600 * time.Second

	// DefaultPollInterval is the fixed cadence between thread reads.
	DefaultPollInterval = 2 * time.Second

	roleAssistant = "assistant"
)

// PollStatus is the terminal state of a poll.
type PollStatus string

const (
	PollFound   PollStatus = "found"
	PollTimeout PollStatus = "timeout"
)

// PolledMessage is what a poll ends with: the latest assistant message, or a
// timeout sentinel carrying the same timing fields.
type PolledMessage struct {
	Status         PollStatus
	Role           string
	Content        Reply
	ElapsedSeconds float64
	PollsMade      int
	Error          string
}

// TimedOut reports whether the poll exhausted its budget.
func (m PolledMessage) TimedOut() bool { return m.Status == PollTimeout }

// MessageLister reads the messages of a thread.
type MessageLister interface {
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// Poller waits for an assistant reply on a thread by reading it at a fixed
// cadence.
type Poller struct {
	lister MessageLister
	clock  Clock
}

// NewPoller creates a poller. A nil clock means the system clock.
func NewPoller(lister MessageLister, clock Clock) *Poller {
	if clock == nil {
		clock = SystemClock()
	}
	return &Poller{lister: lister, clock: clock}
}

// Poll reads threadID every interval until an assistant message appears or
// maxWait has elapsed since the first read. Read failures are logged and
// retried within the same budget. Running out of budget is not an error: the
// returned message has Status PollTimeout. The only error is ctx's, when the
// caller gives up first.
func (p *Poller) Poll(ctx context.Context, threadID string, maxWait, interval time.Duration) (PolledMessage, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	start := p.clock.Now()
	polls := 0

	log.Debug().
		Str("thread_id", threadID).
		Dur("max_wait", maxWait).
		Dur("interval", interval).
		Msg("Polling for agent reply")

	for {
		elapsed := p.clock.Now().Sub(start)
		if elapsed > maxWait {
			metrics.PollsPerCall.Observe(float64(polls))
			log.Warn().
				Str("thread_id", threadID).
				Float64("elapsed_seconds", elapsed.Seconds()).
				Int("polls", polls).
				Msg("Timed out waiting for agent reply")
			return PolledMessage{
				Status:         PollTimeout,
				ElapsedSeconds: elapsed.Seconds(),
				PollsMade:      polls,
				Error:          fmt.Sprintf("agent response not received within %s", maxWait),
			}, nil
		}

		msgs, err := p.lister.ListMessages(ctx, threadID)
		polls++
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return p.abandoned(start, polls), ctx.Err()
			}
			metrics.PollAttempts.WithLabelValues("error").Inc()
			log.Warn().
				Err(err).
				Str("thread_id", threadID).
				Int("attempt", polls).
				Msg("Poll attempt failed")
		default:
			if last, ok := lastAssistant(msgs); ok {
				metrics.PollAttempts.WithLabelValues("found").Inc()
				metrics.PollsPerCall.Observe(float64(polls))
				elapsed = p.clock.Now().Sub(start)
				log.Debug().
					Str("thread_id", threadID).
					Float64("elapsed_seconds", elapsed.Seconds()).
					Int("polls", polls).
					Msg("Agent reply received")
				return PolledMessage{
					Status:         PollFound,
					Role:           last.Role,
					Content:        last.Content,
					ElapsedSeconds: elapsed.Seconds(),
					PollsMade:      polls,
				}, nil
			}
			metrics.PollAttempts.WithLabelValues("empty").Inc()
			if polls%5 == 1 {
				log.Debug().
					Str("thread_id", threadID).
					Int("polls", polls).
					Float64("elapsed_seconds", elapsed.Seconds()).
					Msg("Still waiting for agent reply")
			}
		}

		if err := p.clock.Sleep(ctx, interval); err != nil {
			return p.abandoned(start, polls), err
		}
	}
}

func (p *Poller) abandoned(start time.Time, polls int) PolledMessage {
	return PolledMessage{
		ElapsedSeconds: p.clock.Now().Sub(start).Seconds(),
		PollsMade:      polls,
		Error:          "polling abandoned by caller",
	}
}

func lastAssistant(msgs []ThreadMessage) (ThreadMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == roleAssistant {
			return msgs[i], true
		}
	}
	return ThreadMessage{}, false
}
