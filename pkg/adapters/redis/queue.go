package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// enqueueScript checks the bound, stamps the next sequence number and appends
// in one atomic step, so sequence order is list order across replicas.
var enqueueScript = backend.NewScript(`
local limit = tonumber(ARGV[2])
if limit > 0 and redis.call("LLEN", KEYS[1]) >= limit then
	return -1
end
local seq = redis.call("INCR", KEYS[2])
redis.call("RPUSH", KEYS[1], seq .. ":" .. ARGV[1])
return seq
`)

// minPoll is the resolution of Redis blocking timeouts as sent by go-redis.
const minPoll = time.Second

// Queue implements ports.AckQueue on a Redis list shared by every replica.
// Entries are stored as "<seq>:<json action>". A dequeued entry moves to a
// per-ref processing list and stays there until it is acknowledged.
type Queue struct {
	client        backend.UniversalClient
	listKey       string
	seqKey        string
	processingKey string
	capacity      int
	poll          time.Duration
	closed        atomic.Bool

	mu       sync.Mutex // guards inflight
	inflight map[uint64]string
}

var _ ports.AckQueue = (*Queue)(nil)

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithCapacity bounds the list length. Zero or less means unbounded.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		q.capacity = n
	}
}

// WithPollInterval sets how long a single BLMOVE waits before re-checking ctx.
// Redis blocking timeouts have one-second resolution, so shorter values are raised to 1s.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.poll = max(d, minPoll)
	}
}

// NewQueue creates the queue for session ref under prefix.
func NewQueue(client backend.UniversalClient, prefix, ref string, opts ...QueueOption) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	base := prefix + "queue:" + ref
	q := &Queue{
		client:        client,
		listKey:       base,
		seqKey:        base + ":seq",
		processingKey: base + ":processing",
		capacity:      64,
		poll:          minPoll,
		inflight:      make(map[uint64]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a without blocking on consumers.
func (q *Queue) Enqueue(ctx context.Context, a domain.Action) (uint64, error) {
	if q.closed.Load() {
		return 0, domain.ErrQueueClosed
	}
	a.Seq = 0
	payload, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("%w: encode action: %v", domain.ErrUserInput, err)
	}

	seq, err := enqueueScript.Run(ctx, q.client, []string{q.listKey, q.seqKey}, string(payload), q.capacity).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis enqueue: %w", err)
	}
	if seq < 0 {
		return 0, domain.ErrQueueFull
	}
	return uint64(seq), nil
}

// Dequeue blocks on BLMOVE in poll-sized slices until an entry arrives or ctx ends.
// The entry stays in the processing list until Ack. Once closed it only drains
// what is left without blocking, and drained entries need no Ack.
func (q *Queue) Dequeue(ctx context.Context) (domain.Action, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Action{}, err
		}

		if q.closed.Load() {
			raw, err := q.client.LPop(ctx, q.listKey).Result()
			if errors.Is(err, backend.Nil) {
				return domain.Action{}, domain.ErrQueueClosed
			}
			if err != nil {
				return domain.Action{}, fmt.Errorf("redis lpop: %w", err)
			}
			return decodeEntry(raw)
		}

		raw, err := q.client.BLMove(ctx, q.listKey, q.processingKey, "LEFT", "RIGHT", q.poll).Result()
		switch {
		case errors.Is(err, backend.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return domain.Action{}, ctx.Err()
			}
			return domain.Action{}, fmt.Errorf("redis blmove: %w", err)
		}
		if ctx.Err() != nil {
			// The consumer is gone; hand the entry back to the head for the next one.
			if merr := q.client.LMove(context.WithoutCancel(ctx), q.processingKey, q.listKey, "RIGHT", "LEFT").Err(); merr != nil {
				return domain.Action{}, fmt.Errorf("redis lmove: %w", merr)
			}
			return domain.Action{}, ctx.Err()
		}

		a, err := decodeEntry(raw)
		if err != nil {
			// Nobody will ever apply it, so it must not come back on Recover.
			if rerr := q.client.LRem(ctx, q.processingKey, 1, raw).Err(); rerr != nil {
				return domain.Action{}, fmt.Errorf("redis lrem: %w", rerr)
			}
			return domain.Action{}, err
		}
		q.mu.Lock()
		q.inflight[a.Seq] = raw
		q.mu.Unlock()
		return a, nil
	}
}

// Ack removes the entry stamped seq from the processing list.
func (q *Queue) Ack(ctx context.Context, seq uint64) error {
	q.mu.Lock()
	raw, ok := q.inflight[seq]
	delete(q.inflight, seq)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := q.client.LRem(ctx, q.processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

// Recover moves every entry left in the processing list back to the head of the queue.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.listKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, backend.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redis lmove: %w", err)
		}
		n++
	}
}

// Len reports the list length, or 0 when Redis cannot be reached.
func (q *Queue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := q.client.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close stops this handle from accepting actions. The shared list is left intact.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

func decodeEntry(raw string) (domain.Action, error) {
	seqText, payload, ok := strings.Cut(raw, ":")
	if !ok {
		return domain.Action{}, fmt.Errorf("%w: malformed queue entry", domain.ErrUserInput)
	}
	seq, err := strconv.ParseUint(seqText, 10, 64)
	if err != nil {
		return domain.Action{}, fmt.Errorf("%w: malformed sequence %q", domain.ErrUserInput, seqText)
	}
	a, err := domain.DecodeAction([]byte(payload))
	if err != nil {
		return domain.Action{}, err
	}
	a.Seq = seq
	return a, nil
}
