package voicesession

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/siacoach/voice-core/core/audio"
)

type queuedChunk struct {
	id    string
	audio []byte
}

// playbackQueue buffers inbound synthesized-speech chunks and plays them
// back strictly in arrival order through an [audio.Sink].
//
// At most one playback loop runs per queue. Enqueue starts the loop when
// it is not running; enqueue while a loop is running only appends. The
// loop plays one chunk to completion before dequeuing the next, so two
// chunks never overlap.
type playbackQueue struct {
	sink audio.Sink

	mu      sync.Mutex
	queue   []queuedChunk
	looping bool
	// generation invalidates the running loop's in-flight dequeue when
	// Clear races with it.
	generation uint64

	baseContext context.Context
}

func newPlaybackQueue(ctx context.Context, sink audio.Sink) *playbackQueue {
	if ctx == nil {
		ctx = context.Background()
	}
	return &playbackQueue{sink: sink, baseContext: ctx}
}

// Enqueue appends a chunk to the tail and ensures a playback loop is
// draining the queue.
func (q *playbackQueue) Enqueue(chunk []byte) {
	if q == nil || q.sink == nil {
		return
	}

	buffered := make([]byte, len(chunk))
	copy(buffered, chunk)

	q.mu.Lock()
	q.queue = append(q.queue, queuedChunk{id: uuid.NewString(), audio: buffered})
	startLoop := !q.looping
	if startLoop {
		q.looping = true
	}
	q.mu.Unlock()

	if startLoop {
		go q.playLoop()
	}
}

// Clear empties the queue and halts any in-progress playback
// immediately. Safe to call concurrently with Enqueue and the loop; the
// queue is left consistent and empty, with no dangling playback.
func (q *playbackQueue) Clear() {
	if q == nil {
		return
	}

	q.mu.Lock()
	q.queue = nil
	q.generation++
	q.mu.Unlock()

	if q.sink != nil {
		q.sink.Halt()
	}
}

// Pending returns the number of chunks waiting behind the one currently
// playing.
func (q *playbackQueue) Pending() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *playbackQueue) Close() error {
	if q == nil {
		return nil
	}
	q.Clear()
	if q.sink != nil {
		return q.sink.Close()
	}
	return nil
}

func (q *playbackQueue) playLoop() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.looping = false
			q.mu.Unlock()
			return
		}
		next := q.queue[0]
		q.queue = q.queue[1:]
		generation := q.generation
		q.mu.Unlock()

		if err := q.sink.EncodingInfo().ValidateChunk(next.audio); err != nil {
			// One corrupt chunk must not stall the queue.
			logger.Warn("dropping undecodable playback chunk", "chunk_id", next.id, "error", err)
			continue
		}

		// A Clear that landed after the dequeue made this chunk stale;
		// it must not reach the sink.
		q.mu.Lock()
		cleared := generation != q.generation
		q.mu.Unlock()
		if cleared {
			continue
		}

		if err := q.sink.Play(q.baseContext, next.audio); err != nil {
			q.mu.Lock()
			cleared := generation != q.generation
			q.mu.Unlock()
			if cleared {
				// Halted by Clear mid-chunk; not a playback failure.
				continue
			}
			logger.Warn("playback failed for chunk", "chunk_id", next.id, "error", err)
		}
	}
}
