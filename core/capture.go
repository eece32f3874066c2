package voicesession

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siacoach/voice-core/core/audio"
)

// capturePipeline acquires the microphone through an [audio.Source],
// reassembles the device's frames into fixed-duration chunks, and runs
// the silence-based turn-end timer.
//
// The timer is reset on every produced chunk regardless of its content.
// Because sources produce chunks at the capture cadence whether or not
// they contain speech, the timer in practice only fires once capture
// stops or the device stalls. That weak segmentation is deliberate;
// upgrading it to content-based voice activity detection would be a
// behavior change, not a fix.
type capturePipeline struct {
	source audio.Source

	chunkDuration   time.Duration
	silenceDuration time.Duration

	// onChunk receives every assembled chunk; it runs on the device
	// goroutine and must not block.
	onChunk func(chunk []byte)
	// onTurnEnd fires once per elapsed silence period while capturing.
	onTurnEnd func()

	capturing atomic.Bool

	// runMu serializes Start and Stop so a stop issued while a start is
	// mid-flight cannot interleave with the device acquisition and leave
	// the device running unaccounted.
	runMu sync.Mutex

	mu           sync.Mutex
	pending      []byte
	chunkBytes   int
	silenceTimer *time.Timer
}

func newCapturePipeline(source audio.Source, chunkDuration, silenceDuration time.Duration, onChunk func([]byte), onTurnEnd func()) *capturePipeline {
	if onChunk == nil {
		onChunk = func([]byte) {}
	}
	if onTurnEnd == nil {
		onTurnEnd = func() {}
	}

	return &capturePipeline{
		source:          source,
		chunkDuration:   chunkDuration,
		silenceDuration: silenceDuration,
		onChunk:         onChunk,
		onTurnEnd:       onTurnEnd,
	}
}

// Start acquires the device and begins streaming chunks. Starting an
// already-running pipeline is a no-op. Device failures surface as a
// capture error wrapping one of the [audio] sentinel errors.
func (p *capturePipeline) Start(ctx context.Context) error {
	if p == nil || p.source == nil {
		return nil
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.capturing.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	p.pending = nil
	p.chunkBytes = p.source.EncodingInfo().ChunkBytes(int(p.chunkDuration / time.Millisecond))
	p.mu.Unlock()

	if err := p.source.StartCapture(ctx, p.onAudio); err != nil {
		p.capturing.Store(false)
		return err
	}

	p.armSilenceTimer()
	return nil
}

// Stop disarms the turn-end timer and releases the device. It is
// idempotent: stopping a pipeline that is not capturing is a no-op.
func (p *capturePipeline) Stop() error {
	if p == nil || p.source == nil {
		return nil
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.capturing.CompareAndSwap(true, false) {
		return nil
	}

	p.disarmSilenceTimer()

	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()

	return p.source.StopCapture()
}

func (p *capturePipeline) IsCapturing() bool {
	return p != nil && p.capturing.Load()
}

func (p *capturePipeline) Close() error {
	if p == nil || p.source == nil {
		return nil
	}

	_ = p.Stop()
	return p.source.Close()
}

// onAudio runs on the device goroutine. Frames accumulate until a full
// chunk duration is buffered, then each chunk is emitted and the silence
// timer re-armed.
func (p *capturePipeline) onAudio(frames []byte) {
	if !p.capturing.Load() {
		return
	}

	var chunks [][]byte
	p.mu.Lock()
	p.pending = append(p.pending, frames...)
	for p.chunkBytes > 0 && len(p.pending) >= p.chunkBytes {
		chunk := make([]byte, p.chunkBytes)
		copy(chunk, p.pending[:p.chunkBytes])
		p.pending = p.pending[p.chunkBytes:]
		chunks = append(chunks, chunk)
	}
	p.mu.Unlock()

	for _, chunk := range chunks {
		p.onChunk(chunk)
		p.armSilenceTimer()
	}
}

func (p *capturePipeline) armSilenceTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.silenceTimer == nil {
		p.silenceTimer = time.AfterFunc(p.silenceDuration, p.silenceElapsed)
		return
	}
	p.silenceTimer.Reset(p.silenceDuration)
}

func (p *capturePipeline) disarmSilenceTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.silenceTimer != nil {
		p.silenceTimer.Stop()
	}
}

// silenceElapsed emits exactly one turn-end per elapsed silence period,
// then re-arms for the next period.
func (p *capturePipeline) silenceElapsed() {
	if !p.capturing.Load() {
		return
	}

	p.onTurnEnd()
	p.armSilenceTimer()
}
