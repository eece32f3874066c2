package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/siacoach/voice-core/core/audio"
)

// playbackWaiter is released once the device has consumed every byte
// buffered before position, or immediately on halt.
type playbackWaiter struct {
	position int
	done     chan struct{}
}

type playbackDevice struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu      sync.Mutex
	buffer  []byte
	waiters []*playbackWaiter
}

func (p *playbackDevice) init(audioContext *malgo.AllocatedContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := audio.GetDefaultEncodingInfo()
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * info.Channels

	p.config = malgo.DefaultDeviceConfig(malgo.Playback)
	p.config.SampleRate = uint32(info.SampleRate)
	p.config.Playback.Format = format
	p.config.Playback.Channels = uint32(info.Channels)
	p.config.Alsa.NoMMap = 1
	p.config.PeriodSizeInFrames = uint32(info.SampleRate) / 10
	p.config.Periods = 4

	device, err := malgo.InitDevice(audioContext.Context, p.config, malgo.DeviceCallbacks{
		Data: p.fillOutput(bytesPerFrame),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", classifyDeviceError(err), err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w: %w", classifyDeviceError(err), err)
	}

	p.device = device
	return nil
}

// play buffers the chunk and suspends until the device has drained it,
// the context is cancelled, or halt discards it. A halted play returns
// nil; the chunk was intentionally dropped, not lost.
func (p *playbackDevice) play(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	if p.device == nil {
		p.mu.Unlock()
		return fmt.Errorf("playback device not initialized: %w", audio.ErrDeviceUnavailable)
	}

	p.buffer = append(p.buffer, chunk...)
	waiter := &playbackWaiter{position: len(p.buffer), done: make(chan struct{})}
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	select {
	case <-waiter.done:
		return nil
	case <-ctx.Done():
		p.halt()
		return ctx.Err()
	}
}

// halt drops all buffered audio and releases every pending play.
func (p *playbackDevice) halt() {
	p.mu.Lock()
	p.buffer = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, waiter := range waiters {
		close(waiter.done)
	}
}

func (p *playbackDevice) uninit() error {
	p.mu.Lock()
	device := p.device
	p.device = nil
	p.mu.Unlock()

	p.halt()
	if device != nil {
		device.Uninit()
	}
	return nil
}

// fillOutput feeds the device from the buffer, padding with silence when
// the buffer runs dry, and releases waiters whose audio has drained.
func (p *playbackDevice) fillOutput(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		p.mu.Lock()
		n := min(need, len(p.buffer))
		copy(pOutput, p.buffer[:n])
		p.buffer = p.buffer[n:]

		var released []*playbackWaiter
		remaining := p.waiters[:0]
		for _, waiter := range p.waiters {
			waiter.position -= n
			if waiter.position <= 0 {
				released = append(released, waiter)
			} else {
				remaining = append(remaining, waiter)
			}
		}
		p.waiters = remaining
		p.mu.Unlock()

		for _, waiter := range released {
			close(waiter.done)
		}
	}
}
