// Package portaudio is the PortAudio-backed device layer, for hosts
// where miniaudio misbehaves. It requires the PortAudio C library.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/siacoach/voice-core/core/audio"
)

const defaultBufferFrames = 512

// Client drives one full-duplex PortAudio stream. It satisfies both
// [audio.Source] and [audio.Sink].
type Client struct {
	bufferFrames int
	stream       *portaudio.Stream

	in  []int16
	out []int16

	capturing  atomic.Bool
	halted     atomic.Bool
	captureCtx context.CancelFunc
	captureWG  sync.WaitGroup

	writeMu sync.Mutex
}

func NewClient(bufferFrames int) (*Client, error) {
	if bufferFrames <= 0 {
		bufferFrames = defaultBufferFrames
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize portaudio: %w", classifyDeviceError(err), err)
	}

	in := make([]int16, bufferFrames)
	out := make([]int16, bufferFrames)
	stream, err := portaudio.OpenDefaultStream(audio.DefaultChannels, audio.DefaultChannels, audio.DefaultSampleRate, bufferFrames, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open stream: %w", classifyDeviceError(err), err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start stream: %w: %w", classifyDeviceError(err), err)
	}

	return &Client{
		bufferFrames: bufferFrames,
		stream:       stream,
		in:           in,
		out:          out,
	}, nil
}

// StartCapture reads the microphone on a dedicated goroutine until
// StopCapture or context cancellation.
func (c *Client) StartCapture(ctx context.Context, onAudio func(chunk []byte)) error {
	if !c.capturing.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.captureCtx = cancel

	c.captureWG.Add(1)
	go func() {
		defer c.captureWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := c.stream.Read(); err != nil {
				continue
			}

			buf := bytes.Buffer{}
			_ = binary.Write(&buf, binary.LittleEndian, c.in)
			onAudio(buf.Bytes())
		}
	}()

	return nil
}

func (c *Client) StopCapture() error {
	if !c.capturing.CompareAndSwap(true, false) {
		return nil
	}
	c.captureCtx()
	c.captureWG.Wait()
	return nil
}

// Play writes the chunk to the stream one device buffer at a time; a
// short tail is zero-padded. Halt aborts between buffers.
func (c *Client) Play(ctx context.Context, chunk []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.halted.Store(false)
	bufferBytes := c.bufferFrames * 2

	for offset := 0; offset < len(chunk); offset += bufferBytes {
		if c.halted.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(offset+bufferBytes, len(chunk))
		clear(c.out)
		if err := binary.Read(bytes.NewReader(chunk[offset:end]), binary.LittleEndian, c.out[:(end-offset)/2]); err != nil {
			return fmt.Errorf("failed to frame playback buffer: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to stream: %w", err)
		}
	}
	return nil
}

func (c *Client) Halt() {
	c.halted.Store(true)
}

func (c *Client) Close() error {
	_ = c.StopCapture()
	err := c.stream.Close()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

// classifyDeviceError maps a PortAudio error to the capture error
// taxonomy. Permission problems never get their own PortAudio code;
// hosts report them through the unanticipated-host-error text.
func classifyDeviceError(err error) error {
	var hostErr portaudio.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		text := strings.ToLower(hostErr.Text)
		if strings.Contains(text, "denied") || strings.Contains(text, "permission") {
			return audio.ErrPermissionDenied
		}
		return audio.ErrDeviceUnavailable
	}

	switch {
	case errors.Is(err, portaudio.SampleFormatNotSupported),
		errors.Is(err, portaudio.InvalidSampleRate),
		errors.Is(err, portaudio.InvalidChannelCount):
		return audio.ErrUnsupportedEncoding
	default:
		return audio.ErrDeviceUnavailable
	}
}
