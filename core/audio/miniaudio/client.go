// Package miniaudio provides microphone capture and speaker playback
// through malgo, the miniaudio bindings. It is the default device
// backend: no system prerequisites beyond a working audio stack.
package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/siacoach/voice-core/core/audio"
)

// Client owns one malgo context with a capture and a playback device on
// it. It satisfies both [audio.Source] and [audio.Sink], so a single
// client can back a full duplex session.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureDevice
	playbackDevice
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize audio context: %w", classifyDeviceError(err), err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.captureDevice.init(audioCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := client.playbackDevice.init(audioCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(chunk []byte)) error {
	return c.captureDevice.start(ctx, onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureDevice.stop()
}

// Play blocks until the chunk has drained through the device or Halt
// discards it.
func (c *Client) Play(ctx context.Context, chunk []byte) error {
	return c.playbackDevice.play(ctx, chunk)
}

func (c *Client) Halt() {
	c.playbackDevice.halt()
}

func (c *Client) Close() error {
	_ = c.captureDevice.uninit()
	_ = c.playbackDevice.uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

// classifyDeviceError maps a malgo result to the capture error taxonomy
// so callers can tell an actionable permission or format problem from a
// generally unusable device.
func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, malgo.ErrAccessDenied):
		return audio.ErrPermissionDenied
	case errors.Is(err, malgo.ErrFormatNotSupported),
		errors.Is(err, malgo.ErrDeviceTypeNotSupported),
		errors.Is(err, malgo.ErrShareModeNotSupported):
		return audio.ErrUnsupportedEncoding
	default:
		return audio.ErrDeviceUnavailable
	}
}
