// Package audio defines the device capability layer used by the voice
// session client.
//
// The session never touches a concrete audio device: capture and playback
// go through the [Source] and [Sink] interfaces so a non-default target
// (desktop, embedded, tests) can supply its own backend. The miniaudio
// and portaudio subpackages provide the two native backends.
package audio

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultSampleRate is the fixed speech-transport sample rate.
	DefaultSampleRate = 16000
	// DefaultChannels is the fixed speech-transport channel count.
	DefaultChannels = 1
	// DefaultFormat is the fixed speech-transport sample format.
	DefaultFormat = "linear16"
)

// Capture failure taxonomy. Backends wrap one of these so callers can
// surface an actionable message for each case.
var (
	ErrDeviceUnavailable   = errors.New("audio device unavailable")
	ErrPermissionDenied    = errors.New("audio device permission denied")
	ErrUnsupportedEncoding = errors.New("audio encoding unsupported")
)

// Source is a microphone capture capability.
//
// StartCapture is idempotent: starting an already-capturing source is a
// no-op. The onAudio callback runs on the backend's device goroutine and
// must not block.
type Source interface {
	StartCapture(ctx context.Context, onAudio func(chunk []byte)) error
	StopCapture() error
	Close() error
	EncodingInfo() EncodingInfo
}

// Sink is a speaker playback capability.
//
// Play blocks until the chunk has been played to completion or Halt is
// called. Halt stops in-progress playback immediately and is safe to call
// at any time, including concurrently with Play.
type Sink interface {
	Play(ctx context.Context, chunk []byte) error
	Halt()
	Close() error
	EncodingInfo() EncodingInfo
}

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Channels: DefaultChannels, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesPerFrame returns the byte width of one multi-channel sample frame.
func (e EncodingInfo) BytesPerFrame() int {
	channels := e.Channels
	if channels <= 0 {
		channels = 1
	}
	return e.Format.ByteSize() * channels
}

// ChunkBytes returns the payload size of a chunk spanning the given number
// of milliseconds at this encoding.
func (e EncodingInfo) ChunkBytes(milliseconds int) int {
	return e.SampleRate * milliseconds / 1000 * e.BytesPerFrame()
}

// ValidateChunk reports whether a chunk can be decoded at this encoding.
// A chunk that is not frame-aligned cannot be handed to a device.
func (e EncodingInfo) ValidateChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return fmt.Errorf("empty audio chunk")
	}
	if len(chunk)%e.BytesPerFrame() != 0 {
		return fmt.Errorf("audio chunk of %d bytes is not aligned to %d-byte frames", len(chunk), e.BytesPerFrame())
	}
	return nil
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
