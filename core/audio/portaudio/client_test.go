package portaudio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
	"github.com/siacoach/voice-core/core/audio"
)

func TestClassifyDeviceError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"sample format not supported", portaudio.SampleFormatNotSupported, audio.ErrUnsupportedEncoding},
		{"invalid sample rate", portaudio.InvalidSampleRate, audio.ErrUnsupportedEncoding},
		{"invalid channel count", portaudio.InvalidChannelCount, audio.ErrUnsupportedEncoding},
		{"device unavailable", portaudio.DeviceUnavailable, audio.ErrDeviceUnavailable},
		{"generic", errors.New("boom"), audio.ErrDeviceUnavailable},
		{
			"host reports access denied",
			portaudio.UnanticipatedHostError{Text: "Access denied by the audio host"},
			audio.ErrPermissionDenied,
		},
		{
			"host reports other failure",
			portaudio.UnanticipatedHostError{Text: "device wedged"},
			audio.ErrDeviceUnavailable,
		},
	}

	for _, tc := range cases {
		if got := classifyDeviceError(tc.err); got != tc.want {
			t.Errorf("%s: classified as %v, want %v", tc.name, got, tc.want)
		}
	}
}
