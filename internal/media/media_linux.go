//go:build linux && cgo

package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
)

// DefaultMicrophone captures from the system microphone through malgo and
// encodes the outbound track with opus.
func DefaultMicrophone() Microphone { return deviceMicrophone{} }

type deviceMicrophone struct{}

func (deviceMicrophone) Open(_ context.Context, cfg Config, enabled func() bool) (Source, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	inputs := 0
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			inputs++
			log.Debugf("audio input %q", d.Label)
		}
	}
	if inputs == 0 {
		return nil, ErrDeviceUnavailable
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(cfg.SampleRate)
			c.ChannelCount = prop.Int(1)
		},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("GetUserMedia: %w", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrDeviceUnavailable
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		for _, t := range tracks {
			t.Close()
		}
		return nil, fmt.Errorf("%w: unexpected track type %T", ErrDeviceUnavailable, tracks[0])
	}
	for _, t := range tracks[1:] {
		t.Close()
	}

	track.OnEnded(func(err error) {
		if err != nil {
			log.Warnf("microphone track ended: %v", err)
		}
	})
	track.Transform(muteGate(enabled))

	return &deviceSource{
		track:    track,
		reader:   track.NewReader(true),
		selector: codecSelector,
		rate:     cfg.SampleRate,
	}, nil
}

type deviceSource struct {
	track    *mediadevices.AudioTrack
	reader   audio.Reader
	selector *mediadevices.CodecSelector
	rate     int
}

func (s *deviceSource) Track() webrtc.TrackLocal { return s.track }

func (s *deviceSource) PopulateCodecs(me *webrtc.MediaEngine) {
	s.selector.Populate(me)
}

func (s *deviceSource) Read() ([]int16, error) {
	chunk, release, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	if chunk == nil {
		return nil, errors.New("media: empty audio chunk")
	}
	info := chunk.ChunkInfo()
	return Resample(monoSamples(chunk), info.SamplingRate, s.rate), nil
}

func (s *deviceSource) Close() error {
	return s.track.Close()
}

// monoSamples copies the first channel of chunk as int16.
func monoSamples(chunk wave.Audio) []int16 {
	info := chunk.ChunkInfo()
	ch := max(info.Channels, 1)
	out := make([]int16, info.Len)
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		for i := range out {
			out[i] = c.Data[i*ch]
		}
	case *wave.Float32Interleaved:
		for i := range out {
			out[i] = FloatToInt16(c.Data[i*ch])
		}
	default:
		for i := range out {
			out[i] = int16(chunk.At(i, 0).Int() >> 48)
		}
	}
	return out
}

// muteGate silences every chunk read while enabled reports false. It sits
// in front of the encoder, so the outbound RTP carries silence too.
func muteGate(enabled func() bool) audio.TransformFunc {
	return func(r audio.Reader) audio.Reader {
		return audio.ReaderFunc(func() (wave.Audio, func(), error) {
			chunk, release, err := r.Read()
			if err != nil || enabled() {
				return chunk, release, err
			}
			switch c := chunk.(type) {
			case *wave.Int16Interleaved:
				clear(c.Data)
			case *wave.Float32Interleaved:
				clear(c.Data)
			}
			return chunk, release, nil
		})
	}
}
