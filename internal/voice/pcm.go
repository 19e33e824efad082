package voice

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const (
	DefaultSampleRate = 16000
	MinSampleRate     = 8000
	MaxSampleRate     = 48000
	frameDuration     = 20 * time.Millisecond
	silenceThreshRMS  = 0.015
	silenceDuration   = 600 * time.Millisecond
	maxBufferDuration = 60 * time.Second
)

// PCMBuffer collects 16-bit little-endian mono PCM chunks streamed over
// the voice socket until they are wrapped into a WAV file for Whisper.
type PCMBuffer struct {
	sampleRate int
	samples    []int
}

// ValidSampleRate reports whether rate is a PCM rate the voice socket accepts.
// Zero selects DefaultSampleRate.
func ValidSampleRate(rate int) bool {
	return rate == 0 || (rate >= MinSampleRate && rate <= MaxSampleRate)
}

func NewPCMBuffer(sampleRate int) *PCMBuffer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &PCMBuffer{sampleRate: sampleRate}
}

// Append decodes chunk and returns the decoded samples. A trailing odd
// byte is dropped.
func (b *PCMBuffer) Append(chunk []byte) ([]int, error) {
	if b.Duration() >= maxBufferDuration {
		return nil, fmt.Errorf("audio buffer exceeds %s", maxBufferDuration)
	}

	n := len(chunk) / 2
	decoded := make([]int, n)
	for i := 0; i < n; i++ {
		decoded[i] = int(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
	}
	b.samples = append(b.samples, decoded...)
	return decoded, nil
}

func (b *PCMBuffer) SampleRate() int { return b.sampleRate }

func (b *PCMBuffer) Len() int { return len(b.samples) }

func (b *PCMBuffer) Duration() time.Duration {
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

func (b *PCMBuffer) Reset() {
	b.samples = b.samples[:0]
}

// WAV encodes the buffered samples as a 16-bit mono WAV file.
func (b *PCMBuffer) WAV() ([]byte, error) {
	if len(b.samples) == 0 {
		return nil, fmt.Errorf("audio buffer is empty")
	}

	file := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(file, b.sampleRate, 16, 1, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: b.sampleRate, NumChannels: 1},
		Data:           b.samples,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	return io.ReadAll(file.Reader())
}

// SilenceDetector reports the end of an utterance: speech followed by
// 600ms of frames under the RMS threshold.
type SilenceDetector struct {
	frameSize     int
	pending       []int
	speaking      bool
	silenceFrames int
}

func NewSilenceDetector(sampleRate int) *SilenceDetector {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	// A frame holds at least one sample, or Feed would never drain.
	return &SilenceDetector{
		frameSize: max(1, int(int64(sampleRate)*int64(frameDuration)/int64(time.Second))),
	}
}

// Feed consumes samples and returns true once the speaker has gone quiet.
func (d *SilenceDetector) Feed(samples []int) bool {
	d.pending = append(d.pending, samples...)

	ended := false
	for len(d.pending) >= d.frameSize {
		frame := d.pending[:d.frameSize]
		d.pending = d.pending[d.frameSize:]

		if frameRMS(frame) > silenceThreshRMS {
			d.speaking = true
			d.silenceFrames = 0
			continue
		}
		if d.speaking {
			d.silenceFrames++
			if time.Duration(d.silenceFrames)*frameDuration >= silenceDuration {
				ended = true
			}
		}
	}
	return ended
}

func (d *SilenceDetector) Speaking() bool { return d.speaking }

func (d *SilenceDetector) Reset() {
	d.pending = d.pending[:0]
	d.speaking = false
	d.silenceFrames = 0
}

func frameRMS(f []int) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		v := float64(x) / math.MaxInt16
		s += v * v
	}
	return math.Sqrt(s / float64(len(f)))
}
