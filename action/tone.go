package action

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

const (
	sampleRate = 44100
	fadeLength = 5 * time.Millisecond
	amplitude  = 0.8
)

// Tone is a fixed sine beep.
type Tone struct {
	FrequencyHz float64
	Duration    time.Duration
}

// DefaultTone is the 800 Hz, 200 ms alert.
func DefaultTone() Tone { return Tone{FrequencyHz: 800, Duration: 200 * time.Millisecond} }

// WAV renders the tone as a 16-bit mono PCM RIFF file. Short linear ramps at both ends
// keep the speaker from clicking.
func (t Tone) WAV() []byte {
	n := int(int64(sampleRate) * int64(t.Duration) / int64(time.Second))
	fade := int(int64(sampleRate) * int64(fadeLength) / int64(time.Second))
	if fade*2 > n {
		fade = n / 2
	}

	samples := make([]int16, n)
	for i := range samples {
		gain := amplitude
		switch {
		case i < fade:
			gain *= float64(i) / float64(fade)
		case i >= n-fade:
			gain *= float64(n-1-i) / float64(fade)
		}
		v := math.Sin(2 * math.Pi * t.FrequencyHz * float64(i) / sampleRate)
		samples[i] = int16(v * gain * math.MaxInt16)
	}

	dataLen := uint32(n * 2)
	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, sampleRate, sampleRate * 2, 2, 16})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
