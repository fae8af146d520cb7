package transmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildADTSFrame builds a minimal ADTS AAC frame header (no CRC) around
// payload, per ISO/IEC 13818-7 Table 1.18.
func buildADTSFrame(samplingFreqIdx, channelConfig int, payload []byte) []byte {
	frameLength := 7 + len(payload)
	header := make([]byte, 7)
	header[0] = 0xFF
	header[1] = 0xF1 // MPEG-4, layer 00, protection_absent=1
	header[2] = byte(1<<6) | byte(samplingFreqIdx<<2) | byte(channelConfig>>2)
	header[3] = byte(channelConfig&0x3)<<6 | byte(frameLength>>11)
	header[4] = byte(frameLength >> 3)
	header[5] = byte(frameLength&0x7)<<5 | 0x1F
	header[6] = 0xFC
	return append(header, payload...)
}

func TestADTSParser_ParsesFrameAndComputesPTS(t *testing.T) {
	var frames []ADTSFrame
	p := NewADTSParser(ADTSParserConfig{
		OnFrame: func(f ADTSFrame) { frames = append(frames, f) },
	})

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	frame1 := buildADTSFrame(4, 2, payload) // 44100Hz, stereo
	frame2 := buildADTSFrame(4, 2, payload)

	p.Push(90000, 90000, append(append([]byte{}, frame1...), frame2...))

	require.Len(t, frames, 2)
	assert.Equal(t, 44100, frames[0].SampleRate)
	assert.Equal(t, 2, frames[0].ChannelCount)
	assert.Equal(t, int64(90000), frames[0].PTS)

	expectedDuration := int64(1024) * 90000 / 44100
	assert.Equal(t, int64(90000)+expectedDuration, frames[1].PTS)
}

func TestADTSParser_ResyncsOnBadSyncWord(t *testing.T) {
	desyncs := 0
	var frames []ADTSFrame
	p := NewADTSParser(ADTSParserConfig{
		OnFrame:  func(f ADTSFrame) { frames = append(frames, f) },
		OnDesync: func() { desyncs++ },
	})

	garbage := []byte{0x11, 0x22, 0x33}
	frame := buildADTSFrame(3, 2, []byte{0xAA, 0xBB})
	p.Push(0, 0, append(append([]byte{}, garbage...), frame...))

	require.Len(t, frames, 1)
	assert.Equal(t, len(garbage), desyncs)
}

func TestADTSParser_WaitsForCompleteFrame(t *testing.T) {
	var frames []ADTSFrame
	p := NewADTSParser(ADTSParserConfig{
		OnFrame: func(f ADTSFrame) { frames = append(frames, f) },
	})
	frame := buildADTSFrame(4, 2, []byte{1, 2, 3, 4, 5, 6})
	p.Push(0, 0, frame[:5])
	assert.Empty(t, frames)
	p.Push(0, 0, frame[5:])
	require.Len(t, frames, 1)
}

func TestADTSParser_Reset(t *testing.T) {
	p := NewADTSParser(ADTSParserConfig{OnFrame: func(ADTSFrame) {}})
	p.Push(100, 100, buildADTSFrame(4, 2, []byte{1, 2, 3})[:4])
	p.Reset()
	assert.Empty(t, p.buffer)
	assert.Equal(t, int64(0), p.frameNum)
}
