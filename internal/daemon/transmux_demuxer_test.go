package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupportsTransmuxDemuxer(t *testing.T) {
	assert.True(t, SupportsTransmuxDemuxer("h264", "aac"))
	assert.True(t, SupportsTransmuxDemuxer("", ""))
	assert.True(t, SupportsTransmuxDemuxer("H264", "AAC"))
	assert.False(t, SupportsTransmuxDemuxer("h265", "aac"))
	assert.False(t, SupportsTransmuxDemuxer("h264", "opus"))
	assert.False(t, SupportsTransmuxDemuxer("av1", "aac"))
}

func TestTransmuxDemuxer_WriteAndClose(t *testing.T) {
	var videoSamples int
	var audioSamples int

	d := NewTransmuxDemuxer(TransmuxDemuxerConfig{
		TargetVideoCodec: "h264",
		TargetAudioCodec: "aac",
		OnVideoSample: func(pts, dts int64, data []byte, isKeyframe bool) {
			videoSamples++
		},
		OnAudioSample: func(pts int64, data []byte) {
			audioSamples++
		},
	})
	defer d.Close()

	// Not a well-formed TS stream; Write must not error even when no
	// complete sample can be produced from it yet.
	err := d.Write([]byte{0x47, 0x40, 0x00, 0x10, 0x00})
	assert.NoError(t, err)
	assert.Equal(t, 0, videoSamples)
	assert.Equal(t, 0, audioSamples)
}
