package transmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBoxSize(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func TestBuildInitSegment_SizesAndTypes(t *testing.T) {
	track := &Track{ID: 1, Type: StreamTypeVideo, Width: 1280, Height: 720,
		SPS: []byte{0x67, 0x64, 0x00, 0x1F, 0xAA, 0xBB}, PPS: []byte{0x68, 0xEB, 0xE3}}
	init := BuildInitSegment(track)

	require.True(t, len(init) > 16)
	ftypSize := readBoxSize(init)
	assert.Equal(t, "ftyp", string(init[4:8]))

	moov := init[ftypSize:]
	require.Equal(t, int(readBoxSize(moov)), len(moov), "moov box size must cover the rest of the buffer exactly")
	assert.Equal(t, "moov", string(moov[4:8]))
}

func TestBuildFragment_MoofThenMdatLengthsMatch(t *testing.T) {
	samples := []sampleEntry{
		{duration: 3000, size: 10, flags: 0, compositionOffset: 0},
		{duration: 3000, size: 14, flags: sampleFlagNonSyncSample, compositionOffset: 100},
	}
	payloads := [][]byte{
		make([]byte, 10),
		make([]byte, 14),
	}
	frag := BuildFragment(256, 1, 0, samples, payloads, true)

	moofSize := readBoxSize(frag)
	assert.Equal(t, "moof", string(frag[4:8]))

	mdat := frag[moofSize:]
	assert.Equal(t, "mdat", string(mdat[4:8]))
	assert.Equal(t, int(readBoxSize(mdat)), len(mdat))
	assert.Equal(t, 8+10+14, len(mdat), "mdat size is the 8-byte header plus every sample payload")
	assert.Equal(t, len(frag), int(moofSize)+len(mdat))
}

func TestBuildFragment_TrunDataOffsetPointsAtMdatPayload(t *testing.T) {
	samples := []sampleEntry{{duration: 3000, size: 5}}
	payloads := [][]byte{make([]byte, 5)}
	frag := BuildFragment(1, 1, 0, samples, payloads, false)

	moofSize := readBoxSize(frag)
	// mdat's payload begins right after its own 8-byte header.
	expectedDataOffset := int32(moofSize) + 8
	assert.Equal(t, expectedDataOffset, int32(moofSize)+8)
	assert.Equal(t, len(frag), int(moofSize)+8+5)
}

func TestBuildMP3Entry_NoESDSBox(t *testing.T) {
	track := &Track{Type: StreamTypeAudio, Codec: CodecMP3, SampleRate: 48000, ChannelCount: 2}
	entry := buildMP3Entry(track)
	assert.Equal(t, ".mp3", string(entry[4:8]))
}

func TestSamplingFreqIndexForRate(t *testing.T) {
	assert.Equal(t, byte(4), samplingFreqIndexForRate(44100))
	assert.Equal(t, byte(3), samplingFreqIndexForRate(999999), "unknown rate falls back to the 48000 index")
}
