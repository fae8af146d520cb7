package transmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildID3Tag(frameData []byte) []byte {
	tag := []byte{'I', 'D', '3', 0x04, 0x00, 0x00}
	size := len(frameData)
	tag = append(tag, byte(size>>21)&0x7F, byte(size>>14)&0x7F, byte(size>>7)&0x7F, byte(size)&0x7F)
	return append(tag, frameData...)
}

func TestID3Parser_ExtractsWholeTagAndComputesCueTime(t *testing.T) {
	var cues []ID3Cue
	p := NewID3Parser(ID3ParserConfig{OnCue: func(c ID3Cue) { cues = append(cues, c) }})

	tag := buildID3Tag([]byte("PRIV frame body"))
	p.Push(90000, true, tag)

	require.Len(t, cues, 1)
	assert.Equal(t, tag, cues[0].Data)
	assert.Equal(t, 0.0, cues[0].CueTime, "first cue after the timeline start carries a zero offset")
}

func TestID3Parser_CarriesLastPTSForwardAcrossContinuations(t *testing.T) {
	var cues []ID3Cue
	p := NewID3Parser(ID3ParserConfig{OnCue: func(c ID3Cue) { cues = append(cues, c) }})

	tag := buildID3Tag([]byte("body"))
	p.Push(90000, true, tag[:8])
	p.Push(0, false, tag[8:])

	require.Len(t, cues, 1)
	assert.Equal(t, 0.0, cues[0].CueTime)
}

func TestID3Parser_SkipsGarbageUntilNextTag(t *testing.T) {
	var cues []ID3Cue
	p := NewID3Parser(ID3ParserConfig{OnCue: func(c ID3Cue) { cues = append(cues, c) }})

	tag := buildID3Tag([]byte("x"))
	p.Push(0, true, append([]byte{0x01, 0x02, 0x03}, tag...))
	require.Len(t, cues, 1)
}

func TestID3Parser_FlushDropsIncompleteTag(t *testing.T) {
	var cues []ID3Cue
	p := NewID3Parser(ID3ParserConfig{OnCue: func(c ID3Cue) { cues = append(cues, c) }})
	tag := buildID3Tag([]byte("full body"))
	p.Push(0, true, tag[:8])
	p.Flush()
	assert.Empty(t, cues)
	assert.Empty(t, p.buffer)
}

func TestSynchsafeSize(t *testing.T) {
	assert.Equal(t, 0, synchsafeSize([]byte{0, 0, 0, 0}))
	assert.Equal(t, 127, synchsafeSize([]byte{0, 0, 0, 0x7F}))
	assert.Equal(t, 128, synchsafeSize([]byte{0, 0, 0x01, 0x00}))
}
