package transmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAACFramer_SplitsID3AndADTSRuns(t *testing.T) {
	var id3Tags [][]byte
	var adtsRuns [][]byte
	f := NewAACFramer(AACFramerConfig{
		OnID3Data:  func(b []byte) { id3Tags = append(id3Tags, b) },
		OnADTSData: func(b []byte) { adtsRuns = append(adtsRuns, b) },
	})

	tag := buildID3Tag([]byte("abc"))
	frame := buildADTSFrame(4, 2, []byte{1, 2, 3})
	tag2 := buildID3Tag([]byte("def"))

	f.Push(append(append(append([]byte{}, tag...), frame...), tag2...))

	require.Len(t, id3Tags, 2)
	require.Len(t, adtsRuns, 1)
	assert.Equal(t, frame, adtsRuns[0])
}

func TestAACFramer_FlushForcesTrailingADTSRun(t *testing.T) {
	var adtsRuns [][]byte
	f := NewAACFramer(AACFramerConfig{OnADTSData: func(b []byte) { adtsRuns = append(adtsRuns, b) }})

	frame := buildADTSFrame(4, 2, []byte{9, 9, 9})
	f.Push(frame)
	assert.Empty(t, adtsRuns, "buffered until flush since no ID3 marker delimits the end")
	f.Flush()
	require.Len(t, adtsRuns, 1)
	assert.Equal(t, frame, adtsRuns[0])
}

func TestAACFramer_Reset(t *testing.T) {
	f := NewAACFramer(AACFramerConfig{})
	f.Push([]byte{0xFF, 0xF1, 0x00})
	f.Reset()
	assert.Empty(t, f.buffer)
	assert.False(t, f.flushing)
}
