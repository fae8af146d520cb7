package transmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampRollover_CorrectsForwardWrap(t *testing.T) {
	var got []PESPacket
	r := NewTimestampRollover(RolloverConfig{
		Kind:  RolloverVideo,
		OnPES: func(p PESPacket) { got = append(got, p) },
	})

	r.Push(PESPacket{StreamType: StreamTypeVideo, PTS: ptsMax - 1000, DTS: ptsMax - 1000})
	// Wrapped value: small, but actually represents ptsMax-1000+3000.
	r.Push(PESPacket{StreamType: StreamTypeVideo, PTS: 2000, DTS: 2000})

	assert := assert.New(t)
	assert.Equal(ptsMax-1000, got[0].DTS)
	assert.Equal(ptsMax+2000, got[1].DTS)
}

func TestTimestampRollover_IgnoresNonMatchingStreamType(t *testing.T) {
	var got []PESPacket
	r := NewTimestampRollover(RolloverConfig{
		Kind:  RolloverVideo,
		OnPES: func(p PESPacket) { got = append(got, p) },
	})
	r.Push(PESPacket{StreamType: StreamTypeAudio, PTS: 5, DTS: 5})
	assert.Equal(t, int64(5), got[0].DTS, "non-matching stream type passes through unmodified")
}

func TestTimestampRollover_EndTimelineClearsReference(t *testing.T) {
	r := NewTimestampRollover(RolloverConfig{Kind: RolloverShared, OnPES: func(PESPacket) {}})
	r.Push(PESPacket{DTS: 500000})
	r.EndTimeline()
	assert.False(t, r.hasReference)
	assert.Equal(t, int64(0), r.reference)
}

func TestTimestampRollover_FlushAdvancesReferenceToLastDTS(t *testing.T) {
	r := NewTimestampRollover(RolloverConfig{Kind: RolloverShared, OnPES: func(PESPacket) {}})
	r.Push(PESPacket{DTS: 12345})
	r.Flush()
	assert.Equal(t, int64(12345), r.reference)
}
