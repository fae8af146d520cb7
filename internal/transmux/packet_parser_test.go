package transmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPAT(pmtPID int) []byte {
	section := make([]byte, 12)
	section[0] = 0x00 // table_id
	section[1] = 0xB0
	section[2] = 0x0D // section_length low byte (13 bytes after this field, rough)
	section[5] = 0x01 // current_next_indicator
	section[10] = byte(pmtPID>>8) & 0x1F
	section[11] = byte(pmtPID)
	return append([]byte{0x00}, section...) // pointer_field = 0
}

func buildPMT(entries []struct {
	streamType int
	pid        int
}) []byte {
	body := make([]byte, 12)
	body[0] = 0x02 // table_id
	body[5] = 0x01 // current_next_indicator
	for _, e := range entries {
		body = append(body, byte(e.streamType), byte(e.pid>>8)&0x1F|0xE0, byte(e.pid), 0xF0, 0x00)
	}
	sectionLength := len(body) - 3 + 4 // +4 for trailing CRC not actually appended, matches parser's clamp
	body[1] = 0xB0 | byte(sectionLength>>8&0x0F)
	body[2] = byte(sectionLength)
	body = append(body, 0, 0, 0, 0) // placeholder CRC32
	return append([]byte{0x00}, body...)
}

func TestPacketParser_DiscoversVideoAndAudioTracks(t *testing.T) {
	var tracks []TrackInfo
	var pesPIDs []int
	p := NewPacketParser(PacketParserConfig{
		OnTracks: func(tr []TrackInfo) { tracks = tr },
		OnPES:    func(pid int, st StreamType, pus bool, payload []byte) { pesPIDs = append(pesPIDs, pid) },
	})

	patPkt := buildTSPacket(0, true, 0)
	copy(patPkt[4:], buildPAT(0x20))
	p.Push(patPkt)

	pmtPkt := buildTSPacket(0x20, true, 0)
	copy(pmtPkt[4:], buildPMT([]struct {
		streamType int
		pid        int
	}{
		{streamTypeH264, 0x100},
		{streamTypeADTSAAC, 0x101},
	}))
	p.Push(pmtPkt)

	require.Len(t, tracks, 2)
	assert.Equal(t, CodecH264, tracks[0].Codec)
	assert.Equal(t, CodecAAC, tracks[1].Codec)

	videoPESStart := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80, 0x00, 0x00}
	videoPkt := buildTSPacket(0x100, true, 0)
	copy(videoPkt[4:], videoPESStart)
	p.Push(videoPkt)
	assert.Contains(t, pesPIDs, 0x100)
}

func TestPacketParser_IgnoresForwardPMTDeclaration(t *testing.T) {
	var tracks []TrackInfo
	p := NewPacketParser(PacketParserConfig{OnTracks: func(tr []TrackInfo) { tracks = tr }})

	patPkt := buildTSPacket(0, true, 0)
	copy(patPkt[4:], buildPAT(0x20))
	p.Push(patPkt)

	pmt := buildPMT([]struct {
		streamType int
		pid        int
	}{{streamTypeH264, 0x100}})
	pmt[6] = pmt[6] &^ 0x01 // clear current_next_indicator
	pmtPkt := buildTSPacket(0x20, true, 0)
	copy(pmtPkt[4:], pmt)
	p.Push(pmtPkt)

	assert.Nil(t, tracks)
}

func TestPacketParser_Reset(t *testing.T) {
	p := NewPacketParser(PacketParserConfig{})
	patPkt := buildTSPacket(0, true, 0)
	copy(patPkt[4:], buildPAT(0x20))
	p.Push(patPkt)
	require.Equal(t, 0x20, p.pmap.PMTPID)
	p.Reset()
	assert.Equal(t, 0, p.pmap.PMTPID)
}
