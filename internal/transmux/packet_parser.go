package transmux

import "log/slog"

// patPID is the well-known PID carrying the Program Association Table.
const patPID = 0

// Elementary stream type values used by PMT descriptors, per
// ISO/IEC 13818-1 Table 2-34 (only the subset this package acts on).
const (
	streamTypeH264        = 0x1B
	streamTypeADTSAAC     = 0x0F
	streamTypeID3         = 0x15
	streamTypeAC3         = 0x81
	streamTypeMPEG1Audio  = 0x03
	streamTypeMPEG2Audio  = 0x04
)

// ProgramMap records the PMT PID, elementary-stream PIDs, and metadata
// PID-to-type map discovered from PAT/PMT parsing. It survives until
// Reset or a discontinuity, per the data model.
type ProgramMap struct {
	PMTPID      int
	VideoPID    int
	VideoStream int // streamType* constant
	AudioPID    int
	AudioStream int // streamType* constant
	MetadataPID map[int]int
}

// TrackInfo describes one discovered elementary stream for the metadata
// event emitted after PMT parsing.
type TrackInfo struct {
	ID    int
	Codec Codec
	Type  StreamType
}

// PacketParserConfig configures PacketParser.
type PacketParserConfig struct {
	Logger *slog.Logger

	// OnPES is invoked once per PES-bearing TS packet, tagged with the
	// stream type resolved from the current program map.
	OnPES func(pid int, streamType StreamType, payloadUnitStart bool, payload []byte)

	// OnTracks is invoked once per PMT parse with one TrackInfo per
	// discovered elementary stream.
	OnTracks func([]TrackInfo)
}

// PacketParser extracts PID, payload-unit-start, and adaptation-field
// framing from each TS packet, parses PAT/PMT, and routes PES-bearing
// packets to downstream stages (§4.2).
type PacketParser struct {
	config PacketParserConfig

	pmap ProgramMap

	// pending holds packets seen before a PMT has been parsed, so they
	// can be drained once the program map is known.
	pending []pendingPacket
}

type pendingPacket struct {
	pid               int
	payloadUnitStart  bool
	payload           []byte
}

// NewPacketParser creates a PacketParser.
func NewPacketParser(config PacketParserConfig) *PacketParser {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &PacketParser{
		config: config,
		pmap:   ProgramMap{MetadataPID: make(map[int]int)},
	}
}

// Push processes a single 188-byte TS packet.
func (p *PacketParser) Push(packet []byte) {
	if len(packet) != tsPacketSize {
		return
	}

	pid := int(packet[1]&0x1F)<<8 | int(packet[2])
	payloadUnitStart := packet[1]&0x40 != 0
	adaptationFieldControl := (packet[3] >> 4) & 0x3

	offset := 4
	if adaptationFieldControl > 1 {
		if offset >= len(packet) {
			return
		}
		adaptationLength := int(packet[offset])
		offset++
		offset += adaptationLength
	}
	if offset > len(packet) {
		return
	}
	// adaptation-field-only packets (control == 2) carry no payload.
	if adaptationFieldControl == 2 {
		return
	}
	payload := packet[offset:]

	switch {
	case pid == patPID:
		p.parsePAT(payload, payloadUnitStart)
	case p.pmap.PMTPID != 0 && pid == p.pmap.PMTPID:
		p.parsePMT(payload, payloadUnitStart)
		p.drainPending()
	case p.pmap.PMTPID == 0:
		// No PMT seen yet: queue for later routing.
		p.pending = append(p.pending, pendingPacket{pid: pid, payloadUnitStart: payloadUnitStart, payload: append([]byte(nil), payload...)})
	default:
		p.routePES(pid, payloadUnitStart, payload)
	}
}

func (p *PacketParser) drainPending() {
	pending := p.pending
	p.pending = nil
	for _, pkt := range pending {
		if pkt.pid == p.pmap.PMTPID {
			continue
		}
		p.routePES(pkt.pid, pkt.payloadUnitStart, pkt.payload)
	}
}

func (p *PacketParser) routePES(pid int, payloadUnitStart bool, payload []byte) {
	streamType := p.streamTypeFor(pid)
	if streamType == StreamTypeUnknown {
		// Unknown stream type: ignored, per §7.
		return
	}
	if p.config.OnPES != nil {
		p.config.OnPES(pid, streamType, payloadUnitStart, payload)
	}
}

func (p *PacketParser) streamTypeFor(pid int) StreamType {
	switch {
	case pid == p.pmap.VideoPID:
		return StreamTypeVideo
	case pid == p.pmap.AudioPID:
		return StreamTypeAudio
	default:
		if _, ok := p.pmap.MetadataPID[pid]; ok {
			return StreamTypeTimedMetadata
		}
		return StreamTypeUnknown
	}
}

// parsePAT extracts the first program's PMT PID from bytes 10-11 of the
// PAT section, per §4.2.
func (p *PacketParser) parsePAT(payload []byte, payloadUnitStart bool) {
	if !payloadUnitStart || len(payload) < 1 {
		return
	}
	pointerField := int(payload[0])
	section := payload[1+pointerField:]
	if len(section) < 12 {
		return
	}
	// section[0] = table_id, section[1:3] section_length fields.
	pmtPID := int(section[10]&0x1F)<<8 | int(section[11])
	if pmtPID != 0 {
		p.pmap.PMTPID = pmtPID
	}
}

// parsePMT parses elementary-stream descriptors, recording the first
// H.264 PID as video, first ADTS PID as audio, and every metadata PID to
// type, per §4.2. The forward-declaration case (current_next_indicator
// == 0) is silently ignored.
func (p *PacketParser) parsePMT(payload []byte, payloadUnitStart bool) {
	if !payloadUnitStart || len(payload) < 1 {
		return
	}
	pointerField := int(payload[0])
	section := payload[1+pointerField:]
	if len(section) < 12 {
		return
	}

	currentNextIndicator := section[5] & 0x01
	if currentNextIndicator == 0 {
		// Forward declaration: ignored per §7.
		return
	}

	sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
	if sectionLength+3 > len(section) {
		sectionLength = len(section) - 3
	}
	programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])

	cursor := 12 + programInfoLength
	end := sectionLength + 3 - 4 // exclude trailing CRC32
	if end > len(section) {
		end = len(section)
	}

	newMap := ProgramMap{PMTPID: p.pmap.PMTPID, MetadataPID: make(map[int]int)}
	var tracks []TrackInfo

	for cursor+5 <= end {
		streamType := int(section[cursor])
		elementaryPID := int(section[cursor+1]&0x1F)<<8 | int(section[cursor+2])
		esInfoLength := int(section[cursor+3]&0x0F)<<8 | int(section[cursor+4])
		cursor += 5 + esInfoLength

		switch streamType {
		case streamTypeH264:
			if newMap.VideoPID == 0 {
				newMap.VideoPID = elementaryPID
				newMap.VideoStream = streamType
				tracks = append(tracks, TrackInfo{ID: elementaryPID, Codec: CodecH264, Type: StreamTypeVideo})
			}
		case streamTypeADTSAAC:
			if newMap.AudioPID == 0 {
				newMap.AudioPID = elementaryPID
				newMap.AudioStream = streamType
				tracks = append(tracks, TrackInfo{ID: elementaryPID, Codec: CodecAAC, Type: StreamTypeAudio})
			}
		case streamTypeAC3:
			if newMap.AudioPID == 0 {
				newMap.AudioPID = elementaryPID
				newMap.AudioStream = streamType
				tracks = append(tracks, TrackInfo{ID: elementaryPID, Codec: CodecAC3, Type: StreamTypeAudio})
			}
		case streamTypeMPEG1Audio, streamTypeMPEG2Audio:
			if newMap.AudioPID == 0 {
				newMap.AudioPID = elementaryPID
				newMap.AudioStream = streamType
				tracks = append(tracks, TrackInfo{ID: elementaryPID, Codec: CodecMP3, Type: StreamTypeAudio})
			}
		case streamTypeID3:
			newMap.MetadataPID[elementaryPID] = streamType
			tracks = append(tracks, TrackInfo{ID: elementaryPID, Codec: CodecTimedID3, Type: StreamTypeTimedMetadata})
		}
	}

	// Overwrite any prior map, per §4.2.
	p.pmap = newMap

	if p.config.OnTracks != nil {
		p.config.OnTracks(tracks)
	}
}

func (p *PacketParser) Flush()        {}
func (p *PacketParser) PartialFlush() {}
func (p *PacketParser) EndTimeline()  {}

// Reset discards the program map and any pending packets.
func (p *PacketParser) Reset() {
	p.pmap = ProgramMap{MetadataPID: make(map[int]int)}
	p.pending = nil
}
