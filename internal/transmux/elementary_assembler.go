package transmux

import "log/slog"

// ElementaryAssemblerConfig configures ElementaryAssembler.
type ElementaryAssemblerConfig struct {
	Logger *slog.Logger

	// OnPES receives each assembled PES packet.
	OnPES func(PESPacket)

	// OnTracks receives the track metadata event emitted on PMT parse.
	OnTracks func([]TrackInfo)
}

// esBuffer accumulates PES fragments for a single elementary stream
// between payload-unit-start markers.
type esBuffer struct {
	trackID    int
	streamType StreamType
	fragments  [][]byte
	size       int
	started    bool
}

func (b *esBuffer) append(payload []byte) {
	frag := append([]byte(nil), payload...)
	b.fragments = append(b.fragments, frag)
	b.size += len(frag)
}

func (b *esBuffer) concat() []byte {
	out := make([]byte, 0, b.size)
	for _, f := range b.fragments {
		out = append(out, f...)
	}
	return out
}

func (b *esBuffer) reset(trackID int, streamType StreamType) {
	b.trackID = trackID
	b.streamType = streamType
	b.fragments = nil
	b.size = 0
	b.started = false
}

// ElementaryAssembler owns one buffer per stream type (video, audio,
// timed-metadata), assembling PES packets from fragments delimited by
// payload-unit-start markers, per §4.3.
type ElementaryAssembler struct {
	config ElementaryAssemblerConfig

	video esBuffer
	audio esBuffer
	meta  map[int]*esBuffer // metadata PID -> buffer, multiple metadata tracks possible
}

// NewElementaryAssembler creates an ElementaryAssembler.
func NewElementaryAssembler(config ElementaryAssemblerConfig) *ElementaryAssembler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ElementaryAssembler{
		config: config,
		meta:   make(map[int]*esBuffer),
	}
}

// PushPES is the callback wired to PacketParser.OnPES.
func (a *ElementaryAssembler) PushPES(pid int, streamType StreamType, payloadUnitStart bool, payload []byte) {
	switch streamType {
	case StreamTypeVideo:
		a.pushInto(&a.video, pid, streamType, payloadUnitStart, payload)
	case StreamTypeAudio:
		a.pushInto(&a.audio, pid, streamType, payloadUnitStart, payload)
	case StreamTypeTimedMetadata:
		buf, ok := a.meta[pid]
		if !ok {
			buf = &esBuffer{}
			a.meta[pid] = buf
		}
		a.pushInto(buf, pid, streamType, payloadUnitStart, payload)
	}
}

// PushTracks is the callback wired to PacketParser.OnTracks.
func (a *ElementaryAssembler) PushTracks(tracks []TrackInfo) {
	if a.config.OnTracks != nil {
		a.config.OnTracks(tracks)
	}
}

func (a *ElementaryAssembler) pushInto(buf *esBuffer, pid int, streamType StreamType, payloadUnitStart bool, payload []byte) {
	if payloadUnitStart {
		// Flush whatever was buffered before starting the new one.
		if buf.started && buf.size > 0 {
			a.flushBuffer(buf)
		}
		buf.reset(pid, streamType)
		buf.started = true
		buf.append(payload)
		return
	}

	if !buf.started {
		// Fragment arrived with no preceding start marker; nothing to
		// attach it to, so it is dropped.
		return
	}
	buf.append(payload)

	// Audio and metadata flush as soon as the declared packet_length is
	// satisfied; video's packet_length is always 0 in the wire header
	// and is only flushed on the next start marker or explicit flush,
	// per §4.3.
	if streamType != StreamTypeVideo {
		header := parsePESHeader(buf.fragments[0])
		if header.ok && header.packetLength > 0 {
			declared := header.packetLength + 6 // packet_length excludes the 6-byte prefix
			if buf.size >= declared {
				a.flushBuffer(buf)
				buf.started = false
			}
		}
	}
}

func (a *ElementaryAssembler) flushBuffer(buf *esBuffer) {
	if buf.size == 0 {
		return
	}
	data := buf.concat()
	header := parsePESHeader(data)
	if !header.ok || header.payloadOffset > len(data) {
		return
	}

	pes := PESPacket{
		TrackID:       buf.trackID,
		StreamType:    buf.streamType,
		PTS:           header.pts,
		DTS:           header.dts,
		Data:          data[header.payloadOffset:],
		DataAlignment: header.dataAlignment,
	}
	if a.config.OnPES != nil {
		a.config.OnPES(pes)
	}
}

// Flush emits every buffered PES packet and clears state.
func (a *ElementaryAssembler) Flush() {
	if a.video.started {
		a.flushBuffer(&a.video)
	}
	if a.audio.started {
		a.flushBuffer(&a.audio)
	}
	for _, buf := range a.meta {
		if buf.started {
			a.flushBuffer(buf)
		}
	}
	a.video.reset(0, StreamTypeVideo)
	a.audio.reset(0, StreamTypeAudio)
	a.meta = make(map[int]*esBuffer)
}

// PartialFlush behaves like Flush: there is no way to emit a PES packet
// without its full framing, so partial flush and full flush coincide for
// this stage.
func (a *ElementaryAssembler) PartialFlush() {
	a.Flush()
}

// EndTimeline flushes and marks the boundary.
func (a *ElementaryAssembler) EndTimeline() {
	a.Flush()
}

// Reset discards all buffered state without emitting anything.
func (a *ElementaryAssembler) Reset() {
	a.video.reset(0, StreamTypeVideo)
	a.audio.reset(0, StreamTypeAudio)
	a.meta = make(map[int]*esBuffer)
}
