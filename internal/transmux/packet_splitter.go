package transmux

import "log/slog"

// tsPacketSize is the fixed MPEG-2 Transport Stream packet length.
const tsPacketSize = 188

// tsSyncByte is the required first byte of every TS packet.
const tsSyncByte = 0x47

// PacketSplitterConfig configures PacketSplitter.
type PacketSplitterConfig struct {
	Logger *slog.Logger

	// OnPacket receives each validated 188-byte TS packet. The slice is
	// a view into the splitter's internal buffer and must be copied by
	// the receiver before retention, per the ownership model in §3.
	OnPacket func(packet []byte)

	// OnDesync, if set, is called once per byte the resync scan
	// discards while searching for the next valid sync-byte pair. It is
	// a diagnostics-only hook (e.g. for a metrics counter); the pipeline
	// never treats desync as an error.
	OnDesync func()
}

// PacketSplitter accepts opaque byte chunks and emits exactly 188-byte TS
// packets, resynchronizing byte-by-byte on sync loss (§4.1).
type PacketSplitter struct {
	config PacketSplitterConfig
	carry  []byte
}

// NewPacketSplitter creates a PacketSplitter.
func NewPacketSplitter(config PacketSplitterConfig) *PacketSplitter {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &PacketSplitter{config: config}
}

// Push processes an arbitrary byte chunk, emitting every complete,
// sync-validated 188-byte packet it contains.
func (s *PacketSplitter) Push(chunk []byte) {
	buf := chunk
	if len(s.carry) > 0 {
		buf = make([]byte, 0, len(s.carry)+len(chunk))
		buf = append(buf, s.carry...)
		buf = append(buf, chunk...)
		s.carry = nil
	}

	start := 0
	end := tsPacketSize
	for end < len(buf) {
		if buf[start] == tsSyncByte && buf[end] == tsSyncByte {
			pkt := make([]byte, tsPacketSize)
			copy(pkt, buf[start:end])
			s.config.OnPacket(pkt)
			start = end
			end = start + tsPacketSize
			continue
		}
		if s.config.OnDesync != nil {
			s.config.OnDesync()
		}
		start++
		end++
	}

	if start < len(buf) {
		s.carry = append([]byte(nil), buf[start:]...)
	}
}

// Flush emits a held partial packet only if it is itself 188 bytes and
// begins with the sync byte; otherwise the carry is simply discarded, as
// the design specifies no recovery is attempted on an incomplete tail.
func (s *PacketSplitter) Flush() {
	if len(s.carry) == tsPacketSize && s.carry[0] == tsSyncByte {
		s.config.OnPacket(s.carry)
	}
	s.carry = nil
}

// PartialFlush keeps carry state; there is nothing safe to emit early
// since a partial packet can never be validated.
func (s *PacketSplitter) PartialFlush() {}

// EndTimeline behaves like Flush: emit what's held and mark the
// boundary; the splitter itself has no timeline-relative state.
func (s *PacketSplitter) EndTimeline() {
	s.Flush()
}

// Reset discards all buffered state.
func (s *PacketSplitter) Reset() {
	s.carry = nil
}
