package transmux

import "log/slog"

// ID3ParserConfig configures ID3Parser.
type ID3ParserConfig struct {
	Logger *slog.Logger

	OnCue func(ID3Cue)
}

// ID3Parser extracts whole ID3v2 tags from timed-metadata PES payloads,
// per the timed ID3 handling implied by §4.3's stream-type routing.
// ID3v2 tag size fields are synchsafe (7 usable bits per byte); §4's
// "lastDispatchType carry-forward" Open Question decision applies here:
// a PES packet with no fresh PTS inherits the most recent one seen, so a
// tag split across PES boundaries still resolves to a sane cue time.
type ID3Parser struct {
	config ID3ParserConfig

	buffer          []byte
	lastPTS         int64
	havePTS         bool
	timelineStartPTS int64
	haveTimelineStart bool
}

// NewID3Parser creates an ID3Parser.
func NewID3Parser(config ID3ParserConfig) *ID3Parser {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ID3Parser{config: config}
}

// Push feeds one timed-metadata PES packet's payload. PTS may be absent
// (zero) for continuation packets; when so, the last known PTS carries
// forward per the Open Question decision above.
func (p *ID3Parser) Push(pts int64, havePTS bool, data []byte) {
	if havePTS {
		p.lastPTS = pts
		p.havePTS = true
		if !p.haveTimelineStart {
			p.timelineStartPTS = pts
			p.haveTimelineStart = true
		}
	}
	p.buffer = append(p.buffer, data...)
	p.drain()
}

func (p *ID3Parser) drain() {
	for {
		if len(p.buffer) < 10 {
			return
		}
		if p.buffer[0] != 'I' || p.buffer[1] != 'D' || p.buffer[2] != '3' {
			// Not (or no longer) aligned to a tag header: drop the byte
			// and keep scanning, mirroring the resync behavior of the
			// other framers in this package.
			p.buffer = p.buffer[1:]
			continue
		}

		size := synchsafeSize(p.buffer[6:10])
		total := 10 + size
		if len(p.buffer) < total {
			return
		}

		tag := append([]byte(nil), p.buffer[:total]...)
		p.buffer = p.buffer[total:]

		cueTime := 0.0
		if p.havePTS {
			cueTime = float64(p.lastPTS-p.timelineStartPTS) / 90000
		}
		if p.config.OnCue != nil {
			p.config.OnCue(ID3Cue{Data: tag, CueTime: cueTime})
		}
	}
}

// synchsafeSize decodes a 4-byte synchsafe integer (7 usable bits per
// byte, high bit always 0), per the ID3v2 header's size field.
func synchsafeSize(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

// Flush drops any incomplete trailing tag; there is nothing useful to
// recover from a partial ID3 header.
func (p *ID3Parser) Flush() {
	p.buffer = nil
}

// PartialFlush keeps the trailing partial tag buffered.
func (p *ID3Parser) PartialFlush() {}

// EndTimeline flushes and resets the cue-time reference point.
func (p *ID3Parser) EndTimeline() {
	p.Flush()
	p.haveTimelineStart = false
}

// Reset discards all buffered and reference state.
func (p *ID3Parser) Reset() {
	p.buffer = nil
	p.lastPTS = 0
	p.havePTS = false
	p.timelineStartPTS = 0
	p.haveTimelineStart = false
}
