package transmux

import "log/slog"

// CaptionDecoder turns a resolved pair of CEA-608 bytes for one channel
// into cue text. This package ships no built-in implementation (Unicode
// character-set mapping and the pop-on/roll-up/paint-on display state
// machines are a display-layer concern outside this transmuxer's
// bit-level scope); callers supply one.
type CaptionDecoder interface {
	// Decode receives the two CEA-608 data bytes (parity already
	// stripped to 7 bits) for channel field 0 or 1, tagged with the PTS
	// they were extracted at, and returns zero or more completed cues.
	Decode(channel int, b1, b2 byte, pts int64) []CaptionCue
}

// CaptionExtractorConfig configures CaptionExtractor.
type CaptionExtractorConfig struct {
	Logger  *slog.Logger
	Decoder CaptionDecoder

	OnCaption func(CaptionCue)
}

// captionTrackState holds the per-track-id decoder state a
// CaptionExtractor keeps isolated, so switching which H.264 track feeds
// captions (e.g. after a program change) doesn't bleed stale CC1/CC2
// state across tracks.
type captionTrackState struct {
	// reserved for future channel-specific buffering; the decoder itself
	// owns display-state machines, this only scopes PTS bookkeeping.
	lastPTS int64
}

// CaptionExtractor decodes CEA-608 byte pairs out of CEA-708 SEI
// payloads forwarded by H264Parser, per §4.10.
type CaptionExtractor struct {
	config CaptionExtractorConfig

	trackStates map[int]*captionTrackState
}

// NewCaptionExtractor creates a CaptionExtractor.
func NewCaptionExtractor(config CaptionExtractorConfig) *CaptionExtractor {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CaptionExtractor{
		config:      config,
		trackStates: make(map[int]*captionTrackState),
	}
}

// PushSEI feeds one SEI user_data_unregistered payload (with the ATSC
// A/53 UUID prefix already stripped by H264Parser) for the given track.
func (c *CaptionExtractor) PushSEI(trackID int, pts, dts int64, payload []byte) {
	if c.config.Decoder == nil {
		return
	}
	state, ok := c.trackStates[trackID]
	if !ok {
		state = &captionTrackState{}
		c.trackStates[trackID] = state
	}
	state.lastPTS = pts

	for _, pair := range parseCEA608Pairs(payload) {
		cues := c.config.Decoder.Decode(pair.channel, pair.b1, pair.b2, pts)
		for _, cue := range cues {
			if c.config.OnCaption != nil {
				c.config.OnCaption(cue)
			}
		}
	}
}

type cea608Pair struct {
	channel int
	b1, b2  byte
}

// parseCEA608Pairs walks the cc_data() syntax of a CEA-708 user_data
// payload: a marker byte, process_cc_data_flag, cc_count, reserved
// byte, then cc_count triplets of (cc_valid/cc_type, cc_data_1,
// cc_data_2), per ATSC A/53 Part 4 Annex A / CEA-708. Only cc_type 0/1
// (NTSC line 21, the CEA-608-compatible byte pairs) are surfaced.
func parseCEA608Pairs(payload []byte) []cea608Pair {
	if len(payload) < 2 {
		return nil
	}

	processCCDataFlag := payload[0]&0x40 != 0
	if !processCCDataFlag {
		return nil
	}
	ccCount := int(payload[0] & 0x1F)

	offset := 2 // skip the cc_count byte and the reserved em_data byte
	var out []cea608Pair
	for i := 0; i < ccCount; i++ {
		if offset+2 >= len(payload) {
			break
		}
		ccValid := payload[offset]&0x04 != 0
		ccType := payload[offset] & 0x03
		b1 := payload[offset+1] & 0x7F
		b2 := payload[offset+2] & 0x7F
		offset += 3

		if !ccValid || ccType > 1 {
			continue
		}
		out = append(out, cea608Pair{channel: int(ccType), b1: b1, b2: b2})
	}
	return out
}

// Reset discards per-track decoder state, e.g. on a track switch.
func (c *CaptionExtractor) Reset() {
	c.trackStates = make(map[int]*captionTrackState)
}

// EndTimeline resets per-track state: a timeline discontinuity gives no
// guarantee the next track ID means the same logical caption stream.
func (c *CaptionExtractor) EndTimeline() {
	c.Reset()
}

func (c *CaptionExtractor) Flush()        {}
func (c *CaptionExtractor) PartialFlush() {}
