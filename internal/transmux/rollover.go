package transmux

import "log/slog"

// ptsMax is 2^33, the modulus 33-bit PTS/DTS values wrap at.
const ptsMax = int64(1) << 33

// ptsRolloverThreshold is 2^32; a PTS/DTS that differs from the running
// reference by more than this is assumed to have wrapped, per §4.4.
const ptsRolloverThreshold = int64(1) << 32

// RolloverConfig configures TimestampRollover.
type RolloverConfig struct {
	Logger *slog.Logger
	Kind   RolloverKind

	OnPES func(PESPacket)
}

// TimestampRollover corrects 33-bit PTS/DTS wraparound for a single
// track, or for every track when configured as "shared" (§4.4).
type TimestampRollover struct {
	config RolloverConfig

	hasReference bool
	reference    int64
	lastDTS      int64
}

// NewTimestampRollover creates a TimestampRollover stage.
func NewTimestampRollover(config RolloverConfig) *TimestampRollover {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &TimestampRollover{config: config}
}

// Push corrects one PES packet's PTS/DTS in place (after copying) and
// forwards it downstream. Packets of a type this stage doesn't handle
// (when Kind != RolloverShared) pass straight through unmodified.
func (r *TimestampRollover) Push(pes PESPacket) {
	if r.config.Kind != RolloverShared && !r.matches(pes.StreamType) {
		if r.config.OnPES != nil {
			r.config.OnPES(pes)
		}
		return
	}

	if !r.hasReference {
		r.reference = pes.DTS
		r.hasReference = true
	}

	pes.DTS = r.correct(pes.DTS)
	pes.PTS = r.correct(pes.PTS)
	r.lastDTS = pes.DTS

	if r.config.OnPES != nil {
		r.config.OnPES(pes)
	}
}

func (r *TimestampRollover) matches(st StreamType) bool {
	switch r.config.Kind {
	case RolloverVideo:
		return st == StreamTypeVideo
	case RolloverAudio:
		return st == StreamTypeAudio
	case RolloverTimedMetadata:
		return st == StreamTypeTimedMetadata
	default:
		return true
	}
}

// correct applies the rollover algorithm described in §4.4: while the
// value is more than ptsRolloverThreshold away from the reference, shift
// it by a full ptsMax period in the direction that brings it closer.
func (r *TimestampRollover) correct(value int64) int64 {
	direction := int64(1)
	if value > r.reference {
		direction = -1
	}
	for absDiff(r.reference, value) > ptsRolloverThreshold {
		value += direction * ptsMax
	}
	return value
}

func absDiff(a, b int64) int64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// Flush sets the reference to the tail of the current segment so the
// next segment aligns continuously, per §4.4.
func (r *TimestampRollover) Flush() {
	r.reference = r.lastDTS
}

// PartialFlush does not move the reference: partial flushes keep
// accumulating within the same segment.
func (r *TimestampRollover) PartialFlush() {}

// EndTimeline clears the reference and lastDTS, per §4.4's
// "discontinuity" handling (a timeline boundary is the rollover stage's
// discontinuity signal).
func (r *TimestampRollover) EndTimeline() {
	r.hasReference = false
	r.reference = 0
	r.lastDTS = 0
}

// Reset clears all state.
func (r *TimestampRollover) Reset() {
	r.hasReference = false
	r.reference = 0
	r.lastDTS = 0
}
