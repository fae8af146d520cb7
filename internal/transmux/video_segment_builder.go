package transmux

import "log/slog"

// VideoSegmentBuilderConfig configures VideoSegmentBuilder.
type VideoSegmentBuilderConfig struct {
	Logger *slog.Logger
	Track  *Track

	// BaseMediaDecodeTime is the offset applied to the track's first
	// emitted sample's DTS, per Options.baseMediaDecodeTime.
	BaseMediaDecodeTime int64

	// KeepOriginalTimestamps disables the baseMediaDecodeTime
	// normalization entirely and passes each sample's raw DTS straight
	// through as tfdt, per SPEC_FULL's Open Question decision.
	KeepOriginalTimestamps bool

	OnInitSegment func([]byte)
	OnSegment     func(Segment)
	OnTimingInfo  func(TimingInfo)

	// OnAccessUnit, if set, fires once per completed access unit with its
	// AVCC-encoded bytes, ahead of and independent from moof/mdat boxing.
	// It lets a caller that only wants elementary-stream access units
	// (e.g. a remuxer feeding something other than an MSE buffer) tap
	// this builder's AUD-bounded frame assembly without consuming its
	// fragment output.
	OnAccessUnit func(pts, dts int64, data []byte, keyFrame bool)
}

// VideoSegmentBuilder buffers NAL units into access-unit frames, groups
// frames into GOPs bounded by keyframes, and emits moof/mdat fragments,
// per §4.9.
type VideoSegmentBuilder struct {
	config VideoSegmentBuilderConfig

	nalCache []NALUnit
	frames   []Frame

	ensureNextFrameIsKeyFrame bool
	sentInitSegment           bool
	haveTimelineStart         bool
	firstDTS                  int64
}

// NewVideoSegmentBuilder creates a VideoSegmentBuilder.
func NewVideoSegmentBuilder(config VideoSegmentBuilderConfig) *VideoSegmentBuilder {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &VideoSegmentBuilder{
		config:                    config,
		ensureNextFrameIsKeyFrame: true,
	}
}

// Push appends one interpreted NAL unit to the frame cache.
func (v *VideoSegmentBuilder) Push(nal NALUnit) {
	v.nalCache = append(v.nalCache, nal)
	if nal.Type == NALUSPS && nal.SPS != nil {
		v.config.Track.SPS = nal.Data
		v.config.Track.Width = nal.SPS.Width
		v.config.Track.Height = nal.SPS.Height
		v.config.Track.Profile = nal.SPS.ProfileIdc
		v.config.Track.Level = nal.SPS.LevelIdc
	}
	if nal.Type == NALUPPS {
		v.config.Track.PPS = nal.Data
	}
}

// groupFrames splits nalCache into access-unit-delimiter-bounded frames,
// leaving a trailing incomplete frame (one not yet terminated by the
// next AUD) in the cache for the next call.
func (v *VideoSegmentBuilder) groupFrames() {
	if len(v.nalCache) == 0 {
		return
	}

	var boundaries []int
	for i, nal := range v.nalCache {
		if nal.Type == NALUAUD {
			boundaries = append(boundaries, i)
		}
	}
	if len(boundaries) == 0 {
		return
	}

	// Frames span [boundaries[i], boundaries[i+1]); the last AUD starts
	// a frame that may still be receiving NAL units, so it stays cached.
	for i := 0; i < len(boundaries)-1; i++ {
		v.emitFrame(v.nalCache[boundaries[i]:boundaries[i+1]])
	}
	v.nalCache = append([]NALUnit(nil), v.nalCache[boundaries[len(boundaries)-1]:]...)
}

// flushTrailingFrame forces the cached trailing NAL units into a final
// frame; called only on a full flush, where no further NAL units for
// the current access unit will ever arrive.
func (v *VideoSegmentBuilder) flushTrailingFrame() {
	if len(v.nalCache) == 0 {
		return
	}
	v.emitFrame(v.nalCache)
	v.nalCache = nil
}

func (v *VideoSegmentBuilder) emitFrame(nals []NALUnit) {
	if len(nals) == 0 {
		return
	}
	frame := Frame{
		NALUnits: reorderNALUnits(nals),
		PTS:      nals[0].PTS,
		DTS:      nals[0].DTS,
	}
	for _, nal := range nals {
		if nal.Type == NALUSliceIDR {
			frame.KeyFrame = true
		}
		frame.ByteLength += 4 + len(nal.Data)
	}
	v.frames = append(v.frames, frame)

	if v.config.OnAccessUnit != nil {
		v.config.OnAccessUnit(frame.PTS, frame.DTS, encodeAVCCFrame(frame), frame.KeyFrame)
	}
}

// drainUntilKeyFrame discards leading non-keyframe frames when this
// builder must begin its next emitted segment on a keyframe, per §4.9's
// "segments begin with a keyframe" invariant. If no keyframe is found
// among the buffered frames at all, everything is kept buffered and
// nothing is emitted this round.
func (v *VideoSegmentBuilder) drainUntilKeyFrame() bool {
	if !v.ensureNextFrameIsKeyFrame {
		return true
	}
	for i, f := range v.frames {
		if f.KeyFrame {
			if i > 0 {
				v.config.Logger.Warn("dropping frames preceding first keyframe",
					slog.Int("dropped", i))
				v.frames = v.frames[i:]
			}
			v.ensureNextFrameIsKeyFrame = false
			return true
		}
	}
	return false
}

func (v *VideoSegmentBuilder) computeDurations() {
	n := len(v.frames)
	for i := 0; i < n; i++ {
		if i < n-1 {
			v.frames[i].Duration = v.frames[i+1].DTS - v.frames[i].DTS
		} else if n > 1 {
			v.frames[i].Duration = v.frames[i-1].Duration
		}
	}
}

func (v *VideoSegmentBuilder) baseMediaDecodeTimeFor(dts int64) int64 {
	if v.config.KeepOriginalTimestamps {
		return dts
	}
	if !v.haveTimelineStart {
		v.firstDTS = dts
		v.haveTimelineStart = true
	}
	return v.config.BaseMediaDecodeTime + (dts - v.firstDTS)
}

// process groups NAL units into frames, emitting moof/mdat fragments
// for whatever is ready. perFrame selects low-latency mode (one
// fragment per frame, used by PartialFlush) versus batched mode (one
// fragment covering every buffered frame, used by Flush).
func (v *VideoSegmentBuilder) process(perFrame bool) {
	v.groupFrames()
	if !v.drainUntilKeyFrame() {
		return
	}
	if len(v.frames) == 0 {
		return
	}

	v.computeDurations()
	v.sendInitSegmentIfNeeded()

	track := v.config.Track
	if perFrame {
		for _, f := range v.frames {
			v.emitSegment([]Frame{f})
		}
	} else if len(v.frames) > 0 {
		v.emitSegment(v.frames)
	}

	track.resetSegmentBounds()
	v.frames = nil
}

func (v *VideoSegmentBuilder) sendInitSegmentIfNeeded() {
	if v.sentInitSegment {
		return
	}
	if len(v.config.Track.SPS) == 0 || len(v.config.Track.PPS) == 0 {
		return
	}
	if v.config.OnInitSegment != nil {
		v.config.OnInitSegment(BuildInitSegment(v.config.Track))
	}
	v.sentInitSegment = true
}

func (v *VideoSegmentBuilder) emitSegment(frames []Frame) {
	track := v.config.Track

	samples := make([]sampleEntry, len(frames))
	payloads := make([][]byte, len(frames))
	for i, f := range frames {
		flags := uint32(0)
		if !f.KeyFrame {
			flags = sampleFlagNonSyncSample
		}
		samples[i] = sampleEntry{
			duration:          f.Duration,
			size:              f.ByteLength,
			flags:             flags,
			compositionOffset: f.PTS - f.DTS,
		}
		payloads[i] = encodeAVCCFrame(f)
	}

	baseMediaDecodeTime := v.baseMediaDecodeTimeFor(frames[0].DTS)
	track.SequenceNumber++
	data := BuildFragment(uint32(track.ID), track.SequenceNumber, baseMediaDecodeTime, samples, payloads, true)

	if v.config.OnSegment != nil {
		v.config.OnSegment(Segment{
			Track:               track,
			Data:                data,
			BaseMediaDecodeTime: baseMediaDecodeTime,
			SequenceNumber:      track.SequenceNumber,
			StreamType:          StreamTypeVideo,
		})
	}

	last := frames[len(frames)-1]
	if v.config.OnTimingInfo != nil {
		v.config.OnTimingInfo(TimingInfo{
			Start: baseMediaDecodeTime,
			End:   baseMediaDecodeTime + (last.DTS + last.Duration - frames[0].DTS),
		})
	}

	for _, f := range frames {
		if f.PTS < track.MinSegmentPTS || track.MinSegmentPTS == 0 {
			track.MinSegmentPTS = f.PTS
		}
		if f.PTS > track.MaxSegmentPTS {
			track.MaxSegmentPTS = f.PTS
		}
	}
}

// reorderNALUnits fixes up access units from sources that emit SEI
// before SPS/PPS (common on IPTV feeds): SEI messages can reference
// parameter sets, so decoders expect AUD, SPS/PPS, SEI, then slice data.
func reorderNALUnits(nals []NALUnit) []NALUnit {
	if len(nals) <= 1 {
		return append([]NALUnit(nil), nals...)
	}

	var aud, paramSets, sei, slices, other []NALUnit
	for _, nal := range nals {
		switch nal.Type {
		case NALUAUD:
			aud = append(aud, nal)
		case NALUSPS, NALUPPS:
			paramSets = append(paramSets, nal)
		case NALUSEI:
			sei = append(sei, nal)
		case NALUSlice, NALUSliceIDR:
			slices = append(slices, nal)
		default:
			other = append(other, nal)
		}
	}

	out := make([]NALUnit, 0, len(nals))
	out = append(out, aud...)
	out = append(out, paramSets...)
	out = append(out, sei...)
	out = append(out, slices...)
	out = append(out, other...)
	return out
}

// encodeAVCCFrame concatenates a frame's NAL units into AVCC
// length-prefixed form (4-byte big-endian length, then raw NAL bytes
// including emulation-prevention bytes), the layout mdat data uses.
func encodeAVCCFrame(f Frame) []byte {
	out := make([]byte, 0, f.ByteLength)
	for _, nal := range f.NALUnits {
		n := len(nal.Data)
		out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		out = append(out, nal.Data...)
	}
	return out
}

// Flush groups every remaining buffered NAL unit (including a trailing
// partial frame) and emits one batched fragment covering all of them.
func (v *VideoSegmentBuilder) Flush() {
	v.flushTrailingFrame()
	v.process(false)
}

// PartialFlush emits one fragment per complete frame without forcing
// the trailing partial frame.
func (v *VideoSegmentBuilder) PartialFlush() {
	v.process(true)
}

// EndTimeline flushes and requires the next segment to start on a
// keyframe again, matching a fresh timeline's "no prior GOP context"
// semantics.
func (v *VideoSegmentBuilder) EndTimeline() {
	v.Flush()
	v.ensureNextFrameIsKeyFrame = true
	v.haveTimelineStart = false
}

// RequireKeyframeOnNextSegment forces the next emitted segment to begin
// on a keyframe, the same gating Reset/EndTimeline apply, for callers
// that need it on a rendition or bitrate switch without a full reset.
func (v *VideoSegmentBuilder) RequireKeyframeOnNextSegment() {
	v.ensureNextFrameIsKeyFrame = true
}

// Reset discards all buffered state and resets initialization bookkeeping.
func (v *VideoSegmentBuilder) Reset() {
	v.nalCache = nil
	v.frames = nil
	v.ensureNextFrameIsKeyFrame = true
	v.sentInitSegment = false
	v.haveTimelineStart = false
	v.firstDTS = 0
}
