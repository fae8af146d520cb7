package transmux

import "log/slog"

// silentAACLCFrame44100Stereo is a precomputed silent AAC-LC raw payload
// (no ADTS header) for 44.1kHz stereo, used to prime the decoder when a
// timeline's audio track starts with a gap mux.js calls out as needing a
// "cone of silence" primer frame so AAC's encoder delay doesn't audibly
// clip the first real frame.
var silentAACLCFrame44100Stereo = []byte{
	0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c,
}

// AudioSegmentBuilderConfig configures AudioSegmentBuilder.
type AudioSegmentBuilderConfig struct {
	Logger *slog.Logger
	Track  *Track

	BaseMediaDecodeTime   int64
	KeepOriginalTimestamps bool

	// HasAudioAppendStart and AudioAppendStart implement
	// SetAudioAppendStart: frames with a DTS earlier than
	// AudioAppendStart are discarded rather than emitted, per §4.8.
	HasAudioAppendStart bool
	AudioAppendStart    int64

	OnInitSegment func([]byte)
	OnSegment     func(Segment)
	OnTimingInfo  func(TimingInfo)

	// OnRawFrame, if set, fires once per extracted frame (ADTS payload
	// stripped of its header, or an opaque PES payload) ahead of and
	// independent from moof/mdat boxing, mirroring
	// VideoSegmentBuilderConfig.OnAccessUnit.
	OnRawFrame func(pts int64, data []byte)
}

// AudioSegmentBuilder buffers ADTS frames and emits moof/mdat fragments,
// per §4.8.
type AudioSegmentBuilder struct {
	config AudioSegmentBuilderConfig

	frames []ADTSFrame

	sentInitSegment   bool
	needsSilentPrimer bool
	haveTimelineStart bool
	firstDTS          int64
}

// NewAudioSegmentBuilder creates an AudioSegmentBuilder.
func NewAudioSegmentBuilder(config AudioSegmentBuilderConfig) *AudioSegmentBuilder {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &AudioSegmentBuilder{
		config:            config,
		needsSilentPrimer: true,
	}
}

// PushOpaque buffers one whole PES-payload-aligned frame for codecs this
// package does not bit-parse (AC-3, MPEG audio): the sample's duration
// is derived from the delta to the next frame's DTS rather than a
// sample-count formula, the same way VideoSegmentBuilder derives frame
// duration from access-unit DTS deltas.
func (a *AudioSegmentBuilder) PushOpaque(pts, dts int64, payload []byte) {
	a.frames = append(a.frames, ADTSFrame{
		PTS:         pts,
		DTS:         dts,
		SampleCount: -1, // sentinel: derive duration from the next frame's DTS
		Payload:     payload,
	})
	if a.config.OnRawFrame != nil {
		a.config.OnRawFrame(pts, payload)
	}
}

// Push buffers one extracted ADTS frame and updates the track's codec
// parameters from it.
func (a *AudioSegmentBuilder) Push(frame ADTSFrame) {
	track := a.config.Track
	track.SampleRate = frame.SampleRate
	track.ChannelCount = frame.ChannelCount
	a.frames = append(a.frames, frame)
	if a.config.OnRawFrame != nil {
		a.config.OnRawFrame(frame.PTS, frame.Payload)
	}
}

func (a *AudioSegmentBuilder) discardBeforeAppendStart() {
	if !a.config.HasAudioAppendStart {
		return
	}
	i := 0
	for i < len(a.frames) && a.frames[i].DTS < a.config.AudioAppendStart {
		i++
	}
	if i > 0 {
		a.config.Logger.Debug("discarding audio frames before append start",
			slog.Int("count", i))
		a.frames = a.frames[i:]
	}
}

// maybePrependSilentPrimer inserts a synthetic silent AAC-LC frame ahead
// of the first frame of a fresh timeline, for the one sample rate mux.js
// ships a precomputed payload for (44.1kHz). Any other sample rate is
// left alone: a wrong guess at a silent payload is worse than no primer.
func (a *AudioSegmentBuilder) maybePrependSilentPrimer() {
	if !a.needsSilentPrimer || len(a.frames) == 0 {
		return
	}
	a.needsSilentPrimer = false

	first := a.frames[0]
	if first.SampleRate != 44100 || first.AudioObjectType != 2 || first.ChannelCount != 2 {
		return
	}

	frameDuration := int64(first.SampleCount) * 90000 / int64(first.SampleRate)
	primer := ADTSFrame{
		PTS:             first.PTS - frameDuration,
		DTS:             first.DTS - frameDuration,
		SampleCount:     first.SampleCount,
		SamplingFreqIdx: first.SamplingFreqIdx,
		SampleRate:      first.SampleRate,
		ChannelCount:    first.ChannelCount,
		AudioObjectType: first.AudioObjectType,
		Payload:         silentAACLCFrame44100Stereo,
	}
	a.frames = append([]ADTSFrame{primer}, a.frames...)
}

func (a *AudioSegmentBuilder) baseMediaDecodeTimeFor(dts int64) int64 {
	if a.config.KeepOriginalTimestamps {
		return dts
	}
	if !a.haveTimelineStart {
		a.firstDTS = dts
		a.haveTimelineStart = true
	}
	return a.config.BaseMediaDecodeTime + (dts - a.firstDTS)
}

func (a *AudioSegmentBuilder) sendInitSegmentIfNeeded() {
	if a.sentInitSegment {
		return
	}
	// AC-3/MPEG audio tracks have no sample rate this package resolves
	// from the bitstream (their framing is opaque, per PushOpaque); an
	// AAC track genuinely isn't ready until ADTSParser has seen a frame.
	if a.config.Track.SampleRate == 0 && a.config.Track.Codec == CodecAAC {
		return
	}
	if a.config.OnInitSegment != nil {
		a.config.OnInitSegment(BuildInitSegment(a.config.Track))
	}
	a.sentInitSegment = true
}

func (a *AudioSegmentBuilder) process() {
	a.discardBeforeAppendStart()
	a.maybePrependSilentPrimer()
	if len(a.frames) == 0 {
		return
	}

	switch a.config.Track.Codec {
	case CodecAC3, CodecEAC3:
		// This package recognizes these as audio tracks (§ Domain Stack)
		// but doesn't build the dac3 configuration box a compliant
		// AC-3 sample entry needs; emitting an mp4a entry for AC-3 data
		// would be actively wrong, so these are dropped rather than
		// boxed incorrectly.
		a.config.Logger.Debug("dropping audio frames: init segment boxing not implemented for codec",
			slog.String("codec", string(a.config.Track.Codec)))
		a.frames = nil
		return
	}

	a.sendInitSegmentIfNeeded()

	track := a.config.Track
	n := len(a.frames)
	samples := make([]sampleEntry, n)
	payloads := make([][]byte, n)
	for i, f := range a.frames {
		var duration int64
		if f.SampleCount < 0 {
			// Opaque (non-ADTS) frame: duration comes from the DTS delta
			// to the next frame, falling back to the previous sample's
			// duration for the last one in the batch.
			switch {
			case i < n-1:
				duration = a.frames[i+1].DTS - f.DTS
			case i > 0:
				duration = samples[i-1].duration
			}
		} else {
			duration = int64(f.SampleCount) * 90000 / int64(f.SampleRate)
		}
		samples[i] = sampleEntry{
			duration: duration,
			size:     len(f.Payload),
		}
		payloads[i] = f.Payload
	}

	baseMediaDecodeTime := a.baseMediaDecodeTimeFor(a.frames[0].DTS)
	track.SequenceNumber++
	data := BuildFragment(uint32(track.ID), track.SequenceNumber, baseMediaDecodeTime, samples, payloads, false)

	if a.config.OnSegment != nil {
		a.config.OnSegment(Segment{
			Track:               track,
			Data:                data,
			BaseMediaDecodeTime: baseMediaDecodeTime,
			SequenceNumber:      track.SequenceNumber,
			StreamType:          StreamTypeAudio,
		})
	}

	var totalDuration int64
	for _, s := range samples {
		totalDuration += s.duration
	}
	if a.config.OnTimingInfo != nil {
		a.config.OnTimingInfo(TimingInfo{
			Start: baseMediaDecodeTime,
			End:   baseMediaDecodeTime + totalDuration,
		})
	}

	for _, f := range a.frames {
		if f.PTS < track.MinSegmentPTS || track.MinSegmentPTS == 0 {
			track.MinSegmentPTS = f.PTS
		}
		if f.PTS > track.MaxSegmentPTS {
			track.MaxSegmentPTS = f.PTS
		}
	}

	track.resetSegmentBounds()
	a.frames = nil
}

// Flush emits every buffered frame as one fragment.
func (a *AudioSegmentBuilder) Flush() {
	a.process()
}

// PartialFlush emits every frame complete so far as one fragment,
// identically to Flush: unlike video, ADTS frames carry no notion of
// "incomplete access unit" once extracted, so there is nothing to hold
// back.
func (a *AudioSegmentBuilder) PartialFlush() {
	a.process()
}

// EndTimeline flushes and marks the next segment as needing a fresh
// silent primer evaluation.
func (a *AudioSegmentBuilder) EndTimeline() {
	a.Flush()
	a.needsSilentPrimer = true
	a.haveTimelineStart = false
}

// Reset discards all buffered state.
func (a *AudioSegmentBuilder) Reset() {
	a.frames = nil
	a.sentInitSegment = false
	a.needsSilentPrimer = true
	a.haveTimelineStart = false
	a.firstDTS = 0
}
