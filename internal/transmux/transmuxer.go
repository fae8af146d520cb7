package transmux

import "log/slog"

// pipelineMode selects which input framing this Transmuxer is currently
// wired for: MPEG-2 TS, or the "shorter pipeline" raw AAC/ID3 input
// described by §2.
type pipelineMode int

const (
	modeUndetected pipelineMode = iota
	modeTS
	modeRawAAC
)

// Options configures per-instance transmux behavior, per the data
// model's Options entity.
type Options struct {
	// BaseMediaDecodeTime is the initial tfdt value each track's first
	// emitted segment is offset from.
	BaseMediaDecodeTime int64

	// KeepOriginalTimestamps disables baseMediaDecodeTime normalization
	// entirely; every segment's tfdt is the sample's raw DTS.
	KeepOriginalTimestamps bool

	// Remux marks whether this instance's output is expected to be
	// combined with another instance's (e.g. audio-only transmuxing
	// alongside a separate video-only instance for adaptive bitrate
	// packaging). It does not change how this instance boxes its own
	// samples; it exists so callers constructing an output manifest know
	// whether to expect a matching counterpart stream.
	Remux bool

	// AlignGopsAtEnd has no effect: this port groups video into GOPs
	// purely by keyframe boundary and never rewrites GOP membership to
	// align a segment's tail, so there is nothing for this flag to gate.
	AlignGopsAtEnd bool
}

// TransmuxerConfig configures Transmuxer.
type TransmuxerConfig struct {
	Logger  *slog.Logger
	Options Options

	// CaptionDecoder is optional; captions are simply never emitted if
	// nil.
	CaptionDecoder CaptionDecoder

	OnInitSegment     func(trackID int, data []byte)
	OnSegment         func(Segment)
	OnTrackInfo       func([]TrackInfo)
	OnAudioTimingInfo func(TimingInfo)
	OnVideoTimingInfo func(TimingInfo)
	OnID3Cue          func(ID3Cue)
	OnCaption         func(CaptionCue)
	OnDone            func()
	OnPartialDone     func()
	OnEndedTimeline   func()
	OnReset           func()

	// OnRawVideoSample and OnRawAudioSample, if set, fire once per
	// completed access unit / audio frame with plain elementary-stream
	// bytes, ahead of and independent from this Transmuxer's own
	// moof/mdat boxing. They exist for callers that need this package's
	// demuxing (PAT/PMT discovery, PES reassembly, NAL/ADTS framing)
	// without consuming fMP4 output, per VideoSegmentBuilderConfig's and
	// AudioSegmentBuilderConfig's matching hooks.
	OnRawVideoSample func(pts, dts int64, data []byte, keyFrame bool)
	OnRawAudioSample func(pts int64, data []byte)
}

// Transmuxer wires the full TS-to-fMP4 (and raw-AAC-to-fMP4) pipeline
// graph and exposes its push/flush control surface, per §2 and §5.
type Transmuxer struct {
	config TransmuxerConfig

	mode           pipelineMode
	formatDetected bool
	prefixBuf      []byte

	splitter  *PacketSplitter
	parser    *PacketParser
	assembler *ElementaryAssembler

	videoRollover *TimestampRollover
	audioRollover *TimestampRollover
	metaRollover  *TimestampRollover

	h264      *H264Parser
	adts      *ADTSParser
	id3       *ID3Parser
	aacFramer *AACFramer

	videoTrack *Track
	audioTrack *Track

	videoBuilder *VideoSegmentBuilder
	audioBuilder *AudioSegmentBuilder
	captions     *CaptionExtractor
}

// NewTransmuxer constructs a Transmuxer and wires every stage's
// callbacks, per §5's pipeline topology.
func NewTransmuxer(config TransmuxerConfig) *Transmuxer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	t := &Transmuxer{
		config:     config,
		videoTrack: &Track{Type: StreamTypeVideo, TimelineStartInfo: TimelineStartInfo{BaseMediaDecodeTime: config.Options.BaseMediaDecodeTime}},
		audioTrack: &Track{Type: StreamTypeAudio, TimelineStartInfo: TimelineStartInfo{BaseMediaDecodeTime: config.Options.BaseMediaDecodeTime}},
	}

	t.captions = NewCaptionExtractor(CaptionExtractorConfig{
		Logger:    config.Logger,
		Decoder:   config.CaptionDecoder,
		OnCaption: t.config.OnCaption,
	})

	t.videoBuilder = NewVideoSegmentBuilder(VideoSegmentBuilderConfig{
		Logger:                 config.Logger,
		Track:                  t.videoTrack,
		BaseMediaDecodeTime:    config.Options.BaseMediaDecodeTime,
		KeepOriginalTimestamps: config.Options.KeepOriginalTimestamps,
		OnInitSegment: func(data []byte) {
			if t.config.OnInitSegment != nil {
				t.config.OnInitSegment(t.videoTrack.ID, data)
			}
		},
		OnSegment:    t.config.OnSegment,
		OnTimingInfo: t.config.OnVideoTimingInfo,
		OnAccessUnit: t.config.OnRawVideoSample,
	})

	t.audioBuilder = NewAudioSegmentBuilder(AudioSegmentBuilderConfig{
		Logger:                 config.Logger,
		Track:                  t.audioTrack,
		BaseMediaDecodeTime:    config.Options.BaseMediaDecodeTime,
		KeepOriginalTimestamps: config.Options.KeepOriginalTimestamps,
		OnInitSegment: func(data []byte) {
			if t.config.OnInitSegment != nil {
				t.config.OnInitSegment(t.audioTrack.ID, data)
			}
		},
		OnSegment:    t.config.OnSegment,
		OnTimingInfo: t.config.OnAudioTimingInfo,
		OnRawFrame:   t.config.OnRawAudioSample,
	})

	t.h264 = NewH264Parser(H264ParserConfig{
		Logger:       config.Logger,
		OnNALUnit:    t.videoBuilder.Push,
		OnCaptionSEI: func(pts, dts int64, payload []byte) { t.captions.PushSEI(t.videoTrack.ID, pts, dts, payload) },
	})

	t.adts = NewADTSParser(ADTSParserConfig{
		Logger:                 config.Logger,
		CarryFrameNumAcrossPES: false,
		OnFrame:                t.audioBuilder.Push,
	})

	t.id3 = NewID3Parser(ID3ParserConfig{
		Logger: config.Logger,
		OnCue:  t.config.OnID3Cue,
	})

	t.aacFramer = NewAACFramer(AACFramerConfig{
		Logger: config.Logger,
		OnID3Data: func(data []byte) {
			t.id3.Push(0, false, data)
		},
		OnADTSData: func(data []byte) {
			t.adts.Push(0, 0, data)
		},
	})
	// Raw AAC input has no PES layer to delimit frame numbering by, so
	// the intra-stream frame counter must survive across every push.
	t.adts.config.CarryFrameNumAcrossPES = true

	t.videoRollover = NewTimestampRollover(RolloverConfig{
		Logger: config.Logger,
		Kind:   RolloverVideo,
		OnPES:  func(pes PESPacket) { t.h264.Push(pes.PTS, pes.DTS, pes.Data) },
	})
	t.audioRollover = NewTimestampRollover(RolloverConfig{
		Logger: config.Logger,
		Kind:   RolloverAudio,
		OnPES: func(pes PESPacket) {
			if t.audioTrack.Codec == CodecAAC || t.audioTrack.Codec == "" {
				t.adts.Push(pes.PTS, pes.DTS, pes.Data)
				return
			}
			t.audioBuilder.PushOpaque(pes.PTS, pes.DTS, pes.Data)
		},
	})
	t.metaRollover = NewTimestampRollover(RolloverConfig{
		Logger: config.Logger,
		Kind:   RolloverTimedMetadata,
		OnPES:  func(pes PESPacket) { t.id3.Push(pes.PTS, true, pes.Data) },
	})

	t.assembler = NewElementaryAssembler(ElementaryAssemblerConfig{
		Logger:   config.Logger,
		OnPES:    t.routePES,
		OnTracks: t.handleTracks,
	})

	t.parser = NewPacketParser(PacketParserConfig{
		Logger:   config.Logger,
		OnPES:    t.assembler.PushPES,
		OnTracks: t.assembler.PushTracks,
	})

	t.splitter = NewPacketSplitter(PacketSplitterConfig{
		Logger:   config.Logger,
		OnPacket: t.parser.Push,
	})

	return t
}

func (t *Transmuxer) routePES(pes PESPacket) {
	switch pes.StreamType {
	case StreamTypeVideo:
		t.videoRollover.Push(pes)
	case StreamTypeAudio:
		t.audioRollover.Push(pes)
	case StreamTypeTimedMetadata:
		t.metaRollover.Push(pes)
	}
}

func (t *Transmuxer) handleTracks(tracks []TrackInfo) {
	for _, ti := range tracks {
		switch ti.Type {
		case StreamTypeVideo:
			t.videoTrack.ID = ti.ID
			t.videoTrack.Codec = ti.Codec
		case StreamTypeAudio:
			t.audioTrack.ID = ti.ID
			t.audioTrack.Codec = ti.Codec
		}
	}
	if t.config.OnTrackInfo != nil {
		t.config.OnTrackInfo(tracks)
	}
}

// detectFormat examines the leading bytes of the stream to decide
// whether this is MPEG-2 TS or raw ID3/ADTS input, per §6. Detection
// runs once per "session" — the first Push after construction, or the
// first Push following a full Flush, matching the idea that a caller
// only switches container formats across a clean boundary.
func detectFormat(b []byte) pipelineMode {
	if len(b) == 0 {
		return modeUndetected
	}
	if b[0] == tsSyncByte {
		return modeTS
	}
	if len(b) >= 3 && b[0] == 'I' && b[1] == 'D' && b[2] == '3' {
		return modeRawAAC
	}
	if len(b) >= 2 && b[0] == 0xFF && b[1]&0xF6 == 0xF0 {
		return modeRawAAC
	}
	return modeUndetected
}

// Push feeds an arbitrary chunk of container bytes into the pipeline.
func (t *Transmuxer) Push(data []byte) {
	if !t.formatDetected {
		t.prefixBuf = append(t.prefixBuf, data...)
		if len(t.prefixBuf) < 3 {
			return
		}
		mode := detectFormat(t.prefixBuf)
		if mode == modeUndetected {
			mode = modeTS
		}
		t.mode = mode
		t.formatDetected = true
		buffered := t.prefixBuf
		t.prefixBuf = nil
		t.dispatchPush(buffered)
		return
	}
	t.dispatchPush(data)
}

func (t *Transmuxer) dispatchPush(data []byte) {
	if t.mode == modeRawAAC {
		t.aacFramer.Push(data)
		return
	}
	t.splitter.Push(data)
}

// Flush forces a full segment boundary: every stage emits all buffered
// state, GOP/frame grouping is finalized, and the format sniff is
// re-armed for the next Push, per §6.
func (t *Transmuxer) Flush() {
	t.splitter.Flush()
	t.parser.Flush()
	t.assembler.Flush()
	t.videoRollover.Flush()
	t.audioRollover.Flush()
	t.metaRollover.Flush()
	t.h264.Flush()
	t.adts.Flush()
	t.id3.Flush()
	t.aacFramer.Flush()
	t.videoBuilder.Flush()
	t.audioBuilder.Flush()
	t.captions.Flush()

	t.formatDetected = false

	if t.config.OnDone != nil {
		t.config.OnDone()
	}
}

// PartialFlush emits whatever is safely emittable without disturbing
// units that are still being assembled, per §6's low-latency path.
func (t *Transmuxer) PartialFlush() {
	t.splitter.PartialFlush()
	t.parser.PartialFlush()
	t.assembler.PartialFlush()
	t.videoRollover.PartialFlush()
	t.audioRollover.PartialFlush()
	t.metaRollover.PartialFlush()
	t.h264.PartialFlush()
	t.adts.PartialFlush()
	t.id3.PartialFlush()
	t.aacFramer.PartialFlush()
	t.videoBuilder.PartialFlush()
	t.audioBuilder.PartialFlush()
	t.captions.PartialFlush()

	if t.config.OnPartialDone != nil {
		t.config.OnPartialDone()
	}
}

// EndTimeline flushes and marks a discontinuity boundary downstream
// consumers (rollover references, GOP keyframe gating, caption and ID3
// reference points) must reset at.
func (t *Transmuxer) EndTimeline() {
	t.splitter.EndTimeline()
	t.parser.EndTimeline()
	t.assembler.EndTimeline()
	t.videoRollover.EndTimeline()
	t.audioRollover.EndTimeline()
	t.metaRollover.EndTimeline()
	t.h264.EndTimeline()
	t.adts.EndTimeline()
	t.id3.EndTimeline()
	t.aacFramer.EndTimeline()
	t.videoBuilder.EndTimeline()
	t.audioBuilder.EndTimeline()
	t.captions.EndTimeline()

	t.formatDetected = false

	if t.config.OnEndedTimeline != nil {
		t.config.OnEndedTimeline()
	}
}

// Reset discards all buffered state unconditionally; sequence numbers
// are deliberately left untouched (they belong to the Track, which
// Reset never replaces), matching the "sequence survives reset" rule.
func (t *Transmuxer) Reset() {
	t.splitter.Reset()
	t.parser.Reset()
	t.assembler.Reset()
	t.videoRollover.Reset()
	t.audioRollover.Reset()
	t.metaRollover.Reset()
	t.h264.Reset()
	t.adts.Reset()
	t.id3.Reset()
	t.aacFramer.Reset()
	t.videoBuilder.Reset()
	t.audioBuilder.Reset()
	t.captions.Reset()

	t.formatDetected = false
	t.prefixBuf = nil

	if t.config.OnReset != nil {
		t.config.OnReset()
	}
}

// SetBaseMediaDecodeTime changes the tfdt offset future segments are
// computed from and re-arms both builders' timeline-start capture so
// the new offset takes effect from the very next sample.
func (t *Transmuxer) SetBaseMediaDecodeTime(v int64) {
	t.config.Options.BaseMediaDecodeTime = v
	t.videoBuilder.config.BaseMediaDecodeTime = v
	t.audioBuilder.config.BaseMediaDecodeTime = v
	t.videoBuilder.haveTimelineStart = false
	t.audioBuilder.haveTimelineStart = false
}

// SetAudioAppendStart configures the earliest DTS (in the audio track's
// native timescale) allowed into an emitted segment; earlier frames are
// discarded, per §4.8.
func (t *Transmuxer) SetAudioAppendStart(v int64) {
	t.audioBuilder.config.HasAudioAppendStart = true
	t.audioBuilder.config.AudioAppendStart = v
}

// SetRemux updates Options.Remux.
func (t *Transmuxer) SetRemux(v bool) {
	t.config.Options.Remux = v
}
