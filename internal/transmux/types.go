package transmux

// StreamType identifies the elementary stream kind carried by a track or
// PES packet.
type StreamType int

const (
	StreamTypeUnknown StreamType = iota
	StreamTypeVideo
	StreamTypeAudio
	StreamTypeTimedMetadata
)

func (t StreamType) String() string {
	switch t {
	case StreamTypeVideo:
		return "video"
	case StreamTypeAudio:
		return "audio"
	case StreamTypeTimedMetadata:
		return "timed-metadata"
	default:
		return "unknown"
	}
}

// RolloverKind selects which TimestampRollover filtering policy applies;
// "shared" accepts every event regardless of stream type.
type RolloverKind int

const (
	RolloverVideo RolloverKind = iota
	RolloverAudio
	RolloverTimedMetadata
	RolloverShared
)

// Codec identifies the elementary stream codec tvarr's transmux core
// understands. ADTS AAC is the only audio codec with bit-accurate framing
// implemented by this package (§4.7); the others are accepted as opaque
// payloads per SPEC_FULL's "Supplemented Features" so AudioSegmentBuilder
// can still time-stamp and box them.
type Codec string

const (
	CodecH264        Codec = "avc"
	CodecAAC         Codec = "adts"
	CodecAC3         Codec = "ac3"
	CodecEAC3        Codec = "eac3"
	CodecMP3         Codec = "mp3"
	CodecTimedID3    Codec = "id3"
	CodecUnsupported Codec = "unsupported"
)

// TimelineStartInfo captures the reference point a track's
// baseMediaDecodeTime is computed relative to, per the data model's Track
// entity.
type TimelineStartInfo struct {
	BaseMediaDecodeTime int64
	PTS                 int64
	DTS                 int64
}

// Track is the long-lived, mutable per-elementary-stream record shared by
// the elementary assembler (writer of codec metadata) and the matching
// segment builder (reader, and writer of sample bookkeeping). Ownership
// is serialized by call order within the single-threaded pipeline; see
// §5 of the design.
type Track struct {
	ID   int
	Type StreamType

	Codec Codec

	TimelineStartInfo TimelineStartInfo

	MinSegmentPTS int64
	MaxSegmentPTS int64
	MinSegmentDTS int64
	MaxSegmentDTS int64

	// Video-only fields, populated once an SPS has been parsed.
	SPS     []byte
	PPS     []byte
	Width   int
	Height  int
	Profile byte
	Level   byte

	// Audio-only fields.
	SampleRate   int
	ChannelCount int

	// Sequence number of the next moof for this track. Reset() never
	// clears this per the "sequence does not reset across reset"
	// scenario in §8; only creating a brand-new Transmuxer does.
	SequenceNumber uint32
}

// resetSegmentBounds clears the per-segment min/max bookkeeping; called
// by segment builders after each flush.
func (t *Track) resetSegmentBounds() {
	t.MinSegmentPTS = 0
	t.MaxSegmentPTS = 0
	t.MinSegmentDTS = 0
	t.MaxSegmentDTS = 0
}

// PESPacket is the assembled per-track payload layer inside TS, per the
// data model's PES Packet entity.
type PESPacket struct {
	TrackID       int
	StreamType    StreamType
	PTS           int64
	DTS           int64
	Data          []byte
	DataAlignment bool
}

// NALUnit is a single H.264 Network Abstraction Layer unit tagged with
// the timestamps of the access unit it belongs to.
type NALUnit struct {
	Type NALUType
	PTS  int64
	DTS  int64

	// Data holds the original bytes (with emulation-prevention bytes
	// intact) for output; RBSP holds the emulation-prevention-stripped
	// bytes used for bitstream parsing. RBSP is nil for NAL types this
	// package never parses the body of.
	Data []byte
	RBSP []byte

	// SPS is populated only for seq_parameter_set_rbsp NAL units.
	SPS *SPSInfo
}

// Frame is a group of NAL units bounded by access-unit-delimiter
// boundaries, per the data model's Frame entity.
type Frame struct {
	NALUnits   []NALUnit
	PTS        int64
	DTS        int64
	Duration   int64
	KeyFrame   bool
	ByteLength int
}

// GOP is a group of frames starting with a keyframe, per the data
// model's GOP entity.
type GOP struct {
	Frames     []Frame
	PTS        int64
	DTS        int64
	Duration   int64
	ByteLength int
}

// ADTSFrame is a single extracted ADTS AAC frame, per the data model's
// ADTS Frame entity.
type ADTSFrame struct {
	PTS              int64
	DTS              int64
	SampleCount      int
	SamplingFreqIdx  int
	SampleRate       int
	ChannelCount     int
	AudioObjectType  int
	Payload          []byte
}

// VideoSample is one encoded access unit ready for moof/mdat emission.
type VideoSample struct {
	Duration               int64
	Size                   int
	Data                   []byte
	IsKeyframe             bool
	CompositionTimeOffset  int64
}

// AudioSample is one encoded frame ready for moof/mdat emission.
type AudioSample struct {
	Duration int64
	Size     int
	Data     []byte
}

// Segment is an emitted moof+mdat fragment pair together with the track
// it belongs to, per the data model's Segment entity.
type Segment struct {
	Track               *Track
	InitSegment         []byte
	Data                []byte // moof immediately followed by mdat
	BaseMediaDecodeTime  int64
	SequenceNumber       uint32
	StreamType           StreamType
}

// TimingInfo reports the {start, end} window of an emitted segment, in
// the track's native timescale (90kHz for video, samplerate for audio).
type TimingInfo struct {
	Start int64
	End   int64
}

// CaptionCue is a decoded CEA-608/708 caption window, with PTS values
// already normalized to seconds relative to the segment timeline start
// per §4.10.
type CaptionCue struct {
	StartTime float64
	EndTime   float64
	Text      string
	Stream    string
}

// ID3Cue is a raw ID3 tag plus its presentation cue time in seconds.
type ID3Cue struct {
	Data    []byte
	CueTime float64
}
