package transmux

import (
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// adtsSamplingFrequencies maps the 4-bit sampling_frequency_index to its
// sample rate in Hz, per ISO/IEC 13818-7 Table 1.18.
var adtsSamplingFrequencies = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
	0, 0, 0, // 13-15 reserved
}

// ADTSParserConfig configures ADTSParser.
type ADTSParserConfig struct {
	Logger *slog.Logger

	// CarryFrameNumAcrossPES enables carrying the intra-PES frame
	// counter across PES packet boundaries instead of resetting it to 0
	// at the start of every PES, per §4.7's "partial-segment handling".
	CarryFrameNumAcrossPES bool

	OnFrame func(ADTSFrame)

	// OnDesync, if set, is called once per byte discarded while
	// resynchronizing on a bad sync word or an implausible frame
	// length. Diagnostics only, per the same contract as
	// PacketSplitterConfig.OnDesync.
	OnDesync func()
}

// ADTSParser extracts framed ADTS AAC audio frames from a rolling byte
// buffer assembled from audio PES packets, per §4.7.
type ADTSParser struct {
	config ADTSParserConfig

	buffer   []byte
	basePTS  int64
	baseDTS  int64
	frameNum int64
}

// NewADTSParser creates an ADTSParser.
func NewADTSParser(config ADTSParserConfig) *ADTSParser {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ADTSParser{config: config}
}

// Push feeds one audio PES packet's payload into the parser.
func (a *ADTSParser) Push(pts, dts int64, data []byte) {
	a.basePTS = pts
	a.baseDTS = dts
	if !a.config.CarryFrameNumAcrossPES {
		a.frameNum = 0
	}
	a.buffer = append(a.buffer, data...)
	a.drain()
}

func (a *ADTSParser) drain() {
	buf := a.buffer
	offset := 0

	for {
		if len(buf)-offset < 7 {
			break
		}
		if buf[offset] != 0xFF || buf[offset+1]&0xF6 != 0xF0 {
			// Sync mismatch: advance one byte and rescan, per §4.7.
			if a.config.OnDesync != nil {
				a.config.OnDesync()
			}
			offset++
			continue
		}

		protectionAbsent := buf[offset+1]&0x01 != 0
		headerLength := 7
		if !protectionAbsent {
			headerLength = 9
		}
		if len(buf)-offset < headerLength {
			// Wait for more data before decoding this header fully.
			break
		}

		frameLength := int(buf[offset+3]&0x03)<<11 | int(buf[offset+4])<<3 | int(buf[offset+5])>>5
		if frameLength < headerLength {
			// Malformed length: treat as desync and resync byte by byte.
			if a.config.OnDesync != nil {
				a.config.OnDesync()
			}
			offset++
			continue
		}
		if len(buf)-offset < frameLength {
			// Incomplete frame: wait for more data.
			break
		}

		samplingFreqIdx := int(buf[offset+2] >> 2 & 0x0F)
		sampleRate := adtsSamplingFrequencies[samplingFreqIdx]
		channelCount := int(buf[offset+2]&0x01)<<2 | int(buf[offset+3]>>6)
		audioObjectType := int(buf[offset+2]>>6&0x03) + 1
		sampleCount := (int(buf[offset+6]&0x03) + 1) * 1024

		payload := append([]byte(nil), buf[offset+headerLength:offset+frameLength]...)

		if channelCount == 0 {
			// channel_configuration=0 defers channel layout to a Program
			// Config Element inside the raw_data_block; resolve it from
			// the frame payload itself, defaulting to stereo.
			channelCount = mpeg4audio.ResolveChannelCount(&mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectType(audioObjectType),
				SampleRate:   sampleRate,
				ChannelCount: 0,
			}, payload, 2)
		}

		frameDuration := int64(0)
		if sampleRate > 0 {
			frameDuration = int64(sampleCount) * 90000 / int64(sampleRate)
		}

		frame := ADTSFrame{
			PTS:             a.basePTS + a.frameNum*frameDuration,
			DTS:             a.baseDTS + a.frameNum*frameDuration,
			SampleCount:     sampleCount,
			SamplingFreqIdx: samplingFreqIdx,
			SampleRate:      sampleRate,
			ChannelCount:    channelCount,
			AudioObjectType: audioObjectType,
			Payload:         payload,
		}
		a.frameNum++

		if a.config.OnFrame != nil {
			a.config.OnFrame(frame)
		}

		offset += frameLength
	}

	a.buffer = append([]byte(nil), buf[offset:]...)
}

// Flush drains and discards any incomplete trailing frame; there is
// nothing useful to emit from a partial ADTS header.
func (a *ADTSParser) Flush() {
	a.drain()
	a.buffer = nil
}

// PartialFlush drains what's complete, keeping the trailing partial
// frame for the next push.
func (a *ADTSParser) PartialFlush() {
	a.drain()
}

// EndTimeline flushes and marks the boundary.
func (a *ADTSParser) EndTimeline() {
	a.Flush()
}

// Reset discards all buffered state.
func (a *ADTSParser) Reset() {
	a.buffer = nil
	a.frameNum = 0
	a.basePTS = 0
	a.baseDTS = 0
}
