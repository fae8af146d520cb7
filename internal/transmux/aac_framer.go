package transmux

import "log/slog"

// AACFramerConfig configures AACFramer.
type AACFramerConfig struct {
	Logger *slog.Logger

	// OnID3Data receives each complete ID3v2 tag found interleaved in the
	// raw stream, for routing to ID3Parser.
	OnID3Data func([]byte)

	// OnADTSData receives runs of raw ADTS frame bytes, for routing to
	// ADTSParser with CarryFrameNumAcrossPES enabled (raw AAC input has
	// no PES layer to reset the frame counter at).
	OnADTSData func([]byte)
}

// AACFramer splits a raw AAC byte stream (no MPEG-TS container) into
// interleaved ID3v2 tags and ADTS frame runs, implementing the "shorter
// pipeline" input path for standalone AAC audio.
type AACFramer struct {
	config   AACFramerConfig
	buffer   []byte
	flushing bool
}

// NewAACFramer creates an AACFramer.
func NewAACFramer(config AACFramerConfig) *AACFramer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &AACFramer{config: config}
}

// Push feeds raw bytes into the framer.
func (f *AACFramer) Push(data []byte) {
	f.buffer = append(f.buffer, data...)
	f.drain()
}

func (f *AACFramer) drain() {
	for {
		if len(f.buffer) < 3 {
			return
		}

		if f.buffer[0] == 'I' && f.buffer[1] == 'D' && f.buffer[2] == '3' {
			if len(f.buffer) < 10 {
				return
			}
			size := synchsafeSize(f.buffer[6:10])
			total := 10 + size
			if len(f.buffer) < total {
				return
			}
			tag := append([]byte(nil), f.buffer[:total]...)
			if f.config.OnID3Data != nil {
				f.config.OnID3Data(tag)
			}
			f.buffer = f.buffer[total:]
			continue
		}

		if f.buffer[0] == 0xFF && f.buffer[1]&0xF6 == 0xF0 {
			end := len(f.buffer)
			for i := 1; i+2 < len(f.buffer); i++ {
				if f.buffer[i] == 'I' && f.buffer[i+1] == 'D' && f.buffer[i+2] == '3' {
					end = i
					break
				}
			}
			if end == len(f.buffer) && !f.flushing {
				// May still be mid-run; wait for more data.
				return
			}
			if end == 0 {
				return
			}
			chunk := append([]byte(nil), f.buffer[:end]...)
			if f.config.OnADTSData != nil {
				f.config.OnADTSData(chunk)
			}
			f.buffer = f.buffer[end:]
			continue
		}

		// Neither marker recognized at the current offset: resync by one
		// byte, matching the other framers' desync handling.
		f.buffer = f.buffer[1:]
	}
}

// Flush forces any buffered trailing ADTS run to be forwarded even
// without a following ID3 marker to delimit it.
func (f *AACFramer) Flush() {
	f.flushing = true
	f.drain()
	f.flushing = false
	f.buffer = nil
}

// PartialFlush drains what can be recognized without forcing the
// trailing run.
func (f *AACFramer) PartialFlush() {
	f.drain()
}

// EndTimeline flushes and marks the boundary.
func (f *AACFramer) EndTimeline() {
	f.Flush()
}

// Reset discards all buffered state.
func (f *AACFramer) Reset() {
	f.buffer = nil
	f.flushing = false
}
