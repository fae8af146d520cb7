// Package daemon provides the tvarr-ffmpegd daemon implementation.
package daemon

import (
	"log/slog"
	"strings"

	"github.com/tvarr-project/tvarr/internal/transmux"
)

// TransmuxDemuxerConfig configures TransmuxDemuxer. It mirrors
// TSDemuxerConfig's shape so the two are interchangeable behind the
// OutputDemuxer interface.
type TransmuxDemuxerConfig struct {
	Logger *slog.Logger

	TargetVideoCodec string // "h264"
	TargetAudioCodec string // "aac"

	OnVideoSample func(pts, dts int64, data []byte, isKeyframe bool)
	OnAudioSample func(pts int64, data []byte)
}

// SupportsTransmuxDemuxer reports whether an FFmpeg output pairing of
// videoCodec/audioCodec falls inside the elementary-stream codecs
// internal/transmux understands (H.264 Annex-B video, ADTS AAC audio).
// Anything else — H.265, AC3/EAC3, MP3, Opus, or fMP4 output — keeps
// using TSDemuxer/FMP4Demuxer, whose mediacommon-backed parsers cover
// that wider codec surface.
func SupportsTransmuxDemuxer(videoCodec, audioCodec string) bool {
	v := strings.ToLower(videoCodec)
	a := strings.ToLower(audioCodec)
	return (v == "" || v == "h264") && (a == "" || a == "aac")
}

// TransmuxDemuxer demuxes an MPEG-TS byte stream carrying H.264 video and
// ADTS AAC audio using internal/transmux's TS pipeline, bypassing its
// fMP4/moof-mdat boxing stages in favor of the raw access-unit and audio
// frame hooks. It implements the same OutputDemuxer interface as
// TSDemuxer, for the common FFmpeg transcode output case this daemon
// handles most often.
type TransmuxDemuxer struct {
	config TransmuxDemuxerConfig
	tx     *transmux.Transmuxer
}

// NewTransmuxDemuxer creates a TransmuxDemuxer.
func NewTransmuxDemuxer(config TransmuxDemuxerConfig) *TransmuxDemuxer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	d := &TransmuxDemuxer{config: config}
	d.tx = transmux.NewTransmuxer(transmux.TransmuxerConfig{
		Logger:           config.Logger,
		OnRawVideoSample: config.OnVideoSample,
		OnRawAudioSample: config.OnAudioSample,
	})
	return d
}

// Write pushes one chunk of FFmpeg's MPEG-TS output through the
// transmux pipeline. Samples complete enough to emit (full access
// units, full ADTS frames) reach the configured callbacks immediately;
// PartialFlush matches the low-latency streaming use this daemon needs
// from its output demuxer, the same way TSDemuxer emits as soon as
// mediacommon hands it a sample rather than batching to EOF.
func (d *TransmuxDemuxer) Write(data []byte) error {
	d.tx.Push(data)
	d.tx.PartialFlush()
	return nil
}

// Close drains any buffered trailing access unit or audio frame.
func (d *TransmuxDemuxer) Close() {
	d.tx.Flush()
}
