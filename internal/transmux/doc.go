// Package transmux implements a streaming MPEG-2 Transport Stream and raw
// AAC to fragmented MP4 (fMP4) transmultiplexer.
//
// The package is organized as a directed acyclic graph of push-based
// stages: PacketSplitter -> PacketParser -> ElementaryAssembler ->
// TimestampRollover -> {H264Parser, ADTSParser, ID3Parser} ->
// {VideoSegmentBuilder, AudioSegmentBuilder} -> Transmuxer output events.
//
// Every stage shares the same lifecycle contract (see Stage): Push accepts
// one unit of input, Flush/PartialFlush/EndTimeline emit buffered state
// under different retention rules, and Reset discards all buffered state.
// The graph is single-threaded and reentrant: a Push call may synchronously
// drive pushes into every downstream stage before returning.
//
// This package performs no I/O. Callers feed it byte chunks via
// Transmuxer.Push and receive fMP4 fragments, timing info, ID3 cues, and
// caption cues through the OutputSink callbacks configured at
// construction time.
package transmux
