package transmux

import (
	"bytes"
	"encoding/binary"
)

// MP4 box construction for fragmented ISO Base Media File Format output,
// per §4.11. This is hand-rolled with encoding/binary and bytes.Buffer
// rather than built on a third-party MP4 library; see DESIGN.md for why
// no library in the example corpus is wired in for box *construction*
// (as opposed to the box *parsing* internal/relay/cmaf_muxer.go already
// does with the same primitives).

const (
	videoTimescale = 90000
)

// trun sample flags, ISO/IEC 14496-12 §8.8.3.1.
const (
	sampleFlagNonSyncSample = 1 << 16 // sample_is_non_sync_sample
)

func fourCC(s string) [4]byte {
	var b [4]byte
	copy(b[:], s)
	return b
}

// writeBox wraps body with an 8-byte [size][type] header.
func writeBox(boxType string, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	tc := fourCC(boxType)
	copy(out[4:8], tc[:])
	copy(out[8:], body)
	return out
}

// writeContainer concatenates child boxes and wraps them in boxType.
func writeContainer(boxType string, children ...[]byte) []byte {
	var body []byte
	for _, c := range children {
		body = append(body, c...)
	}
	return writeBox(boxType, body)
}

// fullBoxHeader returns the 4-byte version+flags prefix for a "full box".
func fullBoxHeader(version byte, flags uint32) []byte {
	return []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
}

func putU16(buf *bytes.Buffer, v uint16) { _ = binary.Write(buf, binary.BigEndian, v) }
func putU32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.BigEndian, v) }
func putU64(buf *bytes.Buffer, v uint64) { _ = binary.Write(buf, binary.BigEndian, v) }
func putI16(buf *bytes.Buffer, v int16)  { _ = binary.Write(buf, binary.BigEndian, v) }
func putI32(buf *bytes.Buffer, v int32)  { _ = binary.Write(buf, binary.BigEndian, v) }

// buildFTYP builds the file-type box identifying this as an ISO BMFF
// fragment-capable file, matching the brands mux.js emits.
func buildFTYP() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("iso5") // major_brand
	putU32(buf, 512)        // minor_version
	buf.WriteString("iso6")
	buf.WriteString("mp41")
	return writeBox("ftyp", buf.Bytes())
}

// buildMVHD builds the movie header box.
func buildMVHD(nextTrackID uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putU32(buf, 0)     // creation_time
	putU32(buf, 0)     // modification_time
	putU32(buf, 1000)  // timescale (arbitrary; fragments carry real durations)
	putU32(buf, 0)     // duration
	putI32(buf, 0x00010000) // rate 1.0
	putI16(buf, 0x0100)     // volume 1.0
	putU16(buf, 0)          // reserved
	putU32(buf, 0)          // reserved
	putU32(buf, 0)          // reserved
	for _, v := range [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		putI32(buf, v)
	}
	for i := 0; i < 6; i++ {
		putU32(buf, 0) // pre_defined
	}
	putU32(buf, nextTrackID)
	return writeBox("mvhd", buf.Bytes())
}

// buildTKHD builds the track header box.
func buildTKHD(trackID uint32, width, height int, isAudio bool) []byte {
	buf := &bytes.Buffer{}
	flags := uint32(0x000007) // enabled | in_movie | in_preview
	buf.Write(fullBoxHeader(0, flags))
	putU32(buf, 0) // creation_time
	putU32(buf, 0) // modification_time
	putU32(buf, trackID)
	putU32(buf, 0) // reserved
	putU32(buf, 0) // duration
	putU32(buf, 0) // reserved
	putU32(buf, 0) // reserved
	putI16(buf, 0) // layer
	putI16(buf, 0) // alternate_group
	if isAudio {
		putI16(buf, 0x0100) // volume 1.0
	} else {
		putI16(buf, 0)
	}
	putU16(buf, 0) // reserved
	for _, v := range [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		putI32(buf, v)
	}
	putU32(buf, uint32(width)<<16)
	putU32(buf, uint32(height)<<16)
	return writeBox("tkhd", buf.Bytes())
}

// buildMDHD builds the media header box.
func buildMDHD(timescale uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putU32(buf, 0) // creation_time
	putU32(buf, 0) // modification_time
	putU32(buf, timescale)
	putU32(buf, 0)      // duration
	putU16(buf, 0x55C4) // language = und
	putU16(buf, 0)      // pre_defined
	return writeBox("mdhd", buf.Bytes())
}

// buildHDLR builds the handler reference box.
func buildHDLR(handlerType, name string) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putU32(buf, 0) // pre_defined
	hc := fourCC(handlerType)
	buf.Write(hc[:])
	putU32(buf, 0) // reserved
	putU32(buf, 0) // reserved
	putU32(buf, 0) // reserved
	buf.WriteString(name)
	buf.WriteByte(0)
	return writeBox("hdlr", buf.Bytes())
}

func buildVMHD() []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 1))
	putU16(buf, 0) // graphicsmode
	putU16(buf, 0)
	putU16(buf, 0)
	putU16(buf, 0) // opcolor
	return writeBox("vmhd", buf.Bytes())
}

func buildSMHD() []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putI16(buf, 0) // balance
	putU16(buf, 0) // reserved
	return writeBox("smhd", buf.Bytes())
}

func buildDINF() []byte {
	urlBuf := fullBoxHeader(0, 1) // self-contained
	url := writeBox("url ", urlBuf)
	dref := &bytes.Buffer{}
	dref.Write(fullBoxHeader(0, 0))
	putU32(dref, 1)
	dref.Write(url)
	return writeContainer("dinf", writeBox("dref", dref.Bytes()))
}

// buildAVC1 builds the AVC visual sample entry with its avcC box.
func buildAVC1(track *Track) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0) // reserved
	putU16(buf, 0) // reserved
	putU16(buf, 1) // data_reference_index
	putU16(buf, 0) // pre_defined
	putU16(buf, 0) // reserved
	for i := 0; i < 3; i++ {
		putU32(buf, 0) // pre_defined
	}
	putU16(buf, uint16(track.Width))
	putU16(buf, uint16(track.Height))
	putU32(buf, 0x00480000) // horizresolution 72dpi
	putU32(buf, 0x00480000) // vertresolution 72dpi
	putU32(buf, 0)          // reserved
	putU16(buf, 1)          // frame_count
	buf.Write(make([]byte, 32)) // compressorname
	putU16(buf, 0x18) // depth
	putI16(buf, -1)   // pre_defined

	avcC := buildAVCC(track)
	return writeBox("avc1", append(buf.Bytes(), avcC...))
}

// buildAVCC builds the AVCDecoderConfigurationRecord box from a track's
// SPS/PPS.
func buildAVCC(track *Track) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(1) // configurationVersion
	if len(track.SPS) > 0 {
		buf.WriteByte(track.SPS[1]) // profile_idc
		buf.WriteByte(track.SPS[2]) // profile_compatibility
		buf.WriteByte(track.SPS[3]) // level_idc
	} else {
		buf.Write([]byte{0x64, 0x00, 0x1f})
	}
	buf.WriteByte(0xFC | 0x03) // reserved(6) + lengthSizeMinusOne(2) = 3 (4-byte lengths)
	buf.WriteByte(0xE0 | 0x01) // reserved(3) + numOfSequenceParameterSets(5) = 1
	putU16(buf, uint16(len(track.SPS)))
	buf.Write(track.SPS)
	buf.WriteByte(1) // numOfPictureParameterSets
	putU16(buf, uint16(len(track.PPS)))
	buf.Write(track.PPS)
	return writeBox("avcC", buf.Bytes())
}

// buildMP4A builds the MPEG-4 audio sample entry with its esds box.
func buildMP4A(track *Track) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0) // reserved
	putU16(buf, 0) // reserved
	putU16(buf, 1) // data_reference_index
	putU32(buf, 0) // reserved
	putU32(buf, 0) // reserved
	putU16(buf, uint16(track.ChannelCount))
	putU16(buf, 16)        // samplesize
	putU16(buf, 0)         // pre_defined
	putU16(buf, 0)         // reserved
	putU32(buf, uint32(track.SampleRate)<<16)

	esds := buildESDS(track)
	return writeBox("mp4a", append(buf.Bytes(), esds...))
}

// buildMP3Entry builds the '.mp3' MPEG-1/2 audio sample entry. Unlike
// mp4a, no further configuration box is required: an MP3 frame's header
// already carries everything a decoder needs.
func buildMP3Entry(track *Track) []byte {
	buf := &bytes.Buffer{}
	putU32(buf, 0) // reserved
	putU16(buf, 0) // reserved
	putU16(buf, 1) // data_reference_index
	putU32(buf, 0) // reserved
	putU32(buf, 0) // reserved
	putU16(buf, uint16(track.ChannelCount))
	putU16(buf, 16) // samplesize
	putU16(buf, 0)  // pre_defined
	putU16(buf, 0)  // reserved
	putU32(buf, uint32(track.SampleRate)<<16)
	return writeBox(".mp3", buf.Bytes())
}

// buildESDS builds a minimal MPEG-4 Elementary Stream Descriptor carrying
// the AudioSpecificConfig mux.js/this package derives from the ADTS
// header (object type, sampling frequency index, channel config).
func buildESDS(track *Track) []byte {
	ascByte0 := byte(0x02<<3) | byte(0) // AAC-LC (type 2), sampling freq idx filled below
	samplingIdx := samplingFreqIndexForRate(track.SampleRate)
	ascByte0 = (2 << 3) | (samplingIdx >> 1)
	ascByte1 := byte(samplingIdx<<7) | byte(track.ChannelCount<<3)
	asc := []byte{ascByte0, ascByte1}

	decSpecificInfo := append([]byte{0x05, byte(len(asc))}, asc...)
	decoderConfig := append([]byte{
		0x04, 0x0D + byte(len(asc)),
		0x40,          // object type indication: MPEG-4 Audio
		0x15,          // streamType(6 bits)=audio(5), upStream(1)=0, reserved(1)=1
		0, 0, 0,       // bufferSizeDB
		0, 1, 0xF7, 0x39, // maxBitrate (placeholder)
		0, 1, 0xF7, 0x39, // avgBitrate (placeholder)
	}, decSpecificInfo...)
	slConfig := []byte{0x06, 0x01, 0x02}
	esDescriptor := append([]byte{0x03, byte(3 + len(decoderConfig) + len(slConfig)), 0, 0, 0}, decoderConfig...)
	esDescriptor = append(esDescriptor, slConfig...)

	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	buf.Write(esDescriptor)
	return writeBox("esds", buf.Bytes())
}

func samplingFreqIndexForRate(rate int) byte {
	for i, r := range adtsSamplingFrequencies {
		if r == rate {
			return byte(i)
		}
	}
	return 3 // 48000 fallback
}

func buildSTSD(track *Track) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putU32(buf, 1) // entry_count
	switch {
	case track.Type == StreamTypeVideo:
		buf.Write(buildAVC1(track))
	case track.Codec == CodecMP3:
		buf.Write(buildMP3Entry(track))
	default:
		buf.Write(buildMP4A(track))
	}
	return writeBox("stsd", buf.Bytes())
}

func buildSTBL(track *Track) []byte {
	zero := append(fullBoxHeader(0, 0), 0, 0, 0, 0)
	sttsBox := writeBox("stts", zero)
	stscBox := writeBox("stsc", zero)
	stcoBox := writeBox("stco", zero)
	stszBody := append(fullBoxHeader(0, 0), 0, 0, 0, 0, 0, 0, 0, 0)
	stszBox := writeBox("stsz", stszBody)

	return writeContainer("stbl",
		buildSTSD(track),
		sttsBox,
		stscBox,
		stszBox,
		stcoBox,
	)
}

func buildMINF(track *Track) []byte {
	var mediaHeader []byte
	if track.Type == StreamTypeVideo {
		mediaHeader = buildVMHD()
	} else {
		mediaHeader = buildSMHD()
	}
	return writeContainer("minf", mediaHeader, buildDINF(), buildSTBL(track))
}

func buildMDIA(track *Track) []byte {
	timescale := uint32(videoTimescale)
	handlerType := "vide"
	handlerName := "VideoHandler"
	if track.Type == StreamTypeAudio {
		timescale = uint32(track.SampleRate)
		handlerType = "soun"
		handlerName = "SoundHandler"
	}
	return writeContainer("mdia",
		buildMDHD(timescale),
		buildHDLR(handlerType, handlerName),
		buildMINF(track),
	)
}

func buildTRAK(track *Track) []byte {
	return writeContainer("trak",
		buildTKHD(uint32(track.ID), track.Width, track.Height, track.Type == StreamTypeAudio),
		buildMDIA(track),
	)
}

func buildTREX(trackID uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putU32(buf, trackID)
	putU32(buf, 1) // default_sample_description_index
	putU32(buf, 0) // default_sample_duration
	putU32(buf, 0) // default_sample_size
	putU32(buf, 0) // default_sample_flags
	return writeBox("trex", buf.Bytes())
}

// BuildInitSegment builds the ftyp+moov initialization segment for a
// single track (video or audio), per §4.11.
func BuildInitSegment(track *Track) []byte {
	moov := writeContainer("moov",
		buildMVHD(uint32(track.ID)+1),
		buildTRAK(track),
		writeContainer("mvex", buildTREX(uint32(track.ID))),
	)
	return append(buildFTYP(), moov...)
}

// buildMFHD builds the movie fragment header box.
func buildMFHD(sequenceNumber uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, 0))
	putU32(buf, sequenceNumber)
	return writeBox("mfhd", buf.Bytes())
}

// tfhd flags: default-base-is-moof, per §4.11.
const tfhdFlagsDefaultBaseIsMoof = 0x020000

func buildTFHD(trackID uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(0, tfhdFlagsDefaultBaseIsMoof))
	putU32(buf, trackID)
	return writeBox("tfhd", buf.Bytes())
}

func buildTFDT(baseMediaDecodeTime int64) []byte {
	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(1, 0)) // version 1: 64-bit base media decode time
	putU64(buf, uint64(baseMediaDecodeTime))
	return writeBox("tfdt", buf.Bytes())
}

// trun flags, ISO/IEC 14496-12 §8.8.8.
const (
	trunFlagDataOffsetPresent        = 0x000001
	trunFlagSampleDurationPresent    = 0x000100
	trunFlagSampleSizePresent        = 0x000200
	trunFlagSampleFlagsPresent       = 0x000400
	trunFlagSampleCompositionPresent = 0x000800
)

// sampleEntry is the generic per-sample bookkeeping trun needs; video
// supplies non-zero flags/compositionOffset, audio leaves them zero.
type sampleEntry struct {
	duration   int64
	size       int
	flags      uint32
	compositionOffset int64
}

// buildTRUN builds the track fragment run box; dataOffset must be
// computed by the caller once the moof's total size is known (the
// classic chicken-and-egg of fragmented MP4: trun needs to know where
// its own box ends).
func buildTRUN(samples []sampleEntry, dataOffset int32, withCompositionOffset bool) []byte {
	flags := uint32(trunFlagDataOffsetPresent | trunFlagSampleDurationPresent | trunFlagSampleSizePresent | trunFlagSampleFlagsPresent)
	version := byte(0)
	if withCompositionOffset {
		flags |= trunFlagSampleCompositionPresent
		version = 1 // signed composition time offsets
	}

	buf := &bytes.Buffer{}
	buf.Write(fullBoxHeader(version, flags))
	putU32(buf, uint32(len(samples)))
	putI32(buf, dataOffset)
	for _, s := range samples {
		putU32(buf, uint32(s.duration))
		putU32(buf, uint32(s.size))
		putU32(buf, s.flags)
		if withCompositionOffset {
			putI32(buf, int32(s.compositionOffset))
		}
	}
	return writeBox("trun", buf.Bytes())
}

// BuildFragment builds one moof+mdat pair for a single track's samples,
// per §4.11. samples' Data fields are concatenated in order to form
// mdat's payload, satisfying the "every moof is immediately followed by
// exactly one mdat" invariant.
func BuildFragment(trackID uint32, sequenceNumber uint32, baseMediaDecodeTime int64, samples []sampleEntry, payloads [][]byte, isVideo bool) []byte {
	traf := writeContainer("traf",
		buildTFHD(trackID),
		buildTFDT(baseMediaDecodeTime),
	)

	// moof body without trun's data_offset resolved yet: mfhd + traf
	// (without trun) lets us compute the offset trun needs.
	mfhd := buildMFHD(sequenceNumber)
	moofHeaderSize := 8 + len(mfhd) + 8 + len(traf) // outer moof header + mfhd + traf header + traf body, trun not yet counted

	// trun box size depends only on sample count, not values, so we can
	// size it before filling in dataOffset.
	placeholderTrun := buildTRUN(samples, 0, isVideo)
	moofSize := moofHeaderSize + len(placeholderTrun)
	dataOffset := int32(moofSize + 8) // + mdat header

	trun := buildTRUN(samples, dataOffset, isVideo)
	traf = writeContainer("traf",
		buildTFHD(trackID),
		buildTFDT(baseMediaDecodeTime),
		trun,
	)
	moof := writeContainer("moof", mfhd, traf)

	var mdatBody []byte
	for _, p := range payloads {
		mdatBody = append(mdatBody, p...)
	}
	mdat := writeBox("mdat", mdatBody)

	out := make([]byte, 0, len(moof)+len(mdat))
	out = append(out, moof...)
	out = append(out, mdat...)
	return out
}
