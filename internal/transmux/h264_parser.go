package transmux

import "log/slog"

// NALUType identifies an H.264 NAL unit's nal_unit_type field (the low 5
// bits of the first NAL byte), per §4.5.
type NALUType byte

const (
	NALUSlice     NALUType = 1
	NALUSliceIDR  NALUType = 5
	NALUSEI       NALUType = 6
	NALUSPS       NALUType = 7
	NALUPPS       NALUType = 8
	NALUAUD       NALUType = 9
)

// SPSInfo is the subset of sequence-parameter-set fields this package
// decodes: profile/level, chroma format, bit depths, frame cropping, and
// resolution, per §4.5.
type SPSInfo struct {
	ProfileIdc        byte
	LevelIdc          byte
	ChromaFormatIdc   uint32
	BitDepthLuma      uint32
	BitDepthChroma    uint32
	Width             int
	Height            int
}

// cea708ATSCUUID is the ATSC A/53 user_data_registered_itu_t_t35 payload
// prefix (country code 0xB5, provider code 0x0031, ATSC identifier
// "GA94") SEI user data must match for caption extraction, per §4.5.
var cea708ATSCUUID = []byte{0xB5, 0x00, 0x31, 'G', 'A', '9', '4'}

// H264ParserConfig configures H264Parser.
type H264ParserConfig struct {
	Logger *slog.Logger

	// OnNALUnit receives every interpreted NAL unit, tagged with the
	// current access unit's PTS/DTS.
	OnNALUnit func(NALUnit)

	// OnCaptionSEI receives the CEA-708-wrapped payload of any SEI user
	// data unregistered message matching the ATSC A/53 UUID, for the
	// caption extractor (§4.10).
	OnCaptionSEI func(pts, dts int64, payload []byte)
}

// H264Parser splits an Annex-B NAL byte stream on start codes and
// interprets each NAL unit's type, emulation-prevention-stripped RBSP,
// and (for SPS) parsed configuration, per §4.5.
type H264Parser struct {
	config H264ParserConfig

	buffer    []byte
	currentPTS int64
	currentDTS int64
}

// NewH264Parser creates an H264Parser.
func NewH264Parser(config H264ParserConfig) *H264Parser {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &H264Parser{config: config}
}

// Push feeds one PES packet's payload (an Annex-B byte stream fragment)
// into the parser. PTS/DTS from the PES packet are attached to every NAL
// unit split out of this push; mux.js (and this port) assume one PES
// packet corresponds to one access unit's worth of timestamps.
func (p *H264Parser) Push(pts, dts int64, data []byte) {
	p.currentPTS = pts
	p.currentDTS = dts
	p.buffer = append(p.buffer, data...)
	p.drain(false)
}

// drain splits complete NAL units out of the buffer. When flushing is
// true, the final NAL unit (which may otherwise still be receiving
// bytes) is also emitted.
func (p *H264Parser) drain(flushing bool) {
	starts := findStartCodes(p.buffer)
	if len(starts) == 0 {
		return
	}

	n := len(starts)
	lastComplete := n - 1
	if !flushing {
		lastComplete = n - 2
	}
	if lastComplete < 0 {
		return
	}

	var consumed int
	for i := 0; i <= lastComplete; i++ {
		nalStart := starts[i].payloadOffset
		var nalEnd int
		if i+1 < n {
			nalEnd = starts[i+1].startOffset
		} else {
			nalEnd = len(p.buffer)
		}
		if nalStart < nalEnd {
			p.emitNAL(p.buffer[nalStart:nalEnd])
		}
		consumed = nalEnd
	}

	p.buffer = append([]byte(nil), p.buffer[consumed:]...)
}

type startCodeMatch struct {
	startOffset   int // offset of the leading 0x00
	payloadOffset int // offset immediately after the start code
}

// findStartCodes scans for 0x000001 or 0x00000001 start code sequences.
func findStartCodes(buf []byte) []startCodeMatch {
	var matches []startCodeMatch
	i := 0
	for i+2 < len(buf) {
		if buf[i] == 0x00 && buf[i+1] == 0x00 && buf[i+2] == 0x01 {
			start := i
			// Absorb an extra leading zero for the 4-byte form.
			if start > 0 && buf[start-1] == 0x00 {
				start--
			}
			matches = append(matches, startCodeMatch{startOffset: start, payloadOffset: i + 3})
			i += 3
			continue
		}
		i++
	}
	return matches
}

// stripEmulationPrevention removes 0x03 emulation-prevention bytes from
// 0x000003 sequences, leaving the original Data slice untouched, per
// §4.5.
func stripEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeroRun := 0
	for i := 0; i < len(data); i++ {
		b := data[i]
		if zeroRun >= 2 && b == 0x03 && i+1 < len(data) && data[i+1] <= 0x03 {
			zeroRun = 0
			continue
		}
		out = append(out, b)
		if b == 0x00 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	return out
}

func (p *H264Parser) emitNAL(data []byte) {
	if len(data) == 0 {
		return
	}
	raw := append([]byte(nil), data...)
	naluType := NALUType(raw[0] & 0x1F)

	nal := NALUnit{
		Type: naluType,
		PTS:  p.currentPTS,
		DTS:  p.currentDTS,
		Data: raw,
	}

	switch naluType {
	case NALUSPS:
		rbsp := stripEmulationPrevention(raw[1:])
		nal.RBSP = rbsp
		if sps, err := parseSPS(rbsp); err == nil {
			nal.SPS = sps
		} else {
			p.config.Logger.Warn("discarding unparseable SPS", "err", &StageError{Stage: "h264_parser", Err: err})
		}
	case NALUSEI:
		rbsp := stripEmulationPrevention(raw[1:])
		nal.RBSP = rbsp
		p.extractCaptionSEI(rbsp)
	case NALUPPS, NALUSlice, NALUSliceIDR, NALUAUD:
		nal.RBSP = stripEmulationPrevention(raw[1:])
	}

	if p.config.OnNALUnit != nil {
		p.config.OnNALUnit(nal)
	}
}

// extractCaptionSEI scans SEI RBSP for user_data_unregistered payloads
// matching the CEA-708/ATSC A/53 UUID and forwards the cc_data payload
// to the caption extractor, per §4.5/§4.10. SEI payload framing uses the
// standard payloadType/payloadSize byte-extension encoding (0xFF bytes
// add 255 and continue).
func (p *H264Parser) extractCaptionSEI(rbsp []byte) {
	i := 0
	for i < len(rbsp) {
		payloadType := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadType += 255
			i++
		}
		if i >= len(rbsp) {
			return
		}
		payloadType += int(rbsp[i])
		i++

		payloadSize := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadSize += 255
			i++
		}
		if i >= len(rbsp) {
			return
		}
		payloadSize += int(rbsp[i])
		i++

		if i+payloadSize > len(rbsp) {
			return
		}
		payload := rbsp[i : i+payloadSize]

		const seiTypeUserDataUnregistered = 5
		if payloadType == seiTypeUserDataUnregistered && len(payload) >= len(cea708ATSCUUID) {
			if bytesEqual(payload[:len(cea708ATSCUUID)], cea708ATSCUUID) {
				if p.config.OnCaptionSEI != nil {
					p.config.OnCaptionSEI(p.currentPTS, p.currentDTS, payload[len(cea708ATSCUUID):])
				}
			}
		}

		i += payloadSize
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// parseSPS decodes the fields of an H.264 sequence parameter set RBSP
// using exponential-Golomb arithmetic, per §4.5.
func parseSPS(rbsp []byte) (*SPSInfo, error) {
	g := NewExpGolomb(rbsp)

	profileIdc, err := g.ReadBits(8)
	if err != nil {
		return nil, err
	}
	if err := g.SkipBits(8); err != nil { // constraint flags + reserved
		return nil, err
	}
	levelIdc, err := g.ReadBits(8)
	if err != nil {
		return nil, err
	}
	if _, err := g.ReadUnsignedExpGolomb(); err != nil { // seq_parameter_set_id
		return nil, err
	}

	info := &SPSInfo{
		ProfileIdc:      byte(profileIdc),
		LevelIdc:        byte(levelIdc),
		ChromaFormatIdc: 1,
		BitDepthLuma:    8,
		BitDepthChroma:  8,
	}

	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIdc, err := g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
		info.ChromaFormatIdc = chromaFormatIdc
		if chromaFormatIdc == 3 {
			if err := g.SkipBits(1); err != nil { // separate_colour_plane_flag
				return nil, err
			}
		}
		bitDepthLumaMinus8, err := g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
		info.BitDepthLuma = bitDepthLumaMinus8 + 8
		bitDepthChromaMinus8, err := g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
		info.BitDepthChroma = bitDepthChromaMinus8 + 8
		if err := g.SkipBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return nil, err
		}
		seqScalingMatrixPresent, err := g.ReadBool()
		if err != nil {
			return nil, err
		}
		if seqScalingMatrixPresent {
			count := 8
			if chromaFormatIdc == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := g.ReadBool()
				if err != nil {
					return nil, err
				}
				if present {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(g, size); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if _, err := g.ReadUnsignedExpGolomb(); err != nil { // log2_max_frame_num_minus4
		return nil, err
	}
	picOrderCntType, err := g.ReadUnsignedExpGolomb()
	if err != nil {
		return nil, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := g.ReadUnsignedExpGolomb(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return nil, err
		}
	case 1:
		if err := g.SkipBits(1); err != nil { // delta_pic_order_always_zero_flag
			return nil, err
		}
		if _, err := g.ReadSignedExpGolomb(); err != nil { // offset_for_non_ref_pic
			return nil, err
		}
		if _, err := g.ReadSignedExpGolomb(); err != nil { // offset_for_top_to_bottom_field
			return nil, err
		}
		numRefFrames, err := g.ReadUnsignedExpGolomb() // num_ref_frames_in_pic_order_cnt_cycle
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < numRefFrames; i++ {
			if _, err := g.ReadSignedExpGolomb(); err != nil {
				return nil, err
			}
		}
	}

	if _, err := g.ReadUnsignedExpGolomb(); err != nil { // max_num_ref_frames
		return nil, err
	}
	if err := g.SkipBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return nil, err
	}

	picWidthInMbsMinus1, err := g.ReadUnsignedExpGolomb()
	if err != nil {
		return nil, err
	}
	picHeightInMapUnitsMinus1, err := g.ReadUnsignedExpGolomb()
	if err != nil {
		return nil, err
	}
	frameMbsOnly, err := g.ReadBool()
	if err != nil {
		return nil, err
	}
	frameMultiplier := uint32(2)
	if frameMbsOnly {
		frameMultiplier = 1
	} else {
		if err := g.SkipBits(1); err != nil { // mb_adaptive_frame_field_flag
			return nil, err
		}
	}
	if err := g.SkipBits(1); err != nil { // direct_8x8_inference_flag
		return nil, err
	}

	var cropLeft, cropRight, cropTop, cropBottom uint32
	frameCropping, err := g.ReadBool()
	if err != nil {
		return nil, err
	}
	if frameCropping {
		cropLeft, err = g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
		cropRight, err = g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
		cropTop, err = g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
		cropBottom, err = g.ReadUnsignedExpGolomb()
		if err != nil {
			return nil, err
		}
	}

	subWidthC, subHeightC := uint32(2), uint32(2)
	switch info.ChromaFormatIdc {
	case 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	case 0:
		subWidthC, subHeightC = 0, 0
	}

	width := (picWidthInMbsMinus1 + 1) * 16
	height := (picHeightInMapUnitsMinus1 + 1) * 16 * frameMultiplier

	if subWidthC > 0 {
		width -= (cropLeft + cropRight) * subWidthC
	}
	if subHeightC > 0 {
		height -= (cropTop + cropBottom) * subHeightC * frameMultiplier
	}

	info.Width = int(width)
	info.Height = int(height)

	return info, nil
}

// skipScalingList advances past an H.264 scaling_list() element without
// retaining its values; this package doesn't use per-coefficient
// scaling, only resolution and profile/level.
func skipScalingList(g *ExpGolomb, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			deltaScale, err := g.ReadSignedExpGolomb()
			if err != nil {
				return err
			}
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// Flush emits any buffered partial NAL unit as complete.
func (p *H264Parser) Flush() {
	p.drain(true)
	p.buffer = nil
}

// PartialFlush drains complete NAL units but retains a trailing partial
// one, matching drain's default (non-flushing) behavior, so nothing
// further needs to happen here beyond attempting a drain.
func (p *H264Parser) PartialFlush() {
	p.drain(false)
}

// EndTimeline flushes and marks the boundary.
func (p *H264Parser) EndTimeline() {
	p.Flush()
}

// Reset discards all buffered state.
func (p *H264Parser) Reset() {
	p.buffer = nil
	p.currentPTS = 0
	p.currentDTS = 0
}
