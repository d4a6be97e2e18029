// Package videostream extracts NAL units from a growing scrcpy video byte
// stream and tracks the current parameter-set (SPS/PPS/VPS) cache, raising
// a reconfiguration signal on SPS change, grounded on the Annex-B NAL
// splitting and SPS/PPS bookkeeping in the cowby123-scrcpy reference
// reader and this pipeline's byte-stream style.
package videostream

// Codec selects the NAL classification table (H.264 vs H.265).
type Codec int

const (
	H264 Codec = iota
	H265
)

// NALUnit is one whole, classified NAL unit extracted from the stream.
// PTSMicros/IsConfig/IsKey are only meaningful in MetadataFraming mode,
// where the 12-byte per-packet header carries them; Annex-B streams carry
// no in-band timing, so they are left zero/false there.
type NALUnit struct {
	Type int
	IsParameterSet bool
	IsVCL bool
	Data []byte
	PTSMicros int64
	IsConfig bool
	IsKey bool
}

func classifyH264(nalType int) (isParamSet, isVCL bool) {
	switch nalType {
	case 7, 8: // SPS, PPS
		return true, false
	case 1, 5: // non-IDR slice, IDR slice
		return false, true
	default:
		return false, false
	}
}

func classifyH265(nalType int) (isParamSet, isVCL bool) {
	switch {
	case nalType == 32, nalType == 33, nalType == 34: // VPS, SPS, PPS
		return true, false
	case nalType <= 31:
		return false, true
	default:
		return false, false
	}
}

func (c Codec) classify(nalType int) (isParamSet, isVCL bool) {
	if c == H265 {
		return classifyH265(nalType)
	}
	return classifyH264(nalType)
}

func (c Codec) nalType(firstByte, secondByte byte) int {
	if c == H265 {
		return int((firstByte >> 1) & 0x3F)
	}
	return int(firstByte & 0x1F)
}

func (c Codec) paramSetKind(nalType int) paramSetKind {
	if c == H265 {
		switch nalType {
		case 32:
			return kindVPS
		case 33:
			return kindSPS
		case 34:
			return kindPPS
		}
		return kindNone
	}
	switch nalType {
	case 7:
		return kindSPS
	case 8:
		return kindPPS
	}
	return kindNone
}

type paramSetKind int

const (
	kindNone paramSetKind = iota
	kindSPS
	kindPPS
	kindVPS
)
