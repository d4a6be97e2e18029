package videostream

import (
	"bytes"
	"encoding/binary"
)

// FramingMode selects how the byte stream delimits NAL units. The agent
// version in use determines which one is in effect for a given session;
// the two are never mixed within one session, so the mode is fixed at
// construction time and not auto-detected.
type FramingMode int

const (
	// AnnexB scans for 00 00 00 01 / 00 00 01 start codes.
	AnnexB FramingMode = iota
	// MetadataFraming consumes scrcpy's per-packet 12-byte header
	// ([8B PTS+flags][4B size]) the same shape the audio stream uses.
	MetadataFraming
)

var (
	startCode3 = []byte{0, 0, 1}
	startCode4 = []byte{0, 0, 0, 1}
)

const (
	videoConfigFlagBit = uint64(1) << 63
	videoKeyFlagBit    = uint64(1) << 62
	videoPTSMask       = (uint64(1) << 62) - 1
)

// Parser extracts NAL units from a byte stream that grows over successive
// Append calls, tracking parameter sets and raising OnSPSChanged when the
// stored SPS bytes differ from a newly observed one.
type Parser struct {
	codec Codec
	mode  FramingMode
	buf   []byte // growable accumulator; head marks the unconsumed prefix
	head  int

	sps, pps, vps []byte

	// OnSPSChanged, if set, is invoked synchronously from Append when a new
	// SPS differs from the stored one. The parser never surfaces fatal
	// errors: malformed bytes simply advance the buffer without emission.
	OnSPSChanged func(newSPS []byte)
}

// NewParser creates a Parser for the given codec and framing mode.
func NewParser(codec Codec, mode FramingMode) *Parser {
	return &Parser{codec: codec, mode: mode}
}

// Append feeds newly received bytes and returns every NAL unit that became
// complete as a result, in stream order. No NAL is ever emitted before its
// terminating boundary (next start code, or full metadata-framed length) is
// present in the buffer.
func (p *Parser) Append(b []byte) []NALUnit {
	p.buf = append(p.buf, b...)
	p.compact()

	if p.mode == MetadataFraming {
		return p.drainMetadataFramed()
	}
	return p.drainAnnexB()
}

// compact drops the already-consumed prefix once it grows past a
// threshold, avoiding an O(n) memmove on every single emitted NAL.
func (p *Parser) compact() {
	const compactThreshold = 64 * 1024
	if p.head < compactThreshold {
		return
	}
	p.buf = append(p.buf[:0], p.buf[p.head:]...)
	p.head = 0
}

func (p *Parser) unread() []byte { return p.buf[p.head:] }

func (p *Parser) drainMetadataFramed() []NALUnit {
	var out []NALUnit
	for {
		rest := p.unread()
		if len(rest) < 12 {
			return out
		}
		ptsAndFlags := binary.BigEndian.Uint64(rest[0:8])
		size := binary.BigEndian.Uint32(rest[8:12])
		total := 12 + int(size)
		if len(rest) < total {
			return out
		}
		payload := append([]byte(nil), rest[12:total]...)
		p.head += total

		if nal, ok := p.classifyAndCache(payload); ok {
			nal.PTSMicros = int64(ptsAndFlags & videoPTSMask)
			nal.IsConfig = ptsAndFlags&videoConfigFlagBit != 0
			nal.IsKey = ptsAndFlags&videoKeyFlagBit != 0
			out = append(out, nal)
		}
	}
}

func (p *Parser) drainAnnexB() []NALUnit {
	var out []NALUnit
	for {
		rest := p.unread()

		start, startLen := findStartCode(rest)
		if start < 0 {
			return out
		}
		// Find the next start code after this one to bound the NAL.
		next, _ := findStartCode(rest[start+startLen:])
		if next < 0 {
			// No terminating boundary yet; wait for more bytes.
			return out
		}
		end := start + startLen + next
		payload := append([]byte(nil), rest[start+startLen:end]...)

		// Advance past this NAL's start code, leaving the next start code
		// in place so the following iteration can find it again.
		p.head += start + startLen

		if len(payload) == 0 {
			continue
		}
		if nal, ok := p.classifyAndCache(payload); ok {
			out = append(out, nal)
		}
	}
}

func findStartCode(b []byte) (index, length int) {
	i4 := bytes.Index(b, startCode4)
	i3 := bytes.Index(b, startCode3)
	switch {
	case i4 < 0 && i3 < 0:
		return -1, 0
	case i4 < 0:
		return i3, 3
	case i3 < 0:
		return i4, 4
	case i4 <= i3:
		return i4, 4
	default:
		return i3, 3
	}
}

func (p *Parser) classifyAndCache(payload []byte) (NALUnit, bool) {
	if len(payload) == 0 {
		return NALUnit{}, false
	}
	nalType := p.codec.nalType(payload[0], secondByteOr(payload, 0))
	isParamSet, isVCL := p.codec.classify(nalType)

	if isParamSet {
		switch p.codec.paramSetKind(nalType) {
		case kindSPS:
			if p.sps == nil || !bytes.Equal(p.sps, payload) {
				p.sps = payload
				if p.OnSPSChanged != nil {
					p.OnSPSChanged(payload)
				}
			}
		case kindPPS:
			p.pps = payload
		case kindVPS:
			p.vps = payload
		}
	}

	return NALUnit{Type: nalType, IsParameterSet: isParamSet, IsVCL: isVCL, Data: payload}, true
}

func secondByteOr(b []byte, def byte) byte {
	if len(b) > 1 {
		return b[1]
	}
	return def
}

// HasCompleteParameterSets reports whether the parameter sets required to
// initialize the decoder for this codec are all present.
func (p *Parser) HasCompleteParameterSets() bool {
	if p.codec == H265 {
		return p.vps != nil && p.sps != nil && p.pps != nil
	}
	return p.sps != nil && p.pps != nil
}

// ParameterSets returns the current (sps, pps, vps) cache; vps is nil for H264.
func (p *Parser) ParameterSets() (sps, pps, vps []byte) {
	return p.sps, p.pps, p.vps
}

// Reset clears the buffer and parameter-set cache but keeps the codec type.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.head = 0
	p.sps, p.pps, p.vps = nil, nil, nil
}
