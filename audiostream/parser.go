// Package audiostream parses the scrcpy audio wire framing: a 4-byte codec-id
// prologue followed by repeating [8B PTS+flags][4B length][payload] packets,
// grounded on the codec-id and length-prefixed packet reads in the
// babelcloud-gbox scrcpy reader and the cowby123-scrcpy video-header
// reader, generalized to the audio side.
package audiostream

import "encoding/binary"

const (
	configFlagBit = uint64(1) << 63
	keyFlagBit = uint64(1) << 62
	ptsMask = (uint64(1) << 62) - 1
)

// CodecID is the 32-bit big-endian ASCII fourcc received once at the head
// of the audio stream ("opus", "aac\x00", "flac", "raw\x00").
type CodecID uint32

const (
	CodecOpus CodecID = 0x6F707573 // "opus"
	CodecAAC CodecID = 0x61616300 // "aac\x00"
	CodecFLAC CodecID = 0x666C6163 // "flac"
	CodecRaw CodecID = 0x72617700 // "raw\x00"
)

func (c CodecID) String() string {
	b := []byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)}
	for i, x := range b {
		if x == 0 {
			b[i] = ' '
		}
	}
	return string(b)
}

// Packet is one demuxed audio packet.
type Packet struct {
	PTSMicros uint64
	IsConfig bool
	IsKey bool
	Payload []byte
}

type parserState int

const (
	stateNeedCodecID parserState = iota
	stateNeedPacket
)

// Parser is a state machine over incoming audio-stream bytes. It never
// emits a packet until all of its bytes are buffered, and malformed/short
// input simply stalls rather than erroring.
type Parser struct {
	state parserState
	buf []byte
	head int

	// OnCodecIDParsed fires exactly once, when the 4-byte prologue completes.
	OnCodecIDParsed func(id CodecID)
	// OnConfigPacket fires for the packet(s) with the config flag set,
	// carrying codec-specific initialization data (e.g. AAC's AudioSpecificConfig).
	OnConfigPacket func(payload []byte, codec CodecID)
	// OnAudioPacket fires for every packet, config or not.
	OnAudioPacket func(p Packet)

	codecID CodecID
}

// NewParser creates an audio stream parser.
func NewParser() *Parser {
	return &Parser{state: stateNeedCodecID}
}

// Append feeds newly received bytes, driving the state machine and firing
// the registered callbacks synchronously for every packet that became
// complete.
func (p *Parser) Append(b []byte) {
	p.buf = append(p.buf, b...)
	p.compact()

	for {
		switch p.state {
		case stateNeedCodecID:
			if len(p.unread()) < 4 {
				return
			}
			p.codecID = CodecID(binary.BigEndian.Uint32(p.unread()[:4]))
			p.head += 4
			p.state = stateNeedPacket
			if p.OnCodecIDParsed != nil {
				p.OnCodecIDParsed(p.codecID)
			}
		case stateNeedPacket:
			rest := p.unread()
			if len(rest) < 12 {
				return
			}
			ptsAndFlags := binary.BigEndian.Uint64(rest[0:8])
			size := binary.BigEndian.Uint32(rest[8:12])
			total := 12 + int(size)
			if len(rest) < total {
				return
			}
			payload := append([]byte(nil), rest[12:total]...)
			p.head += total

			pkt := Packet{
				PTSMicros: ptsAndFlags & ptsMask,
				IsConfig: ptsAndFlags&configFlagBit != 0,
				IsKey: ptsAndFlags&keyFlagBit != 0,
				Payload: payload,
			}
			if pkt.IsConfig && p.OnConfigPacket != nil {
				p.OnConfigPacket(payload, p.codecID)
			}
			if p.OnAudioPacket != nil {
				p.OnAudioPacket(pkt)
			}
		}
	}
}

func (p *Parser) unread() []byte { return p.buf[p.head:] }

func (p *Parser) compact() {
	const compactThreshold = 64 * 1024
	if p.head < compactThreshold {
		return
	}
	p.buf = append(p.buf[:0], p.buf[p.head:]...)
	p.head = 0
}

// Reset clears buffered bytes and the codec-id state.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.head = 0
	p.state = stateNeedCodecID
	p.codecID = 0
}
