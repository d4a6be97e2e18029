// Package audiodecoder implements the AudioDecoder variants: RAW (manual
// PCM conversion), AAC (astiav-backed, grounded on the aCtx
// SendPacket/ReceiveFrame loop and aSwr SoftwareResampleContext
// conversion in src/video.go), and OPUS (backed by the genuine
// gopkg.in/hraban/opus.v2 decoder used in rustyguts-bken/client). Every
// variant produces interleaved float32 PCM.
package audiodecoder

import "fmt"

// Decoder is the common interface every codec-specific audio decoder
// implements.
type Decoder interface {
	// Initialize configures the decoder from codec-specific config bytes
	// (AAC's AudioSpecificConfig; Opus and raw PCM ignore them and may be
	// given nil) together with the stream's channel count.
	Initialize(config []byte, channels int) error
	// Decode converts one packet's payload into interleaved float32 PCM.
	Decode(payload []byte) ([]float32, error)
	Close()
}

// ErrNotInitialized is returned by Decode before Initialize succeeds.
var ErrNotInitialized = fmt.Errorf("audiodecoder: not initialized")
