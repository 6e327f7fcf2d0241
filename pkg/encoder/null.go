package encoder

import (
	"encoding/binary"
	"image"
	"sync"
)

// NullBackend produces a structurally valid but undecodable AVC stream in
// length prefixed form. It lets the pipeline run on hosts without libx264.
type NullBackend struct {
	// Fail makes every Encode return this error.
	Fail error
}

func (NullBackend) Name() string {
	return "null"
}

func (NullBackend) Available() bool {
	return true
}

func (b NullBackend) Open(cfg VideoConfig) (Compressor, error) {
	return &nullCompressor{fail: b.Fail}, nil
}

var (
	nullSPS = []byte{0x67, 0x42, 0x00, 0x1f, 0xe9, 0x02, 0x80, 0x2d, 0xd8}
	nullPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

type nullCompressor struct {
	fail error
	mu   sync.Mutex
	seq  uint32
}

func (c *nullCompressor) Encode(img image.Image, keyframe bool) ([]byte, bool, error) {
	if c.fail != nil {
		return nil, false, c.fail
	}
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	header := byte(0x41)
	if keyframe {
		header = 0x65
	}
	// a slice carrying the frame size and sequence, never containing zero bytes
	b := img.Bounds()
	nalu := []byte{header, 0x88, 0x80 | byte(seq), 0x80 | byte(b.Dx()>>4), 0x80 | byte(b.Dy()>>4)}

	out := binary.BigEndian.AppendUint32(nil, uint32(len(nalu)))
	return append(out, nalu...), keyframe, nil
}

func (c *nullCompressor) Description() []byte {
	desc := []byte{0x01, nullSPS[1], nullSPS[2], nullSPS[3], 0xff, 0xe1}
	desc = binary.BigEndian.AppendUint16(desc, uint16(len(nullSPS)))
	desc = append(desc, nullSPS...)
	desc = append(desc, 0x01)
	desc = binary.BigEndian.AppendUint16(desc, uint16(len(nullPPS)))
	return append(desc, nullPPS...)
}

func (c *nullCompressor) Close() error {
	return nil
}
