package h264

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	startCode      = []byte{0x00, 0x00, 0x00, 0x01}
	shortStartCode = []byte{0x00, 0x00, 0x01}
)

var ErrShortDecoderConfig = errors.New("truncated avc decoder configuration record")

// IsAnnexB reports whether b already begins with a start code. A 4-byte
// length prefix of 1 or 256-511 looks the same, see isLengthPrefixed.
func IsAnnexB(b []byte) bool {
	return bytes.HasPrefix(b, startCode) || bytes.HasPrefix(b, shortStartCode)
}

// isLengthPrefixed reports whether b splits exactly into non-empty NAL units
// with 4-byte big-endian lengths.
func isLengthPrefixed(b []byte) bool {
	offset := 0
	for offset < len(b) {
		if offset+4 > len(b) {
			return false
		}
		n := int(binary.BigEndian.Uint32(b[offset:]))
		offset += 4
		if n <= 0 || n > len(b)-offset {
			return false
		}
		offset += n
	}
	return len(b) > 0
}

// DecoderConfig holds the parameter sets carried by an avcC record.
type DecoderConfig struct {
	SPS [][]byte
	PPS [][]byte
}

// ParseDecoderConfig extracts SPS and PPS from an avcC record. On a truncated
// record it returns the parameter sets read so far with ErrShortDecoderConfig.
func ParseDecoderConfig(desc []byte) (DecoderConfig, error) {
	var cfg DecoderConfig
	if len(desc) < 6 {
		return cfg, ErrShortDecoderConfig
	}

	offset := 5
	numSPS := int(desc[offset] & 0x1f)
	offset++
	for i := 0; i < numSPS; i++ {
		ps, next, ok := readParameterSet(desc, offset)
		if !ok {
			return cfg, ErrShortDecoderConfig
		}
		cfg.SPS = append(cfg.SPS, ps)
		offset = next
	}

	if offset >= len(desc) {
		return cfg, ErrShortDecoderConfig
	}
	numPPS := int(desc[offset])
	offset++
	for i := 0; i < numPPS; i++ {
		ps, next, ok := readParameterSet(desc, offset)
		if !ok {
			return cfg, ErrShortDecoderConfig
		}
		cfg.PPS = append(cfg.PPS, ps)
		offset = next
	}

	return cfg, nil
}

func readParameterSet(desc []byte, offset int) ([]byte, int, bool) {
	if offset+2 > len(desc) {
		return nil, offset, false
	}
	n := int(binary.BigEndian.Uint16(desc[offset:]))
	offset += 2
	if offset+n > len(desc) {
		return nil, offset, false
	}
	return desc[offset : offset+n], offset + n, true
}

// ToAnnexB rewrites a length prefixed access unit as a start code delimited
// one. Chunks that start with a start code and do not parse as length
// prefixed NAL units are returned untouched. On keyframes the parameter sets
// from desc are written ahead of the frame's own NAL units.
func ToAnnexB(chunk []byte, keyframe bool, desc []byte) []byte {
	if IsAnnexB(chunk) && !isLengthPrefixed(chunk) {
		return chunk
	}

	out := make([]byte, 0, len(chunk)+len(desc)+32)

	if keyframe && len(desc) > 0 {
		// Whatever parsed before a truncation is still usable.
		cfg, _ := ParseDecoderConfig(desc)
		for _, ps := range cfg.SPS {
			out = append(out, startCode...)
			out = append(out, ps...)
		}
		for _, ps := range cfg.PPS {
			out = append(out, startCode...)
			out = append(out, ps...)
		}
	}

	offset := 0
	for offset+4 <= len(chunk) {
		n := int(binary.BigEndian.Uint32(chunk[offset:]))
		offset += 4
		if n <= 0 || offset+n > len(chunk) {
			break
		}
		out = append(out, startCode...)
		out = append(out, chunk[offset:offset+n]...)
		offset += n
	}

	return out
}

// SplitAnnexB returns the NAL units of an Annex-B buffer without their start
// codes.
func SplitAnnexB(b []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i+3 <= len(b) {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && b[end-1] == 0 {
					end--
				}
				nalus = append(nalus, b[start:end])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 {
		nalus = append(nalus, b[start:])
	}
	return nalus
}
