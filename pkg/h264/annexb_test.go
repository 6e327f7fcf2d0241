package h264

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/pion/webrtc/v3/pkg/media/h264reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1f, 0xe9, 0x02, 0x80, 0x2d, 0xd8}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

// avcC record with one SPS and one PPS
func testDescription(sps, pps []byte) []byte {
	desc := []byte{0x01, sps[1], sps[2], sps[3], 0xff, 0xe1}
	desc = binary.BigEndian.AppendUint16(desc, uint16(len(sps)))
	desc = append(desc, sps...)
	desc = append(desc, 0x01)
	desc = binary.BigEndian.AppendUint16(desc, uint16(len(pps)))
	desc = append(desc, pps...)
	return desc
}

// Payload bytes are never zero so start code emulation can't happen.
func randomNALUs(r *rand.Rand, n int, header byte) [][]byte {
	nalus := make([][]byte, n)
	for i := range nalus {
		size := 1 + r.Intn(4096)
		nalu := make([]byte, size)
		nalu[0] = header
		for j := 1; j < size; j++ {
			nalu[j] = byte(1 + r.Intn(255))
		}
		nalus[i] = nalu
	}
	return nalus
}

func lengthPrefixed(nalus [][]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}

func TestParseDecoderConfig(t *testing.T) {
	assert := assert.New(t)

	cfg, err := ParseDecoderConfig(testDescription(testSPS, testPPS))
	require.NoError(t, err)
	assert.Equal([][]byte{testSPS}, cfg.SPS)
	assert.Equal([][]byte{testPPS}, cfg.PPS)

	// SPS count only uses the low five bits
	desc := testDescription(testSPS, testPPS)
	desc[5] = 0xe0
	cfg, err = ParseDecoderConfig(desc)
	assert.NoError(err)
	assert.Empty(cfg.SPS)
	// the PPS count is then read from the first SPS length byte, which is zero
	assert.Empty(cfg.PPS)

	full := testDescription(testSPS, testPPS)
	cfg, err = ParseDecoderConfig(full[:len(full)-2])
	assert.ErrorIs(err, ErrShortDecoderConfig)
	assert.Equal([][]byte{testSPS}, cfg.SPS)
	assert.Empty(cfg.PPS)

	_, err = ParseDecoderConfig([]byte{0x01, 0x42})
	assert.ErrorIs(err, ErrShortDecoderConfig)
}

func TestToAnnexBRoundTrip(t *testing.T) {
	assert := assert.New(t)
	r := rand.New(rand.NewSource(42))
	desc := testDescription(testSPS, testPPS)

	for round := 0; round < 25; round++ {
		n := 1 + r.Intn(8)
		nalus := randomNALUs(r, n, 0x41)
		chunk := lengthPrefixed(nalus)

		key := ToAnnexB(chunk, true, desc)
		assert.True(bytes.HasPrefix(key, startCode))
		split := SplitAnnexB(key)
		require.Len(t, split, n+2)
		assert.Equal(testSPS, split[0])
		assert.Equal(testPPS, split[1])
		for i, nalu := range nalus {
			assert.Equal(nalu, split[i+2])
		}

		delta := ToAnnexB(chunk, false, desc)
		split = SplitAnnexB(delta)
		require.Len(t, split, n)
		for i, nalu := range nalus {
			assert.Equal(nalu, split[i])
		}
	}
}

func TestToAnnexBPassThrough(t *testing.T) {
	assert := assert.New(t)

	long := append([]byte{0x00, 0x00, 0x00, 0x01, 0x65}, bytes.Repeat([]byte{0xaa}, 32)...)
	short := append([]byte{0x00, 0x00, 0x01, 0x41}, bytes.Repeat([]byte{0xbb}, 32)...)

	assert.Equal(long, ToAnnexB(long, true, testDescription(testSPS, testPPS)))
	assert.Equal(short, ToAnnexB(short, false, nil))
	assert.True(IsAnnexB(long))
	assert.True(IsAnnexB(short))
	assert.False(IsAnnexB([]byte{0x00, 0x00, 0x00, 0x10}))
}

func TestToAnnexBLengthsThatLookLikeStartCodes(t *testing.T) {
	assert := assert.New(t)
	desc := testDescription(testSPS, testPPS)

	// a 1 byte first NAL is prefixed 00 00 00 01, 256-511 bytes give 00 00 01 xx
	for _, size := range []int{1, 256, 300, 511, 512} {
		first := append([]byte{0x41}, bytes.Repeat([]byte{0x9a}, size-1)...)
		nalus := [][]byte{first, {0x41, 0x02, 0x03}, {0x41, 0x04}}
		chunk := lengthPrefixed(nalus)

		split := SplitAnnexB(ToAnnexB(chunk, false, nil))
		require.Len(t, split, 3, "first NAL of %d bytes", size)
		for i, nalu := range nalus {
			assert.Equal(nalu, split[i], "first NAL of %d bytes", size)
		}

		split = SplitAnnexB(ToAnnexB(chunk, true, desc))
		require.Len(t, split, 5, "keyframe with first NAL of %d bytes", size)
		assert.Equal(testSPS, split[0])
		assert.Equal(first, split[2])
	}

	assert.True(isLengthPrefixed(lengthPrefixed([][]byte{{0x65}})))
	assert.False(isLengthPrefixed([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x01}))
	assert.False(isLengthPrefixed(nil))
}

func TestToAnnexBStopsAtBadLength(t *testing.T) {
	assert := assert.New(t)

	good := []byte{0x41, 0x9a, 0x10}
	chunk := lengthPrefixed([][]byte{good})
	// claims 200 bytes but only 2 follow
	chunk = append(chunk, 0x00, 0x00, 0x00, 0xc8, 0x41, 0x01)

	out := ToAnnexB(chunk, false, nil)
	assert.Equal(append(append([]byte{}, startCode...), good...), out)

	// keyframe without description only carries its own NALs
	out = ToAnnexB(lengthPrefixed([][]byte{{0x65, 0x88}}), true, nil)
	assert.Equal([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88}, out)
}

func TestToAnnexBDecodable(t *testing.T) {
	assert := assert.New(t)
	r := rand.New(rand.NewSource(7))

	idr := randomNALUs(r, 2, 0x65)
	out := ToAnnexB(lengthPrefixed(idr), true, testDescription(testSPS, testPPS))

	reader, err := h264reader.NewReader(bytes.NewReader(out))
	require.NoError(t, err)

	var types []h264reader.NalUnitType
	for {
		nal, err := reader.NextNAL()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, nal.UnitType)
	}

	assert.Equal([]h264reader.NalUnitType{
		h264reader.NalUnitTypeSPS,
		h264reader.NalUnitTypePPS,
		h264reader.NalUnitTypeCodedSliceIdr,
		h264reader.NalUnitTypeCodedSliceIdr,
	}, types)
	assert.True(IsKeyframe(out))
	assert.True(HasParameterSets(out))
}

func TestIsKeyframe(t *testing.T) {
	assert := assert.New(t)

	assert.False(IsKeyframe(ToAnnexB(lengthPrefixed([][]byte{{0x41, 0x9a}}), false, nil)))
	assert.True(IsKeyframe([]byte{0x00, 0x00, 0x01, 0x65, 0x88}))
	assert.False(HasParameterSets([]byte{0x00, 0x00, 0x01, 0x67, 0x42}))
}
