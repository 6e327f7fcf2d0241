package h264

import (
	"github.com/Eyevinn/mp4ff/avc"
)

// IsKeyframe reports whether an Annex-B access unit carries an IDR slice.
func IsKeyframe(annexB []byte) bool {
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) == 0 {
			continue
		}
		if avc.GetNaluType(nalu[0]) == avc.NALU_IDR {
			return true
		}
	}
	return false
}

// HasParameterSets reports whether both an SPS and a PPS are present, which is
// what a decoder joining mid stream needs before the IDR.
func HasParameterSets(annexB []byte) bool {
	var sps, pps bool
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) == 0 {
			continue
		}
		// SPS often precedes an IDR and PPS follows it
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			sps = true
		case avc.NALU_PPS:
			pps = true
		}
	}
	return sps && pps
}

// CodecString returns the avc1 codecs parameter signalled by the first SPS in
// an Annex-B access unit.
func CodecString(annexB []byte) (string, bool) {
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) < 4 || avc.GetNaluType(nalu[0]) != avc.NALU_SPS {
			continue
		}
		sps := &avc.SPS{
			Profile:              uint32(nalu[1]),
			ProfileCompatibility: uint32(nalu[2]),
			Level:                uint32(nalu[3]),
		}
		return avc.CodecString("avc1", sps), true
	}
	return "", false
}
