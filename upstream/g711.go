package upstream

import "encoding/binary"

var muLawToPcmTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPcmTable[i] = decodeMuLawByte(byte(i))
	}
}

// decodeMuLawByte follows the Sun Microsystems G.711 reference implementation.
func decodeMuLawByte(uVal byte) int16 {
	// mu-law bytes are stored inverted
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// 0x84 is the bias of 33 shifted into mantissa alignment
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// MuLawToPCM16k converts 8kHz mu-law audio to 16kHz PCM (16-bit LE) by sample doubling
func MuLawToPCM16k(muLawData []byte) []byte {
	// 2 bytes per sample * 2 samples per input byte
	pcmData := make([]byte, len(muLawData)*4)
	for i, b := range muLawData {
		sample := uint16(muLawToPcmTable[b])
		binary.LittleEndian.PutUint16(pcmData[i*4:], sample)
		binary.LittleEndian.PutUint16(pcmData[i*4+2:], sample)
	}
	return pcmData
}
