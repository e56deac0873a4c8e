package protocol

import "testing"

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"check string", []byte("123456789"), 0x6F91},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16 = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	data := []byte{0x08, MessageDest, 0x01, 0x02, 0x03}
	base := CRC16(data)

	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			if CRC16(flipped) == base {
				t.Errorf("flip of byte %d bit %d not detected", i, bit)
			}
		}
	}
}
