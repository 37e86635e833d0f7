package handshake

import (
	"bytes"
	"testing"
)

func TestVerificationCode(t *testing.T) {
	sequential := make([]byte, 32)
	for i := range sequential {
		sequential[i] = byte(i)
	}

	tests := []struct {
		name   string
		secret []byte
		want   string
	}{
		{
			name:   "all 0xff",
			secret: bytes.Repeat([]byte{0xff}, 32),
			want:   "1502",
		},
		{
			name:   "zero bytes count as one",
			secret: sequential,
			want:   "8654",
		},
		{
			name:   "thirteen digit product",
			secret: bytes.Repeat([]byte{32}, 8),
			want:   "1627",
		},
		{
			name:   "short product is zero padded",
			secret: []byte{2, 3},
			want:   "0006",
		},
		{
			name:   "all zero",
			secret: make([]byte, 32),
			want:   "0001",
		},
		{
			name:   "empty",
			secret: nil,
			want:   "0001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerificationCode(tt.secret)
			if got != tt.want {
				t.Errorf("VerificationCode() = %q, want %q", got, tt.want)
			}
			if len(got) != 4 {
				t.Errorf("len(VerificationCode()) = %d, want 4", len(got))
			}
		})
	}
}
