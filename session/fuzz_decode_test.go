package session

import (
	"bytes"
	"testing"
)

// FuzzSessionDecode exercises the binary session decoder with arbitrary inputs.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(&Session{
		UserID:      "5b0f2c1e-7a0e-4c4b-9d8e-3f1f2a6b9c01",
		RefreshHash: [32]byte{1, 2, 3},
		CreatedAt:   1700000000,
		ExpiresAt:   1700003600,
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
		f.Add(encoded[:headerSize])
	}
	f.Add([]byte{})
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode decoded session: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("round trip changed blob")
		}
	})
}
