package cursor

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	keys := []Key{
		{Ord: 0, ID: 0},
		{Ord: 1, ID: 1},
		{Ord: 1700000000000000, ID: 42},
		{Ord: -5, ID: 9223372036854775807},
		{Ord: 9223372036854775807, ID: -1},
	}

	for _, k := range keys {
		token := Encode(k)
		got, err := Decode(token)
		if err != nil {
			t.Fatalf("Decode(Encode(%+v)) error: %v", k, err)
		}
		if got != k {
			t.Errorf("round trip: got %+v, want %+v", got, k)
		}
	}
}

func TestDecodeOpaque(t *testing.T) {
	// Tokens must not be raw integers callers could fabricate.
	token := Encode(Key{Ord: 1700000000000000, ID: 7})
	if token == "1700000000000000:7" {
		t.Error("token is not opaque")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"empty parts", base64.RawURLEncoding.EncodeToString([]byte(""))},
		{"not base64", "!!!not-base64!!!"},
		{"wrong version", base64.RawURLEncoding.EncodeToString([]byte("v2:1:2"))},
		{"too few fields", base64.RawURLEncoding.EncodeToString([]byte("v1:123"))},
		{"too many fields", base64.RawURLEncoding.EncodeToString([]byte("v1:1:2:3"))},
		{"non-numeric ord", base64.RawURLEncoding.EncodeToString([]byte("v1:abc:2"))},
		{"non-numeric id", base64.RawURLEncoding.EncodeToString([]byte("v1:1:xyz"))},
		{"raw integer", "12345"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.token)
			if err == nil {
				t.Fatalf("Decode(%q) should fail", tc.token)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestDecodeTampered(t *testing.T) {
	token := Encode(Key{Ord: 1700000000000000, ID: 7})

	// Flip a character in the token body.
	b := []byte(token)
	if b[3] == 'A' {
		b[3] = 'B'
	} else {
		b[3] = 'A'
	}

	got, err := Decode(string(b))
	if err == nil && got == (Key{Ord: 1700000000000000, ID: 7}) {
		t.Error("tampered token decoded to the original key")
	}
	// Either an ErrInvalid or a different key is acceptable; a panic is not,
	// which this test would surface.
}
