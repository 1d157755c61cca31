package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzCodecDecode exercises the decoder with arbitrary token strings.
// Goal: no panics; anything accepted must carry the required claims.
func FuzzCodecDecode(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	codec, err := NewCodec(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		KeyID:         "k1",
	})
	if err != nil {
		f.Fatal(err)
	}

	iat := time.Unix(1_700_000_000, 0)
	valid, err := codec.Encode(Claims{
		Subject:   "u1",
		Role:      "admin",
		IssuedAt:  iat,
		ExpiresAt: iat.Add(time.Minute),
		Kind:      KindRefresh,
		TokenID:   "jti",
	})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := codec.Decode(input)
		if err != nil {
			return
		}
		if claims.Subject == "" || claims.Role == "" || !claims.Kind.valid() {
			t.Fatalf("decode accepted incomplete claims: %+v", claims)
		}
	})
}
