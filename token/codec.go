package token

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA256 over a shared secret of at least 32 bytes.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key; verifiers only need the public key.
	MethodEd25519 SigningMethod = "ed25519"
)

const minHMACKeySize = 32

// Config carries the key material for a [Codec]. PrivateKey and PublicKey
// accept raw keys or PEM. For HS256 only PrivateKey is used.
//
// When KeyID is set it is stamped into every header and VerifyKeys maps
// retired key ids to keys still accepted for verification.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Codec turns [Claims] into signed strings and back. It is immutable after
// construction and safe for concurrent use.
type Codec struct {
	method     jwt.SigningMethod
	signKey    any
	keyID      string
	verifyKey  any
	verifyKeys map[string]any
	parser     *jwt.Parser
}

// NewCodec validates cfg and parses its keys.
func NewCodec(cfg Config) (*Codec, error) {
	c := &Codec{
		keyID:      strings.TrimSpace(cfg.KeyID),
		verifyKeys: make(map[string]any, len(cfg.VerifyKeys)),
		parser:     jwt.NewParser(),
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeySize {
			return nil, fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACKeySize)
		}
		c.method = jwt.SigningMethodHS256
		key := append([]byte(nil), cfg.PrivateKey...)
		c.signKey = key
		c.verifyKey = key
		for kid, raw := range cfg.VerifyKeys {
			if len(raw) < minHMACKeySize {
				return nil, fmt.Errorf("hs256 verify key for kid %q is too short", kid)
			}
			c.verifyKeys[kid] = append([]byte(nil), raw...)
		}
	case MethodEd25519:
		c.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			c.signKey = priv
			c.verifyKey = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			c.verifyKey = pub
		}
		for kid, raw := range cfg.VerifyKeys {
			pub, err := parseEdPublicKey(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
			c.verifyKeys[kid] = pub
		}
		if c.verifyKey == nil && len(c.verifyKeys) == 0 {
			return nil, errors.New("ed25519 requires a private key, public key or verify key set")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	for kid := range c.verifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
	}
	if c.keyID != "" && c.verifyKey != nil {
		if _, ok := c.verifyKeys[c.keyID]; !ok {
			c.verifyKeys[c.keyID] = c.verifyKey
		}
	}

	return c, nil
}

// CanSign reports whether the codec holds a signing key.
func (c *Codec) CanSign() bool {
	return c.signKey != nil
}

// Encode signs claims.
func (c *Codec) Encode(claims Claims) (string, error) {
	if c.signKey == nil {
		return "", errors.New("codec has no signing key")
	}
	if claims.Subject == "" || claims.Role == "" || !claims.Kind.valid() {
		return "", ErrInvalidClaims
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		return "", ErrInvalidClaims
	}
	if claims.Kind == KindRefresh && claims.TokenID == "" {
		return "", ErrInvalidClaims
	}
	if claims.Kind == KindAccess {
		claims.TokenID = ""
	}

	tok := jwt.NewWithClaims(c.method, toWire(claims))
	if c.keyID != "" {
		tok.Header["kid"] = c.keyID
	}
	return tok.SignedString(c.signKey)
}

type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Decode verifies the signature of s and returns its claims. It does not
// check expiry or kind; see [Verifier].
func (c *Codec) Decode(s string) (Claims, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	rawHeader, err := c.parser.DecodeSegment(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: header encoding", ErrMalformed)
	}
	var h header
	if err := json.Unmarshal(rawHeader, &h); err != nil {
		return Claims{}, fmt.Errorf("%w: header json", ErrMalformed)
	}

	if h.Alg != c.method.Alg() {
		return Claims{}, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidSignature, h.Alg)
	}
	key, err := c.lookupKey(h.Kid)
	if err != nil {
		return Claims{}, err
	}

	sig, err := c.parser.DecodeSegment(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: signature encoding", ErrMalformed)
	}
	if err := c.method.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return Claims{}, ErrInvalidSignature
	}

	rawPayload, err := c.parser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: payload encoding", ErrMalformed)
	}
	var w wireClaims
	if err := json.Unmarshal(rawPayload, &w); err != nil {
		return Claims{}, fmt.Errorf("%w: payload json", ErrMalformed)
	}
	return fromWire(w)
}

func (c *Codec) lookupKey(kid string) (any, error) {
	if kid != "" {
		if key, ok := c.verifyKeys[kid]; ok {
			return key, nil
		}
		return nil, fmt.Errorf("%w: unknown kid", ErrInvalidSignature)
	}
	if c.keyID != "" || c.verifyKey == nil {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidSignature)
	}
	return c.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(append([]byte(nil), key...)), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(append([]byte(nil), key...)), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
