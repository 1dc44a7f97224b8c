package tokens

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrEmptyToken is returned when decoding an empty string.
	ErrEmptyToken = errors.New("tokens: empty token")

	// ErrMalformedJWT is returned when a token is not three dot-separated segments
	// or its payload cannot be decoded.
	ErrMalformedJWT = errors.New("tokens: malformed JWT")
)

// Claims is the decoded payload of a JWT. Values are not validated.
type Claims map[string]any

// ParseJWT decodes the payload of a compact JWT without verifying its signature.
func ParseJWT(token string) (Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedJWT, len(parts))
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedJWT, err)
	}
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not UTF-8", ErrMalformedJWT)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var claims Claims
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedJWT, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedJWT)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrMalformedJWT)
	}
	return claims, nil
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}

// Expiry returns the exp claim as a time.
func (c Claims) Expiry() (time.Time, bool) {
	return c.Time("exp")
}

// Time returns a NumericDate claim. Fractional seconds are kept.
func (c Claims) Time(name string) (time.Time, bool) {
	var f float64
	switch v := c[name].(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		f = n
	case float64:
		f = v
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	default:
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// String returns a string claim, or "".
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	return c.String("sub")
}

// DisplayName picks the most readable identity claim present.
func (c Claims) DisplayName() string {
	for _, k := range []string{"preferred_username", "email", "name", "sub"} {
		if s := c.String(k); s != "" {
			return s
		}
	}
	return ""
}
