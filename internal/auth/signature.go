// Package auth implements the crypto primitives of the Pusher request
// contract: HMAC-SHA256 request signatures, MD5 body hashes, channel
// subscription auth strings and socket-id generation.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrSignatureMalformed is returned when the supplied signature is not
	// valid lowercase hex.
	ErrSignatureMalformed = errors.New("auth signature is not valid hex")

	// ErrSignatureMismatch is returned when the supplied signature decodes
	// but does not match the computed MAC.
	ErrSignatureMismatch = errors.New("auth signature does not match")
)

// CreateSignature computes the lowercase-hex HMAC-SHA256 of body keyed by
// secret. Both inputs are treated as raw UTF-8 bytes.
func CreateSignature(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckSignature verifies a hex-encoded signature against the MAC of body
// keyed by secret. The comparison is constant time.
func CheckSignature(signature, secret, body string) error {
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureMalformed
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// CreateBodyMD5 returns the lowercase-hex MD5 of a raw request body.
func CreateBodyMD5(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// CreateChannelAuth builds the "key:signature" auth string a client must
// present when subscribing to a private or presence channel. toSign is
// "socket_id:channel_name" optionally followed by ":channel_data".
func CreateChannelAuth(key, secret, toSign string) string {
	return key + ":" + CreateSignature(secret, toSign)
}
