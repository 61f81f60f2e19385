package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature  = errors.New("callback signature mismatch")
	ErrStaleCallback = errors.New("callback timestamp outside allowed window")
)

// SignCallback computes the platform's callback HMAC: every parameter except
// hmac and signature, sorted by key, joined as k=v with '&', HMAC-SHA256 hex.
func SignCallback(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(params[k], ","))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks the hmac parameter and, when present, that timestamp
// lies within maxSkew of now.
func VerifyCallback(params url.Values, secret string, now time.Time, maxSkew time.Duration) error {
	got := params.Get("hmac")
	if got == "" {
		return ErrBadSignature
	}
	want := SignCallback(params, secret)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrBadSignature
	}
	if ts := params.Get("timestamp"); ts != "" && maxSkew > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrStaleCallback
		}
		skew := now.Sub(time.Unix(sec, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return ErrStaleCallback
		}
	}
	return nil
}
