package lookup

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer produces the request signatures expected by the school systems:
// hex(HMAC-SHA256(secret, body + timestamp)), the timestamp being unix milliseconds.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

func (s Signer) Sign(body []byte, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of body and ts.
func (s Signer) Verify(body []byte, ts, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	mac.Write([]byte(ts))
	return hmac.Equal(mac.Sum(nil), want)
}

func timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixNano()/int64(time.Millisecond), 10)
}
