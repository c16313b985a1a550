package guard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// confirmBucketSeconds is the granularity of confirmation-token
// validity. A token is accepted for the bucket it was minted in and the
// one before, so effective validity is 10-20 minutes.
const confirmBucketSeconds = 600

// ConfirmationToken derives the one-time token that must accompany a
// dangerous settings change. Deterministic over (key, value) and a
// coarse time bucket, keyed with the gateway secret.
func ConfirmationToken(secret, key, value string, at time.Time) string {
	return confirmationTokenAtBucket(secret, key, value, at.Unix()/confirmBucketSeconds)
}

func confirmationTokenAtBucket(secret, key, value string, bucket int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s|%d", key, value, bucket)
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// ValidateConfirmation accepts a token minted in the current or the
// previous bucket.
func ValidateConfirmation(secret, key, value, token string, at time.Time) bool {
	if token == "" {
		return false
	}
	bucket := at.Unix() / confirmBucketSeconds
	for _, b := range []int64{bucket, bucket - 1} {
		want := confirmationTokenAtBucket(secret, key, value, b)
		if hmac.Equal([]byte(want), []byte(token)) {
			return true
		}
	}
	return false
}
