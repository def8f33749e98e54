package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const refPrefix = "PAY"

// GenerateRef builds PAY_<METHOD>_<USERID>_<YYYYMMDDhhmmss>_<10 hex>.
// The tail carries 40 random bits so two calls in the same second for the
// same user and method still differ.
func GenerateRef(userID int64, method string, now time.Time) string {
	tail := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%s_%s_%d_%s_%s",
		refPrefix, refMethod(method), userID, now.UTC().Format("20060102150405"), tail)
}

func refMethod(method string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(method) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// RefInfo is what ParseRef recovers from a reference.
type RefInfo struct {
	Method string
	UserID int64
	At     time.Time
}

// ParseRef splits a reference built by GenerateRef. The method segment may
// itself contain underscores, so fields are taken from the right.
func ParseRef(ref string) (RefInfo, error) {
	parts := strings.Split(ref, "_")
	if len(parts) < 5 || parts[0] != refPrefix {
		return RefInfo{}, fmt.Errorf("malformed payment reference %q", ref)
	}
	n := len(parts)
	if len(parts[n-1]) != 10 {
		return RefInfo{}, fmt.Errorf("malformed payment reference %q", ref)
	}
	at, err := time.Parse("20060102150405", parts[n-2])
	if err != nil {
		return RefInfo{}, fmt.Errorf("malformed payment reference %q: %w", ref, err)
	}
	uid, err := strconv.ParseInt(parts[n-3], 10, 64)
	if err != nil {
		return RefInfo{}, fmt.Errorf("malformed payment reference %q: %w", ref, err)
	}
	return RefInfo{
		Method: strings.Join(parts[1:n-3], "_"),
		UserID: uid,
		At:     at,
	}, nil
}

// utcNow keeps stored timestamps in one zone so SQLite's text comparison
// of times stays ordered.
func utcNow() time.Time { return time.Now().UTC() }
