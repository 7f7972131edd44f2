package rewards

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	devices "watt-rewards/internal/devices/domain"
)

// Entry is one append-only reward ledger record: a quantity of reward
// tokens attributable to a specific activity basis. Entries are never
// deleted; they are the audit trail behind every grant.
type Entry struct {
	ID               string
	ClaimID          string
	UserID           string
	Provider         string
	DeviceID         string
	Category         devices.Category
	TokensAmount     int64
	ActivityBasis    float64
	BasisFingerprint string
	Claimed          bool
	ClaimedAt        time.Time
	CreatedAt        time.Time
}

// BasisFingerprint derives the dedupe key for a reward entry. Two commit
// attempts for the same device/category advancing from the same baseline
// by the same basis produce the same fingerprint, so a retried commit
// inserts nothing new.
func BasisFingerprint(provider, deviceID string, category devices.Category, basis, baselineBefore float64) string {
	raw := provider + "|" + deviceID + "|" + string(category) + "|" +
		strconv.FormatFloat(basis, 'f', -1, 64) + "|" +
		strconv.FormatFloat(baselineBefore, 'f', -1, 64)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
