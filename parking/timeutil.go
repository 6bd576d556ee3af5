package parking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
	_ "time/tzdata"
)

// Timestamp layouts.
const (
	FormatStamp   = "2006-01-02 15:04:05"
	FormatDisplay = "02/01/2006 15:04"
	formatDate    = "02/01/2006"
)

// Bogota is America/Bogota, UTC-5 with no daylight saving.
var Bogota = loadBogota()

func loadBogota() *time.Location {
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		return time.FixedZone("COT", -5*60*60)
	}
	return loc
}

// Now returns the current time in Bogotá.
func Now() time.Time {
	return time.Now().In(Bogota)
}

// Stamp formats t as a Bogotá timestamp.
func Stamp(t time.Time) string {
	return t.In(Bogota).Format(FormatStamp)
}

// Display formats t for end users.
func Display(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.In(Bogota).Format(FormatDisplay)
}

// Relative renders how long ago t was, in Spanish.
func Relative(t, now time.Time) string {
	if t.IsZero() {
		return "Desconocido"
	}
	secs := int(now.Sub(t).Seconds())
	switch {
	case secs < 60:
		return "Hace unos segundos"
	case secs < 3600:
		return fmt.Sprintf("Hace %d min", secs/60)
	case secs < 86400:
		return fmt.Sprintf("Hace %dh", secs/3600)
	case secs < 7*86400:
		return fmt.Sprintf("Hace %dd", secs/86400)
	default:
		return t.In(Bogota).Format(formatDate)
	}
}

const day = 24 * time.Hour

// PremiumExpiry returns the expiry of a premium period starting now.
func PremiumExpiry(now time.Time, days int) time.Time {
	return now.Add(time.Duration(days) * day)
}

// ExtendPremium adds days to whichever is later: the current expiry or now.
func ExtendPremium(current *time.Time, now time.Time, days int) time.Time {
	from := now
	if current != nil && current.After(now) {
		from = *current
	}
	return PremiumExpiry(from, days)
}

// PremiumActive reports whether exp is set and still ahead of now.
func PremiumActive(exp *time.Time, now time.Time) bool {
	return exp != nil && now.Before(*exp)
}

// DaysRemaining counts whole days left until exp.
func DaysRemaining(exp *time.Time, now time.Time) int {
	if !PremiumActive(exp, now) {
		return 0
	}
	return int(exp.Sub(now) / day)
}

const referralAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReferralCodeLength is the size of generated referral codes.
const ReferralCodeLength = 6

// NewReferralCode returns a random code of uppercase letters and digits.
func NewReferralCode() (string, error) {
	max := big.NewInt(int64(len(referralAlphabet)))
	code := make([]byte, ReferralCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		code[i] = referralAlphabet[n.Int64()]
	}
	return string(code), nil
}

// fallbackReferralCode is used once random codes keep colliding.
func fallbackReferralCode(now time.Time) string {
	return fmt.Sprintf("SB%04d", now.Unix()%10000)
}
