package risk

import "time"

// IsMarketOpen reports whether the instrument's market accepts orders at t.
// Crypto trades around the clock; forex and metals observe the weekend break
// from Friday 22:00 UTC until Sunday 22:00 UTC.
func IsMarketOpen(symbol string, t time.Time) bool {
	if ClassOf(symbol) == AssetClassCrypto {
		return true
	}
	t = t.UTC()
	switch t.Weekday() {
	case time.Friday:
		return t.Hour() < 22
	case time.Saturday:
		return false
	case time.Sunday:
		return t.Hour() >= 22
	default:
		return true
	}
}
