package rewards

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// TierFor derives a loyalty tier from a balance. It is never stored.
func TierFor(balance int64) Tier {
	switch {
	case balance >= 5000:
		return TierPlatinum
	case balance >= 1500:
		return TierGold
	case balance >= 500:
		return TierSilver
	}
	return TierBronze
}
