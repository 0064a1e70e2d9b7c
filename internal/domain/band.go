package domain

// Band is the presentation bucket a score falls into.
type Band struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

var (
	BandExcellent = Band{Name: "excellent", Color: "green"}
	BandGood      = Band{Name: "good", Color: "blue"}
	BandFair      = Band{Name: "fair", Color: "amber"}
	BandNeedsWork = Band{Name: "needs_work", Color: "red"}
)

// BandFor classifies a 0-100 score.
func BandFor(score float64) Band {
	switch {
	case score >= 90:
		return BandExcellent
	case score >= 75:
		return BandGood
	case score >= 60:
		return BandFair
	default:
		return BandNeedsWork
	}
}
