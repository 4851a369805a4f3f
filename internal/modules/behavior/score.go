package behavior

var labelScores = map[string]int{
	"normal":    15,
	"panic":     90,
	"fomo":      85,
	"overtrade": 75,
	"revenge":   80,
}

// ScoreFor maps a label to its 0-100 risk score.
func ScoreFor(label string) (int, bool) {
	s, ok := labelScores[label]
	return s, ok
}

// BucketFor names the risk band containing score.
func BucketFor(score int) string {
	switch {
	case score <= 30:
		return "Stable (0-30)"
	case score <= 60:
		return "Medium Risk (31-60)"
	default:
		return "High Risk (61-100)"
	}
}
