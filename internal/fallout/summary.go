package fallout

import (
	"sort"
	"strings"
	"time"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

// Label maps an overall score onto its qualitative band.
func Label(score int) string {
	switch {
	case score <= 20:
		return "Low"
	case score <= 40:
		return "Moderate"
	case score <= 60:
		return "Elevated"
	case score <= 80:
		return "High"
	default:
		return "Exceptional"
	}
}

// ConfidenceFor rates a forecast by how far ahead of now it looks.
func ConfidenceFor(hoursAhead float64) models.Confidence {
	switch {
	case hoursAhead <= 24:
		return models.ConfidenceHigh
	case hoursAhead <= 72:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func confidenceAt(at, now time.Time) models.Confidence {
	return ConfidenceFor(at.Sub(now).Hours())
}

const keyFactorMinScore = 5

// keyFactors are the factors eligible for the summary, in tie-break order.
var keyFactors = []struct {
	factor models.Factor
	name   string
}{
	{models.FactorFront, "front passage"},
	{models.FactorWind, "wind"},
	{models.FactorPrecipitation, "precipitation"},
}

func summarize(score int, factors map[models.Factor]models.ScoreComponent, boostReason string) string {
	label := Label(score)

	var parts []string
	switch {
	case score >= 60:
		parts = append(parts, label+" fallout potential")
	case score >= 40:
		parts = append(parts, label+" birding conditions")
	default:
		parts = append(parts, "Normal conditions")
	}

	ranked := make([]int, len(keyFactors))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return factors[keyFactors[ranked[a]].factor].Score > factors[keyFactors[ranked[b]].factor].Score
	})

	var top []string
	for _, i := range ranked {
		if factors[keyFactors[i].factor].Score < keyFactorMinScore {
			continue
		}
		top = append(top, keyFactors[i].name)
		if len(top) == 2 {
			break
		}
	}
	if len(top) > 0 {
		parts = append(parts, "Key factors: "+strings.Join(top, ", "))
	}

	if boostReason != "" {
		head, _, _ := strings.Cut(boostReason, "(")
		parts = append(parts, strings.TrimSpace(head))
	}

	return strings.Join(parts, ". ") + "."
}
