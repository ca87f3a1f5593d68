package advisory

import (
	"strings"

	"codeberg.org/mutker/agrimon/internal/telemetry"
)

// Heuristic thresholds; soil values are raw analog readings
const (
	heatStressTemp     = 32.0
	lowHumidity        = 35.0
	drySoil            = 400.0
	wetSoil            = 700.0
	heuristicHeading   = "Heuristic recommendation (Ollama unavailable):"
	maintainIrrigation = "Maintain regular irrigation schedule."
)

// Heuristic builds the threshold-based recommendation. cause, when non-nil,
// is reported as a note.
func Heuristic(agg telemetry.Aggregate, cause error) string {
	var stress, irrigation []string

	if t := agg.AvgTemperature; t != nil && *t > heatStressTemp {
		stress = append(stress, "High temperature may cause heat stress.")
	}
	if h := agg.AvgHumidity; h != nil && *h < lowHumidity {
		stress = append(stress, "Low humidity could increase transpiration and stress.")
	}

	switch s := agg.AvgSoilMoisture; {
	case s != nil && *s < drySoil:
		irrigation = append(irrigation, "Soil moisture low: consider watering soon.")
	case s != nil && *s > wetSoil:
		irrigation = append(irrigation, "Soil moisture high: delay irrigation to prevent root issues.")
	default:
		irrigation = append(irrigation, maintainIrrigation)
	}

	preventive := []string{
		"Mulch to reduce evaporation.",
		"Irrigate early morning or late evening.",
	}

	lines := []string{heuristicHeading}
	if cause != nil {
		lines = append(lines, "- Note: "+cause.Error())
	}
	lines = appendSection(lines, "Crop stress", stress)
	lines = appendSection(lines, "Irrigation", irrigation)
	lines = appendSection(lines, "Preventive measures", preventive)

	return strings.Join(lines, "\n")
}

func appendSection(lines []string, title string, items []string) []string {
	if len(items) == 0 {
		return lines
	}

	lines = append(lines, "- "+title+":")
	for _, item := range items {
		lines = append(lines, "  - "+item)
	}
	return lines
}
