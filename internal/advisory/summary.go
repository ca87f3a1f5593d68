package advisory

import (
	"math"
	"time"

	"codeberg.org/mutker/agrimon/internal/telemetry"
)

const displayTime = "2006-01-02 15:04"

// Summary is the display form of an aggregate: averages rounded to one
// decimal and soil moisture as a percentage.
type Summary struct {
	AvgTemperature *float64   `json:"avg_temperature_c"`
	AvgHumidity    *float64   `json:"avg_humidity"`
	AvgSoilPercent *float64   `json:"avg_soil_pct"`
	Count          int        `json:"count"`
	Since          time.Time  `json:"since"`
	Last           *time.Time `json:"last"`
	SinceFmt       string     `json:"since_fmt"`
	LastFmt        string     `json:"last_fmt,omitempty"`
}

func Summarize(agg telemetry.Aggregate) Summary {
	s := Summary{
		AvgTemperature: round1(agg.AvgTemperature),
		AvgHumidity:    round1(agg.AvgHumidity),
		Count:          agg.Count,
		Since:          agg.Since,
		Last:           agg.LastReading,
		SinceFmt:       agg.Since.UTC().Format(displayTime),
	}

	if agg.AvgSoilMoisture != nil {
		pct := telemetry.SoilPercent(*agg.AvgSoilMoisture)
		s.AvgSoilPercent = round1(&pct)
	}
	if agg.LastReading != nil {
		s.LastFmt = agg.LastReading.UTC().Format(displayTime)
	}

	return s
}

func round1(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*10) / 10
	return &r
}
