package telemetry

// Raw analog soil readings are mapped onto a percentage over this span.
const (
	SoilRawDry = 300.0
	SoilRawWet = 700.0
)

// SoilPercent converts a raw soil moisture reading to 0..100 percent,
// clamping readings outside the calibrated span.
func SoilPercent(raw float64) float64 {
	pct := (raw - SoilRawDry) / (SoilRawWet - SoilRawDry) * 100.0
	return min(max(pct, 0), 100)
}
