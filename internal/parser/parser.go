package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/telemetry"
)

const (
	ErrEmptyLine          = errors.ErrorCode("parser_empty_line")
	ErrUnrecognizedFormat = errors.ErrorCode("parser_unrecognized_format")
)

// Wire keys of the JSON format
const (
	KeyTemperature  = "temperature_c"
	KeyHumidity     = "humidity"
	KeySoilMoisture = "soil_moisture"
)

const minCSVFields = 3

// Parse converts one raw line into sensor fields. A line is either a JSON
// object keyed temperature_c, humidity and soil_moisture, or at least three
// comma-separated values in that order. Fields that do not coerce become nil.
// CreatedAt is left zero.
func Parse(raw string) (telemetry.Fields, error) {
	line := strings.TrimSpace(strings.ToValidUTF8(raw, ""))
	if line == "" {
		return telemetry.Fields{}, errors.New().New(ErrEmptyLine)
	}

	if fields, ok := parseJSON(line); ok {
		return fields, nil
	}

	if fields, ok := parseCSV(line); ok {
		return fields, nil
	}

	return telemetry.Fields{}, errors.New().WithData(ErrUnrecognizedFormat, truncate(line, 64))
}

// IsParseFailure reports whether err means the line was not insertable
func IsParseFailure(err error) bool {
	return errors.HasCode(err, ErrEmptyLine) || errors.HasCode(err, ErrUnrecognizedFormat)
}

func parseJSON(line string) (telemetry.Fields, bool) {
	if !strings.HasPrefix(line, "{") {
		return telemetry.Fields{}, false
	}

	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || dec.More() {
		return telemetry.Fields{}, false
	}

	return telemetry.Fields{
		Temperature:  coerce(obj[KeyTemperature]),
		Humidity:     coerce(obj[KeyHumidity]),
		SoilMoisture: coerce(obj[KeySoilMoisture]),
	}, true
}

func parseCSV(line string) (telemetry.Fields, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < minCSVFields {
		return telemetry.Fields{}, false
	}

	return telemetry.Fields{
		Temperature:  coerce(parts[0]),
		Humidity:     coerce(parts[1]),
		SoilMoisture: coerce(parts[2]),
	}, true
}

// coerce converts a decoded JSON value or CSV cell to an optional float.
// Missing, non-numeric and non-finite values yield nil.
func coerce(v any) *float64 {
	var f float64

	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = val
	case string:
		val = strings.TrimSpace(val)
		if isHexLiteral(val) {
			return nil
		}
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil
		}
		f = parsed
	case bool:
		if val {
			f = 1
		}
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}

	return &f
}

// isHexLiteral matches the 0x forms strconv accepts but decimal readings never use
func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
