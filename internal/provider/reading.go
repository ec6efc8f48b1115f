package provider

import (
	"encoding/json"
	"fmt"
)

// RawReading is one provider-native record, field names and units as the
// weather API reports them. Measurement pointers are nil when the provider
// omitted the field. Units holds the unit system the reading was requested
// in ("M" metric, "I" imperial).
type RawReading struct {
	Datetime     string      `json:"datetime"`      // provider record id, e.g. "2024-01-01:06"
	TimestampUTC string      `json:"timestamp_utc"` // "2006-01-02T15:04:05"
	TS           int64       `json:"ts"`            // unix seconds, fallback for timestamp_utc
	Temp         *float64    `json:"temp"`
	WindSpd      *float64    `json:"wind_spd"`
	Precip       *float64    `json:"precip"`
	Vis          *float64    `json:"vis"`
	Weather      *RawWeather `json:"weather"`
	Units        string      `json:"-"`
}

// RawWeather is the nested condition object carried along for exports; the
// canonical observation does not use it.
type RawWeather struct {
	Icon        string `json:"icon"`
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// knownReadingFields are the top-level keys the schema validation accepts.
// Anything else is reported as a warning rather than failing the decode.
var knownReadingFields = map[string]struct{}{
	"datetime":      {},
	"timestamp_utc": {},
	"ts":            {},
	"temp":          {},
	"wind_spd":      {},
	"precip":        {},
	"vis":           {},
	"weather":       {},
}

// decodeReadings parses the provider's data array with an explicit schema
// check: unknown top-level fields and unparseable known fields become
// warnings, never errors. A record that cannot be parsed as an object at
// all is dropped with a warning.
func decodeReadings(data []json.RawMessage, units string) ([]RawReading, []string) {
	var (
		readings []RawReading
		warnings []string
	)
	for i, entry := range data {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil {
			warnings = append(warnings, fmt.Sprintf("record %d: not an object, dropped: %v", i, err))
			continue
		}
		for key := range fields {
			if _, ok := knownReadingFields[key]; !ok {
				warnings = append(warnings, fmt.Sprintf("record %d: unknown field %q dropped", i, key))
			}
		}
		var r RawReading
		if err := json.Unmarshal(entry, &r); err != nil {
			// Field-level type mismatch: retry field by field so one bad
			// value does not discard the rest of the record.
			r, warnings = decodeLenient(fields, i, warnings)
		}
		r.Units = units
		readings = append(readings, r)
	}
	return readings, warnings
}

func decodeLenient(fields map[string]json.RawMessage, idx int, warnings []string) (RawReading, []string) {
	var r RawReading
	assign := func(key string, dst interface{}) {
		raw, ok := fields[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			warnings = append(warnings, fmt.Sprintf("record %d: unparseable field %q dropped: %v", idx, key, err))
		}
	}
	assign("datetime", &r.Datetime)
	assign("timestamp_utc", &r.TimestampUTC)
	assign("ts", &r.TS)
	assign("temp", &r.Temp)
	assign("wind_spd", &r.WindSpd)
	assign("precip", &r.Precip)
	assign("vis", &r.Vis)
	assign("weather", &r.Weather)
	return r, warnings
}
