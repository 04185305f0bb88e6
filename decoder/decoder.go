// Package decoder turns raw transport lines into canonical reading
// candidates. Devices in the field emit wildly inconsistent formats, so
// decoding tries a fixed cascade of rules and accepts a set of synonym
// keys for every logical field.
package decoder

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
	"github.com/c360/sensorstream/reading"
)

// Synonym keys per logical field. Lookup is done on the normalized key
// shape (lowercase, spaces and underscores stripped), so "Sensor_ID" and
// "sensor id" both resolve to the sensor identifier.
var (
	sensorIDKeys = []string{"sensorid", "id", "devid"}
	valueKeys    = []string{"value", "val", "temperature", "temp"}
	locationKeys = []string{"location", "locationofsensor", "loc"}
	timeKeys     = []string{"time", "timestamp", "t"}
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Decode parses one raw line into a reading candidate, trying rules in a
// fixed priority order:
//
//  1. JSON object with synonym keys
//  2. CSV: sensorId,value[,time[,location]] with the first two fields numeric
//  3. Semicolon key-value pairs: "id=2; val=99.9" (more than one pair)
//  4. Whitespace pair: "<sensorId> <value>", both numeric
//
// A line matching none of the rules is a decode failure. The candidate is
// normalized but not yet classified; its status is Normal with no score.
func Decode(line string) (reading.Reading, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return reading.Reading{}, errors.WrapInvalid(
			errors.ErrDecodeFailed, "Decoder", "Decode", "empty line")
	}

	if fields, ok := decodeJSON(line); ok {
		return Normalize(fields)
	}
	if fields, ok := decodeCSV(line); ok {
		return Normalize(fields)
	}
	if fields, ok := decodePairs(line); ok {
		return Normalize(fields)
	}
	if fields, ok := decodeWhitespace(line); ok {
		return Normalize(fields)
	}

	return reading.Reading{}, errors.WrapInvalid(
		errors.ErrDecodeFailed, "Decoder", "Decode", "unrecognized line format")
}

// decodeJSON parses the line as a JSON object.
func decodeJSON(line string) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// decodeCSV parses "sensorId,value[,time[,location]]". The first two
// fields must be numeric or the rule does not apply.
func decodeCSV(line string) (map[string]any, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return nil, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if !isNumeric(parts[0]) || !isNumeric(parts[1]) {
		return nil, false
	}

	fields := map[string]any{
		"sensorId": parts[0],
		"value":    parts[1],
	}
	if len(parts) > 2 && parts[2] != "" {
		fields["time"] = parts[2]
	}
	if len(parts) > 3 {
		fields["location"] = parts[3]
	}
	return fields, true
}

// decodePairs parses semicolon-separated key-value pairs such as
// "id=2; val=99.9". Keys split from values on the first ':' or '='; a
// single pair is not enough to claim the rule, since any line with one
// stray '=' would otherwise match.
func decodePairs(line string) (map[string]any, bool) {
	candidates := strings.Split(line, ";")
	pairs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			pairs = append(pairs, c)
		}
	}
	if len(pairs) < 2 {
		return nil, false
	}

	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		idx := strings.IndexAny(pair, ":=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(pair[:idx])
		val := strings.TrimSpace(pair[idx+1:])
		if key == "" {
			continue
		}
		fields[key] = val
	}
	return fields, true
}

// decodeWhitespace parses a bare "<sensorId> <value>" pair.
func decodeWhitespace(line string) (map[string]any, bool) {
	parts := whitespaceRe.Split(line, -1)
	if len(parts) < 2 || !isNumeric(parts[0]) || !isNumeric(parts[1]) {
		return nil, false
	}
	return map[string]any{
		"sensorId": parts[0],
		"value":    parts[1],
	}, true
}

// Normalize resolves synonym keys in a structured input and builds a
// reading candidate. Non-transport producers reuse this directly so every
// ingestion source shares one normalization path. The original fields are
// kept on the reading's Raw for audit.
func Normalize(fields map[string]any) (reading.Reading, error) {
	byShape := make(map[string]any, len(fields))
	for k, v := range fields {
		shape := normalizeKey(k)
		if _, exists := byShape[shape]; !exists {
			byShape[shape] = v
		}
	}

	rawID, ok := lookup(byShape, sensorIDKeys)
	if !ok {
		return reading.Reading{}, errors.ErrMissingSensorID
	}
	sensorID, ok := toSensorID(rawID)
	if !ok {
		return reading.Reading{}, errors.ErrMissingSensorID
	}

	rawValue, ok := lookup(byShape, valueKeys)
	if !ok {
		return reading.Reading{}, errors.ErrInvalidValue
	}
	value, ok := toFloat(rawValue)
	if !ok {
		return reading.Reading{}, errors.ErrInvalidValue
	}

	location, _ := lookupString(byShape, locationKeys)

	var ts any
	if raw, ok := lookup(byShape, timeKeys); ok {
		ts = raw
	}

	r := reading.New(sensorID, value, location, timestamp.OrNow(ts))
	r.Raw = fields
	if err := r.Validate(); err != nil {
		return reading.Reading{}, err
	}
	return r, nil
}

// normalizeKey lowercases a key and strips spaces and underscores.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, " ", "")
	k = strings.ReplaceAll(k, "_", "")
	return k
}

func lookup(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(fields map[string]any, keys []string) (string, bool) {
	v, ok := lookup(fields, keys)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}

// toSensorID coerces a sensor identifier to its integer form. Spellings
// of an integral number coerce, "7" and 7.0 included; anything else is a
// coercion failure.
func toSensorID(v any) (int64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, false
	}
	if f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
