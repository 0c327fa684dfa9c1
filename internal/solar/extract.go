package solar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

var epoch = time.Unix(0, 0).UTC()

// ParseTimestamp parses a record timestamp under the layout for mode.
func ParseTimestamp(mode Mode, ts string) (time.Time, error) {
	t, err := time.Parse(mode.timestampLayout(), ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrMalformedTimestamp, ts, err)
	}
	return t, nil
}

// SelectMostRecent returns the record with the latest timestamp in b.
// Records with unparseable timestamps order as the Unix epoch, so they never
// beat a parseable one. Ties keep batch order. ok is false when the batch is
// empty or no record has a usable timestamp.
func SelectMostRecent(b Batch) (Sample, bool) {
	if len(b.Records) == 0 {
		return Sample{}, false
	}

	samples := make([]Sample, len(b.Records))
	valid := 0
	for i, r := range b.Records {
		ts, err := ParseTimestamp(b.Mode, r.Timestamp)
		if err != nil {
			ts = epoch
		} else {
			valid++
		}
		samples[i] = Sample{Record: r, Instant: ts}
	}
	if valid == 0 {
		return Sample{}, false
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Instant.After(samples[j].Instant)
	})
	return samples[0], true
}

// MalformedCount reports how many records in b fail timestamp parsing.
func MalformedCount(b Batch) int {
	n := 0
	for _, r := range b.Records {
		if _, err := ParseTimestamp(b.Mode, r.Timestamp); err != nil {
			n++
		}
	}
	return n
}

// DecodeBatch decodes the records array of an API response body.
// Anything other than a JSON array yields ErrNotSequence. Each element must
// be an object; badly typed fields inside one do not fail the batch.
func DecodeBatch(mode Mode, raw json.RawMessage) (Batch, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Batch{Mode: mode}, ErrNotSequence
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return Batch{Mode: mode}, fmt.Errorf("decode %s records: %w", mode, err)
	}

	records := make([]Record, 0, len(elems))
	for i, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 || elem[0] != '{' {
			return Batch{Mode: mode}, fmt.Errorf("decode %s records: element %d is not an object", mode, i)
		}
		var r Record
		if err := json.Unmarshal(elem, &r); err != nil {
			return Batch{Mode: mode}, fmt.Errorf("decode %s records: element %d: %w", mode, i, err)
		}
		records = append(records, r)
	}
	return Batch{Mode: mode, Records: records}, nil
}
