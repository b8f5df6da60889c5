package progress

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DetailPrefix marks flattened detail keys in serialized events.
const DetailPrefix = "detail_"

// TimestampFormat is ISO-8601 with millisecond precision in UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Event is one progress record of a verification run. It always serializes
// to a single flat JSON object.
type Event struct {
	RunID     string
	ReceiptID string
	Sequence  int64
	Stage     string
	Message   string
	Progress  int
	Terminal  bool
	Details   Details
	Timestamp time.Time
}

// Flatten returns the event as a flat map of primitives. Details appear
// under DetailPrefix-prefixed keys.
func (e Event) Flatten() map[string]interface{} {
	out := map[string]interface{}{
		"run_id":    e.RunID,
		"sequence":  e.Sequence,
		"stage":     e.Stage,
		"message":   e.Message,
		"progress":  e.Progress,
		"terminal":  e.Terminal,
		"timestamp": e.Timestamp.UTC().Format(TimestampFormat),
	}
	if e.ReceiptID != "" {
		out["receipt_id"] = e.ReceiptID
	}
	for k, v := range e.Details {
		out[DetailPrefix+k] = v.Interface()
	}
	return out
}

// DetailKeys returns the detail keys in sorted order.
func (e Event) DetailKeys() []string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Flatten())
}

func (e *Event) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Event{}
	for key, msg := range raw {
		var err error
		switch key {
		case "run_id":
			err = json.Unmarshal(msg, &e.RunID)
		case "receipt_id":
			err = json.Unmarshal(msg, &e.ReceiptID)
		case "sequence":
			err = json.Unmarshal(msg, &e.Sequence)
		case "stage":
			err = json.Unmarshal(msg, &e.Stage)
		case "message":
			err = json.Unmarshal(msg, &e.Message)
		case "progress":
			err = json.Unmarshal(msg, &e.Progress)
		case "terminal":
			err = json.Unmarshal(msg, &e.Terminal)
		case "timestamp":
			var ts string
			if err = json.Unmarshal(msg, &ts); err == nil {
				e.Timestamp, err = time.Parse(TimestampFormat, ts)
			}
		default:
			if !strings.HasPrefix(key, DetailPrefix) {
				continue
			}
			var v Value
			if v, err = decodeValue(msg); err == nil {
				if e.Details == nil {
					e.Details = Details{}
				}
				e.Details[strings.TrimPrefix(key, DetailPrefix)] = v
			}
		}
		if err != nil {
			return fmt.Errorf("progress event field %q: %w", key, err)
		}
	}
	return nil
}

func decodeValue(msg json.RawMessage) (Value, error) {
	var x interface{}
	dec := json.NewDecoder(strings.NewReader(string(msg)))
	dec.UseNumber()
	if err := dec.Decode(&x); err != nil {
		return Value{}, err
	}
	switch t := x.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		return Float(f), err
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return String(""), nil
	default:
		return Value{}, fmt.Errorf("detail value is not a primitive: %s", string(msg))
	}
}
