package evaluator

import (
	"encoding/json"
	"strconv"
	"time"
)

// unmarshalJSON is the one stdlib dependency left in this package: gojq
// runs queries over an already-decoded interface{} document, so something
// still has to do the initial decode. No library in the pack offers a
// "decode arbitrary JSON to interface{}" alternative worth pulling in over
// encoding/json for this.
func unmarshalJSON(body []byte, out *interface{}) error {
	return json.Unmarshal(body, out)
}

func formatJSONScalar(v interface{}) string {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func daysUntil(t time.Time) int {
	d := time.Until(t)
	return int(d.Hours() / 24)
}
