package toolset

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// LineMap maps 1-based line numbers to line content. It marshals to a JSON object keyed by the line numbers as
// strings, in ascending numeric order.
type LineMap map[int]string

// MarshalJSON implements json.Marshaler
func (lm LineMap) MarshalJSON() ([]byte, error) {
	numbers := make([]int, 0, len(lm))
	for n := range lm {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range numbers {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(n)))
		buf.WriteByte(':')
		value, err := json.Marshal(lm[n])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
