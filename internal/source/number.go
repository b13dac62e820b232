package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Number decodes a chapter number that providers send either as a JSON
// number or as a string.
type Number string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode chapter number: %w", err)
		}
		*n = Number(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("decode chapter number %s: %w", data, err)
	}
	*n = Number(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}
