// Package ancillary decodes the hex-encoded ancillary data attached to UMA question requests.
// The payload is UTF-8 text of the form
//
//	q: title: <title>, description: <text> res_data: p1: 0, p2: 1, p3: 0.5 ..., initializer: <address>
package ancillary

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Question is the structured form of an ancillary data payload.
type Question struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	ResData     string            `json:"resData,omitempty"`
	Resolution  map[string]string `json:"resolution,omitempty"`
	Initializer string            `json:"initializer,omitempty"`
}

const (
	keyTitle       = "title:"
	keyDescription = "description:"
	keyResData     = "res_data:"
	keyInitializer = "initializer:"
)

var keys = []string{keyTitle, keyDescription, keyResData, keyInitializer}

// Decode returns the parsed question or nil when raw is not hex, not UTF-8 text, or carries
// none of the known fields. It never panics.
func Decode(raw string) *Question {
	text, ok := DecodeText(raw)
	if !ok {
		return nil
	}
	return Parse(text)
}

// DecodeJSON returns the JSON form of Decode(raw), or nil when decoding fails.
func DecodeJSON(raw string) *string {
	q := Decode(raw)
	if q == nil {
		return nil
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// DecodeText converts a hex payload, with or without the 0x prefix, into UTF-8 text.
func DecodeText(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) == 0 || !utf8.Valid(b) {
		return "", false
	}
	text := strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
	return text, text != ""
}

type marker struct {
	key string
	at  int
}

// Parse splits text on the known field markers. Markers are searched in payload order, each
// after the previous one, so a description quoting "title:" does not split the fields; the
// trailing initializer is the last occurrence. Each value runs up to the next marker found.
func Parse(text string) *Question {
	found := make([]marker, 0, len(keys))
	cursor := 0
	for _, k := range keys {
		rest := text[cursor:]
		i := strings.Index(rest, k)
		if k == keyInitializer {
			i = strings.LastIndex(rest, k)
		}
		if i < 0 {
			continue
		}
		found = append(found, marker{key: k, at: cursor + i})
		cursor += i + len(k)
	}
	if len(found) == 0 {
		return nil
	}

	q := &Question{}
	for i, m := range found {
		end := len(text)
		if i+1 < len(found) {
			end = found[i+1].at
		}
		value := cleanValue(text[m.at+len(m.key) : end])
		switch m.key {
		case keyTitle:
			q.Title = value
		case keyDescription:
			q.Description = value
		case keyResData:
			q.ResData = value
			q.Resolution = parseResolution(value)
		case keyInitializer:
			q.Initializer = value
		}
	}
	return q
}

func cleanValue(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ", ")
}

// parseResolution reads "p1: 0, p2: 1, p3: 0.5" style pairs. The free text that often follows
// the pairs is ignored.
func parseResolution(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if len(name) < 2 || name[0] != 'p' {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			continue
		}
		out[name] = strings.TrimRight(fields[0], ".")
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
