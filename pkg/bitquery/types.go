package bitquery

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Scalar is a JSON scalar kept in its textual form. Bitquery returns some numeric values as
// strings and others as numbers depending on the field, so both are accepted.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	// numbers and booleans keep their literal text
	*s = Scalar(b)
	return nil
}

func (s Scalar) String() string { return string(s) }

// Value is the union of ABI argument value shapes Bitquery can return.
type Value struct {
	String     Scalar `json:"string,omitempty"`
	Hex        Scalar `json:"hex,omitempty"`
	BigInteger Scalar `json:"bigInteger,omitempty"`
	Address    Scalar `json:"address,omitempty"`
	Integer    Scalar `json:"integer,omitempty"`
	Bool       Scalar `json:"bool,omitempty"`
}

// Text returns the first populated representation.
func (v Value) Text() string {
	for _, s := range []Scalar{v.String, v.Hex, v.BigInteger, v.Address, v.Integer, v.Bool} {
		if s != "" {
			return string(s)
		}
	}
	return ""
}

// Argument is one decoded event log argument.
type Argument struct {
	Name  string `json:"Name"`
	Value Value  `json:"Value"`
}

type Block struct {
	Time   string `json:"Time"`
	Number Scalar `json:"Number"`
}

type Transaction struct {
	Hash string `json:"Hash"`
}

// Event is a raw contract event as returned by the EVM Events cube.
type Event struct {
	Arguments   []Argument  `json:"Arguments"`
	Block       Block       `json:"Block"`
	Transaction Transaction `json:"Transaction"`
}

// BlockNumber parses Block.Number, returning 0 when it is missing or malformed.
func (e Event) BlockNumber() int64 {
	n, err := strconv.ParseInt(string(e.Block.Number), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// GetArgumentValue returns the textual value of the argument called name. Missing arguments and
// empty values both report false.
func GetArgumentValue(args []Argument, name string) (string, bool) {
	for _, a := range args {
		if a.Name == name {
			v := a.Value.Text()
			return v, v != ""
		}
	}
	return "", false
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type eventsResponse struct {
	Data struct {
		EVM struct {
			Events []Event `json:"Events"`
		} `json:"EVM"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}
