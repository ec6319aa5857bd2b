package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedRecord is returned for lines that are not valid JSON or do not
// carry a recognizable record shape. Callers log and skip such lines.
var ErrMalformedRecord = errors.New("malformed stream record")

// ErrBlankLine is returned for whitespace-only lines. It is not a malformed
// record; keep-alive newlines are expected on the wire.
var ErrBlankLine = errors.New("blank line")

type Kind int

const (
	KindGeneration Kind = iota + 1
	KindChunk
	KindOutputs
)

func (k Kind) String() string {
	switch k {
	case KindGeneration:
		return "generation"
	case KindChunk:
		return "chunk"
	case KindOutputs:
		return "outputs"
	default:
		return "unknown"
	}
}

const (
	StateStart = "start"
	StateEnd   = "end"
)

// Record is one classified line of the upstream stream. Only the fields of
// its Kind are populated.
type Record struct {
	Kind Kind

	// generation
	State string
	Label string

	// chunk
	Value string

	// outputs
	Values map[string]interface{}
}

// Output returns the "output" mapping of an outputs record, or nil.
func (r Record) Output() map[string]interface{} {
	if r.Values == nil {
		return nil
	}
	out, _ := r.Values["output"].(map[string]interface{})
	return out
}

// Classify parses one line and maps it to a Record.
//
// Two wire shapes are accepted. The flattened one puts the kind at the top
// level and the payload under "value":
//
//	{"type":"chunk","value":{"value":"Hello"}}
//	{"type":"outputs","values":{"output":{...}}}
//
// The nested one wraps the whole record under "value":
//
//	{"value":{"type":"chunk","value":"Hello"}}
func Classify(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, ErrBlankLine
	}
	if !gjson.Valid(line) {
		return Record{}, fmt.Errorf("%w: invalid json", ErrMalformedRecord)
	}

	root := gjson.Parse(line)
	if !root.IsObject() {
		return Record{}, fmt.Errorf("%w: not an object", ErrMalformedRecord)
	}

	kind := root.Get("type")
	payload := root.Get("value")
	if !kind.Exists() {
		if !payload.IsObject() || !payload.Get("type").Exists() {
			return Record{}, fmt.Errorf("%w: missing type", ErrMalformedRecord)
		}
		kind = payload.Get("type")
		root = payload
		payload = root.Get("value")
	}

	// field looks a key up in the payload object first, then at the level
	// that carried "type".
	field := func(key string) gjson.Result {
		if payload.IsObject() {
			if r := payload.Get(key); r.Exists() {
				return r
			}
		}
		return root.Get(key)
	}

	switch kind.String() {
	case "generation":
		state := field("state").String()
		if state != StateStart && state != StateEnd {
			return Record{}, fmt.Errorf("%w: generation state %q", ErrMalformedRecord, state)
		}
		return Record{Kind: KindGeneration, State: state, Label: field("label").String()}, nil

	case "chunk":
		var value string
		switch {
		case payload.Type == gjson.String:
			value = payload.String()
		case payload.IsObject():
			value = payload.Get("value").String()
		}
		return Record{Kind: KindChunk, Value: value}, nil

	case "outputs":
		values := field("values")
		if !values.IsObject() {
			return Record{}, fmt.Errorf("%w: outputs without values", ErrMalformedRecord)
		}
		m, ok := values.Value().(map[string]interface{})
		if !ok {
			return Record{}, fmt.Errorf("%w: outputs values", ErrMalformedRecord)
		}
		return Record{Kind: KindOutputs, Values: m}, nil

	default:
		return Record{}, fmt.Errorf("%w: unknown type %q", ErrMalformedRecord, kind.String())
	}
}
