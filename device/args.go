package device

import (
	"encoding/json"
	"math"
	"sort"
)

// Args are the named arguments of a command, as decoded from JSON.
type Args map[string]interface{}

type argType int

const (
	argString argType = iota
	argInt
	argIntList
)

func (t argType) String() string {
	switch t {
	case argString:
		return "a string"
	case argInt:
		return "an integer"
	case argIntList:
		return "a list of integers"
	}
	return "unknown"
}

type field struct {
	typ      argType
	required bool
}

// Argument shapes per capability. Capabilities not listed take no arguments.
var schemas = map[Capability]map[string]field{
	GetInfo:      {"type": {argString, false}},
	SetVolume:    {"volume": {argInt, true}},
	SetSource:    {"source": {argString, true}, "channel": {argInt, false}},
	Execute:      {"command": {argString, true}},
	Screenshot:   {"method": {argString, true}, "screens": {argIntList, true}},
	OpenBrowser:  {"url": {argString, false}, "displayId": {argInt, false}},
	GetBrowser:   {"browserId": {argInt, true}},
	CloseBrowser: {"browserId": {argInt, true}},
}

// Screenshot delivery methods.
var screenshotMethods = map[string]bool{"upload": true, "local": true, "response": true}

// Validate checks args against the capability's shape: no unknown keys,
// required keys present, every value of the right type.
func Validate(c Capability, args Args) error {
	schema := schemas[c]

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := schema[k]
		if !ok {
			return Validationf("Unexpected argument: %s", k)
		}
		if !f.typ.accepts(args[k]) {
			return Validationf("Argument %s must be %s", k, f.typ)
		}
	}

	names := make([]string, 0, len(schema))
	for k := range schema {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, ok := args[k]; schema[k].required && !ok {
			return Validationf("Missing argument: %s", k)
		}
	}

	if c == Screenshot {
		if m, _ := args["method"].(string); !screenshotMethods[m] {
			return Validationf("Argument method must be one of upload, local, response")
		}
	}
	return nil
}

func (t argType) accepts(v interface{}) bool {
	switch t {
	case argString:
		_, ok := v.(string)
		return ok
	case argInt:
		_, ok := toInt(v)
		return ok
	case argIntList:
		_, ok := toIntList(v)
		return ok
	}
	return false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func toIntList(v interface{}) ([]int, bool) {
	switch l := v.(type) {
	case []int:
		return l, true
	case []interface{}:
		out := make([]int, 0, len(l))
		for _, e := range l {
			n, ok := toInt(e)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	return nil, false
}

// String returns a string argument; ok is false when absent.
func (a Args) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Int returns an integer argument; ok is false when absent or not integral.
func (a Args) Int(key string) (int, bool) {
	v, present := a[key]
	if !present {
		return 0, false
	}
	return toInt(v)
}

// IntList returns an integer list argument.
func (a Args) IntList(key string) ([]int, bool) {
	v, present := a[key]
	if !present {
		return nil, false
	}
	return toIntList(v)
}

// Without returns a copy of a with the named keys removed.
func (a Args) Without(keys ...string) Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
