package grading

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"exercise-runner/internal/runtime"
)

// Step is one comparison rule. got is what the user's code produced and
// expected comes from the test case.
type Step func(got, expected any) bool

// Policy is an ordered list of comparison steps. A check passes when any
// step accepts the pair.
type Policy []Step

// Equal reports whether got matches expected under p.
func (p Policy) Equal(got, expected any) bool {
	for _, step := range p {
		if step(got, expected) {
			return true
		}
	}
	return false
}

var (
	// PythonPolicy accepts equal values first, then equal string forms, so
	// that 3 matches "3".
	PythonPolicy = Policy{ValueEqual, StringEqual}
	// SQLPolicy compares full serialized result sets, row order included.
	SQLPolicy = Policy{SerializedEqual}
)

// ValueEqual compares values structurally after normalizing numbers, so 3,
// int64(3) and 3.0 are equal. Integers compare exactly at any size.
func ValueEqual(got, expected any) bool {
	return reflect.DeepEqual(normalize(unwrap(got)), normalize(expected))
}

// StringEqual compares the display forms of both values.
func StringEqual(got, expected any) bool {
	return displayGot(got) == Display(expected)
}

// SerializedEqual compares the JSON encodings of both values.
func SerializedEqual(got, expected any) bool {
	a, err := json.Marshal(got)
	if err != nil {
		return false
	}
	b, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Display renders v the way a browser renders a primitive: booleans as
// true/false, nil as null, integral floats without a fraction. Lists and
// maps use their JSON form.
func Display(v any) string {
	switch x := normalize(v).(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case exactInt:
		return string(x)
	case float64:
		return formatNumber(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// displayGot renders an interpreter value. Primitives take their native
// display form; containers keep Python's own str() text.
func displayGot(got any) string {
	v, ok := got.(runtime.Value)
	if !ok {
		return Display(got)
	}
	switch native := v.Native().(type) {
	case nil, string, bool, json.Number:
		if v.JSON == nil {
			return v.Text
		}
		return Display(native)
	default:
		return v.Text
	}
}

func unwrap(got any) any {
	if v, ok := got.(runtime.Value); ok {
		return v.Native()
	}
	return got
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.Abs(f) >= 1e21:
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

// exactInt is an integer in canonical decimal form. Integers outside the
// float64 exact range keep every digit this way.
type exactInt string

func (n exactInt) MarshalJSON() ([]byte, error) {
	return []byte(n), nil
}

// maxExactFloat is the largest magnitude below which every integer is a
// float64.
const maxExactFloat = 1 << 53

func intFromFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		return exactInt(strconv.FormatInt(int64(f), 10))
	}
	return f
}

func numberFromJSON(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return exactInt(b.String())
		}
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return intFromFloat(f)
}

// normalize maps integers to exactInt and other numbers to float64, and
// walks lists and maps so that values decoded from JSON, YAML or Go
// literals compare alike.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return exactInt(strconv.FormatInt(int64(x), 10))
	case int8:
		return exactInt(strconv.FormatInt(int64(x), 10))
	case int16:
		return exactInt(strconv.FormatInt(int64(x), 10))
	case int32:
		return exactInt(strconv.FormatInt(int64(x), 10))
	case int64:
		return exactInt(strconv.FormatInt(x, 10))
	case uint:
		return exactInt(strconv.FormatUint(uint64(x), 10))
	case uint8:
		return exactInt(strconv.FormatUint(uint64(x), 10))
	case uint16:
		return exactInt(strconv.FormatUint(uint64(x), 10))
	case uint32:
		return exactInt(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return exactInt(strconv.FormatUint(x, 10))
	case *big.Int:
		return exactInt(x.String())
	case float32:
		return intFromFloat(float64(x))
	case float64:
		return intFromFloat(x)
	case json.Number:
		return numberFromJSON(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[Display(k)] = normalize(e)
		}
		return out
	default:
		return v
	}
}
