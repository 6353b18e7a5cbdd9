package fasjson

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Formatter serializes a parameter value declared with a custom format.
type Formatter func(value interface{}) (string, error)

// Formats maps spec format names to their serializers.
type Formats map[string]Formatter

// FormatMask is the format of field masks such as X-Fields.
const FormatMask = "mask"

// DefaultFormats returns the custom formats FASJSON declares.
func DefaultFormats() Formats {
	return Formats{
		FormatMask: MaskFormat,
	}
}

// Merge returns the receiver overlaid with extra.
func (f Formats) Merge(extra Formats) Formats {
	merged := make(Formats, len(f)+len(extra))
	for name, fn := range f {
		merged[name] = fn
	}

	for name, fn := range extra {
		merged[name] = fn
	}

	return merged
}

// MaskFormat sends a list of field names as a comma separated string.
// A plain string is passed through.
func MaskFormat(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []string:
		return strings.Join(v, ","), nil
	case nil:
		return "", nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", fmt.Errorf("%w: mask expects a list of field names, got %T", ErrInvalidArgument, value)
	}

	fields := make([]string, 0, rv.Len())
	for i := range rv.Len() {
		fields = append(fields, fmt.Sprint(rv.Index(i).Interface()))
	}

	return strings.Join(fields, ","), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
