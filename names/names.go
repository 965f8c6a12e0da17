// Package names derives compact human readable display names for a set of
// experiments sharing a grid.
package names

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/shepgo/shepgo/canonical"
)

// ShortNames returns one display name per form plus a base name. Keys whose
// value is identical across every form carry no discriminating information:
// they are dropped from the individual names and factored into the base
// name. Deterministic given the same forms in the same order.
func ShortNames(forms []canonical.Form) (names []string, base string) {
	if len(forms) == 0 {
		return nil, ""
	}

	// Start from the first form and keep only the keys that are present
	// with the same value everywhere.
	reference := forms[0]
	for _, form := range forms[1:] {
		var kept canonical.Form
		for _, p := range reference {
			v, ok := form.Get(p.Key)
			if ok && reflect.DeepEqual(v, p.Value) {
				kept = append(kept, p)
			}
		}
		reference = kept
	}

	common := make(map[string]bool, len(reference))
	for _, p := range reference {
		common[p.Key] = true
	}

	names = make([]string, len(forms))
	for i, form := range forms {
		var parts []string
		for _, p := range form {
			if !common[p.Key] {
				parts = append(parts, Part(p.Key, p.Value))
			}
		}
		names[i] = strings.Join(parts, " ")
	}

	var baseParts []string
	for _, p := range reference {
		baseParts = append(baseParts, Part(p.Key, p.Value))
	}
	return names, strings.Join(baseParts, " ")
}

// Part renders one key value token. Dotted path segments other than the
// leaf are truncated to three characters to keep names terminal friendly;
// the leaf keeps its full name. A true value renders as the bare key.
func Part(key string, value any) string {
	segments := strings.Split(key, ".")
	for i, s := range segments[:len(segments)-1] {
		if len(s) > 3 {
			segments[i] = s[:3]
		}
	}
	key = strings.Join(segments, ".")

	if value == true {
		return key
	}
	return key + "=" + formatValue(value)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}
