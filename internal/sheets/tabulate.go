package sheets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Tabulate flattens a view document into spreadsheet rows.
//
// An array of objects becomes a header row (sorted keys) followed by one
// row per element. An object becomes key/value rows. Nested values are
// written as compact JSON and numbers keep their exact digits.
func Tabulate(content []byte) ([][]string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode view: %w", err)
	}

	switch v := doc.(type) {
	case []any:
		return tabulateArray(v)
	case map[string]any:
		keys := sortedKeys(v)
		rows := make([][]string, 0, len(keys)+1)
		rows = append(rows, []string{"key", "value"})
		for _, k := range keys {
			cell, err := cellOf(v[k])
			if err != nil {
				return nil, err
			}
			rows = append(rows, []string{k, cell})
		}
		return rows, nil
	case nil:
		return [][]string{}, nil
	default:
		cell, err := cellOf(v)
		if err != nil {
			return nil, err
		}
		return [][]string{{cell}}, nil
	}
}

func tabulateArray(items []any) ([][]string, error) {
	objects := true
	seen := map[string]bool{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			objects = false
			break
		}
		for k := range obj {
			seen[k] = true
		}
	}

	if !objects {
		rows := make([][]string, 0, len(items))
		for _, item := range items {
			cell, err := cellOf(item)
			if err != nil {
				return nil, err
			}
			rows = append(rows, []string{cell})
		}
		return rows, nil
	}

	header := sortedKeys(seen)
	rows := make([][]string, 0, len(items)+1)
	rows = append(rows, header)
	for _, item := range items {
		obj := item.(map[string]any)
		row := make([]string, len(header))
		for i, k := range header {
			cell, err := cellOf(obj[k])
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellOf(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", fmt.Errorf("encode cell: %w", err)
		}
		return string(b), nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
