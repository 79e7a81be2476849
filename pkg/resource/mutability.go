package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// mutableFields lists, per kind, the spec fields the engine can change on a
// live object without recreating it. Everything not listed forces recreate.
var mutableFields = map[Kind]map[string]bool{
	KindImage:   {},
	KindVolume:  {},
	KindNetwork: {},
	KindContainer: {
		"run_state":      true,
		"restart_policy": true,
	},
}

// MutableFields returns the in-place mutable spec fields for a kind.
func MutableFields(kind Kind) []string {
	fields := make([]string, 0, len(mutableFields[kind]))
	for f := range mutableFields[kind] {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ChangedFields compares two specs of the same kind and returns the names
// of the top-level fields whose normalized values differ, sorted.
func ChangedFields(old, new Spec) ([]string, error) {
	if old.Kind() != new.Kind() {
		return nil, fmt.Errorf("cannot diff %s spec against %s spec", old.Kind(), new.Kind())
	}

	oldFields, err := specFields(old)
	if err != nil {
		return nil, err
	}
	newFields, err := specFields(new)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var changed []string
	for name, oldVal := range oldFields {
		seen[name] = true
		if !bytes.Equal(oldVal, newFields[name]) {
			changed = append(changed, name)
		}
	}
	for name := range newFields {
		if !seen[name] {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// UpdatableInPlace reports whether the change from old to new can be
// applied to the live object. It returns the changed fields alongside:
// callers use them both for the in-place update and for status reasons.
func UpdatableInPlace(old, new Spec) ([]string, bool, error) {
	changed, err := ChangedFields(old, new)
	if err != nil {
		return nil, false, err
	}
	mutable := mutableFields[new.Kind()]
	for _, field := range changed {
		if !mutable[field] {
			return changed, false, nil
		}
	}
	return changed, len(changed) > 0, nil
}

// specFields flattens a normalized spec into raw JSON values per top-level
// field.
func specFields(spec Spec) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(spec.normalized())
	if err != nil {
		return nil, fmt.Errorf("encode %s spec: %w", spec.Kind(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s spec fields: %w", spec.Kind(), err)
	}
	return fields, nil
}
