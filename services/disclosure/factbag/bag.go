// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package factbag holds the shared fact map threaded through pipeline stages
// and the typed medical-history records stored in it.
//
// # Merge Semantics
//
// A Bag is append-only by convention. Merge enforces it: a partial update may
// add new keys or extend slice-valued keys with more elements of the same
// type. Any other write to an existing key is rejected with ErrKeyConflict.
//
// # Thread Safety
//
// A Bag is a plain map and is NOT safe for concurrent mutation. The pipeline
// hands each parallel stage its own Clone of the pre-group snapshot.
package factbag

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	// ErrKeyConflict is returned when a partial update rewrites an existing key.
	ErrKeyConflict = errors.New("fact bag key conflict")

	// ErrWrongType is returned by typed accessors when a key holds another type.
	ErrWrongType = errors.New("fact bag value has unexpected type")
)

// Well-known keys written by the pipeline stages.
const (
	KeyInputText       = "input.text"
	KeyInputSegments   = "input.segments"
	KeyInputEntities   = "input.entities"
	KeySegments        = "segments"
	KeyAnchors         = "anchors"
	KeyEntities        = "entities"
	KeyTimeline        = "timeline"
	KeyRuleResults     = "ruleResults"
	KeyDisclosure      = "disclosureAnalysis"
	KeyConfidenceScore = "confidenceScore"
	KeyEvidence        = "evidence"
	KeyReport          = "report"
)

// Bag is the key/value fact map threaded through every stage.
type Bag map[string]any

// New creates an empty bag.
func New() Bag {
	return make(Bag)
}

// Clone returns a shallow copy of the bag.
//
// Values are shared; stages must treat values read from a bag as immutable.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Keys returns the bag keys in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge shallow-merges a partial update on top of the bag.
//
// Description:
//
//	Returns a new bag; the receiver is left unchanged. New keys are added.
//	An existing key may only be extended: both values must be slices of the
//	same type, and the partial value's elements are appended. Nil values in
//	the partial update are ignored.
//
// Inputs:
//
//	partial - The partial update returned by a stage. May be nil.
//
// Outputs:
//
//	Bag - The merged bag.
//	error - ErrKeyConflict if the update would rewrite an existing key.
func (b Bag) Merge(partial Bag) (Bag, error) {
	out := b.Clone()
	for _, key := range partial.Keys() {
		val := partial[key]
		if val == nil {
			continue
		}
		existing, ok := out[key]
		if !ok {
			out[key] = val
			continue
		}
		extended, err := extend(existing, val)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrKeyConflict, key, err)
		}
		out[key] = extended
	}
	return out, nil
}

func extend(existing, addition any) (any, error) {
	ev := reflect.ValueOf(existing)
	av := reflect.ValueOf(addition)
	if ev.Kind() != reflect.Slice || av.Kind() != reflect.Slice {
		return nil, errors.New("only slice values may be extended")
	}
	if ev.Type() != av.Type() {
		return nil, fmt.Errorf("cannot extend %s with %s", ev.Type(), av.Type())
	}
	out := reflect.MakeSlice(ev.Type(), 0, ev.Len()+av.Len())
	out = reflect.AppendSlice(out, ev)
	out = reflect.AppendSlice(out, av)
	return out.Interface(), nil
}

// Get returns the typed value stored under key.
//
// Outputs:
//
//	T - The value, or the zero value if absent.
//	bool - True if the key is present with type T.
func Get[T any](b Bag, key string) (T, bool) {
	var zero T
	raw, ok := b[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Hash returns a hex sha256 digest of the JSON encoding of v.
//
// Used to derive cache keys from slices of the bag. Map keys are sorted by
// encoding/json, so equal content yields equal hashes.
func Hash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
