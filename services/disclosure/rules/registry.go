// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

var ruleValidate = validator.New()

// Registry holds rules grouped by category.
//
// # Description
//
// Rules are registered once, before an Engine is constructed over the
// registry. Engine construction seals the registry; later registrations fail
// with ErrRegistrySealed.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Rule
	byCategory map[Category][]*Rule
	order      []string
	sealed     bool
	version    string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Rule),
		byCategory: make(map[Category][]*Rule),
	}
}

// Register adds a rule under a category.
//
// # Inputs
//
//   - category: The category the rule belongs to. Overrides rule.Category.
//   - rule: The rule definition. Copied; later changes by the caller are ignored.
//
// # Outputs
//
//   - error: ErrInvalidRule, ErrDuplicateRule, or ErrRegistrySealed.
func (r *Registry) Register(category Category, rule Rule) error {
	rule = rule.clone()
	rule.Category = category
	if rule.Logic == "" {
		rule.Logic = LogicAnd
	}

	if err := ruleValidate.Struct(rule); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRule, rule.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, rule.ID)
	}
	if _, exists := r.byID[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}

	stored := &rule
	r.byID[rule.ID] = stored
	r.byCategory[category] = append(r.byCategory[category], stored)
	r.order = append(r.order, rule.ID)
	return nil
}

// Seal freezes the registry and stamps its version.
//
// Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.sealed = true
	r.version = r.computeVersionLocked()
}

// Sealed reports whether the registry is frozen.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Version returns a stamp derived from every rule's id, category and version.
//
// Two registries with the same rules share a version. The stamp is part of
// every rule cache key, so hot-reloaded rules never read stale outcomes.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sealed {
		return r.version
	}
	return r.computeVersionLocked()
}

func (r *Registry) computeVersionLocked() string {
	type stamp struct {
		ID, Category, Version, Hash string
	}
	stamps := make([]stamp, 0, len(r.order))
	for _, id := range r.order {
		rule := r.byID[id]
		stamps = append(stamps, stamp{
			ID:       rule.ID,
			Category: string(rule.Category),
			Version:  rule.Version,
			Hash:     factbag.Hash(rule),
		})
	}
	return factbag.Hash(stamps)[:16]
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Rules returns copies of all rules in registration order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// CategoryCounts returns the number of rules per category.
func (r *Registry) CategoryCounts() map[Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Category]int, len(r.byCategory))
	for c, rs := range r.byCategory {
		out[c] = len(rs)
	}
	return out
}

// lookup returns the registered rule with the given id.
func (r *Registry) lookup(id string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[id]
	return rule, ok
}

// triggered returns rules with at least one trigger matching any entity,
// in registration order, without duplicates.
func (r *Registry) triggered(entities []factbag.Entity) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Rule
	for _, id := range r.order {
		rule := r.byID[id]
		if ruleTriggeredBy(rule, entities) {
			out = append(out, rule)
		}
	}
	return out
}

func ruleTriggeredBy(rule *Rule, entities []factbag.Entity) bool {
	for _, t := range rule.Triggers {
		for _, e := range entities {
			if t.Matches(e) {
				return true
			}
		}
	}
	return false
}

// sortByPriority orders rules by category priority, keeping registration
// order inside a category.
func sortByPriority(rs []*Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Category.Priority() < rs[j].Category.Priority()
	})
}
