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
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxRuleFileSize bounds rule files read from disk (1MB).
const MaxRuleFileSize = 1024 * 1024

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// ruleFileYAML is the root of a rule file.
type ruleFileYAML struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRegistry builds an unsealed registry from YAML rule definitions.
//
// # Inputs
//
//   - data: YAML document with a top-level "rules" list.
//
// # Outputs
//
//   - *Registry: The populated registry. Not sealed.
//   - error: Non-nil on YAML errors or invalid rules.
func ParseRegistry(data []byte) (*Registry, error) {
	var doc ruleFileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	reg := NewRegistry()
	for _, rule := range doc.Rules {
		if err := reg.Register(rule.Category, rule); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadRegistry reads and parses a rule file.
func LoadRegistry(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rules file: %w", err)
	}
	if info.Size() > MaxRuleFileSize {
		return nil, fmt.Errorf("rules file %s is %d bytes, limit is %d", path, info.Size(), MaxRuleFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRegistry(data)
}

// DefaultRegistry returns the built-in rule set.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultRulesYAML)
}

// MarshalRules renders rules as a rule file.
func MarshalRules(rs []Rule) ([]byte, error) {
	return yaml.Marshal(ruleFileYAML{Rules: rs})
}
