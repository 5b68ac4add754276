// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package table

import (
	"fmt"
	"sort"
)

type Kind int

const (
	Continuous Kind = iota
	String
	Discrete
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case String:
		return "string"
	case Discrete:
		return "discrete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Variable describes one column of a Table. Continuous variables
// hold expression values in X; string and discrete variables hold
// row metadata in M.
type Variable struct {
	Name string
	Kind Kind

	// Discrete only: the allowed values, in code order.
	Values []string

	// Continuous only: free-form key/value metadata (gene id,
	// symbol, ...).
	Attributes map[string]string
}

func NewContinuous(name string) *Variable {
	return &Variable{Name: name, Kind: Continuous, Attributes: map[string]string{}}
}

func NewString(name string) *Variable {
	return &Variable{Name: name, Kind: String}
}

func NewDiscrete(name string, values ...string) *Variable {
	return &Variable{Name: name, Kind: Discrete, Values: append([]string(nil), values...)}
}

// Copy returns a deep copy of v.
func (v *Variable) Copy() *Variable {
	cp := &Variable{Name: v.Name, Kind: v.Kind}
	if v.Values != nil {
		cp.Values = append([]string(nil), v.Values...)
	}
	if v.Attributes != nil {
		cp.Attributes = make(map[string]string, len(v.Attributes))
		for k, val := range v.Attributes {
			cp.Attributes[k] = val
		}
	}
	return cp
}

// ValueIndex returns the code of value s, or -1 if s is not one of
// the variable's values.
func (v *Variable) ValueIndex(s string) int {
	for i, val := range v.Values {
		if val == s {
			return i
		}
	}
	return -1
}

// AddValue appends s to the value list unless already present, and
// returns its code.
func (v *Variable) AddValue(s string) int {
	if i := v.ValueIndex(s); i >= 0 {
		return i
	}
	v.Values = append(v.Values, s)
	return len(v.Values) - 1
}

// SortByName sorts vars in place by name. Ties keep their input
// order.
func SortByName(vars []*Variable) {
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
}
