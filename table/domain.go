// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package table

import (
	"fmt"
	"strconv"
)

// Domain lists a table's expression columns (Attributes, one per
// column of X) and metadata columns (Metas, one per column of M).
type Domain struct {
	Attributes []*Variable
	Metas      []*Variable
}

func NewDomain(attrs, metas []*Variable) *Domain {
	return &Domain{Attributes: attrs, Metas: metas}
}

// FeatureVariables returns n continuous variables with generated
// names "Feature 1" .. "Feature n", zero-padded to equal width.
func FeatureVariables(n int) []*Variable {
	width := len(strconv.Itoa(n))
	vars := make([]*Variable, n)
	for i := range vars {
		vars[i] = NewContinuous(fmt.Sprintf("Feature %0*d", width, i+1))
	}
	return vars
}

func (d *Domain) AttributeIndex(name string) int {
	return indexByName(d.Attributes, name)
}

func (d *Domain) MetaIndex(name string) int {
	return indexByName(d.Metas, name)
}

func (d *Domain) AttributeNames() []string {
	names := make([]string, len(d.Attributes))
	for i, v := range d.Attributes {
		names[i] = v.Name
	}
	return names
}

func (d *Domain) MetaNames() []string {
	names := make([]string, len(d.Metas))
	for i, v := range d.Metas {
		names[i] = v.Name
	}
	return names
}

func indexByName(vars []*Variable, name string) int {
	for i, v := range vars {
		if v.Name == name {
			return i
		}
	}
	return -1
}
