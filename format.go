// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"fmt"
	"path/filepath"

	"github.com/arvados/scload/table"
)

type Format int

const (
	FormatDense Format = iota
	FormatCSV
	FormatCount
	FormatMtx
	FormatSerialized
)

func (f Format) String() string {
	switch f {
	case FormatDense:
		return "dense"
	case FormatCSV:
		return "csv"
	case FormatCount:
		return "count"
	case FormatMtx:
		return "mtx"
	case FormatSerialized:
		return "serialized"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// format is the behavior that differs between source file formats.
type format interface {
	// setup adjusts the default config of a new loader and
	// discovers sidecar files.
	setup(l *Loader)
	// probe fills in l's NRows, NCols and Sparsity.
	probe(l *Loader)
	// leading returns the number of header rows/columns to consume.
	leading(cfg Config) (rows, cols int)
	// columns returns the number of source columns, including
	// header columns.
	columns(l *Loader) (int, error)
	// read parses the file, honoring inv's sampling, and records
	// inv.rowMask (and inv.colMask, if not already set).
	read(l *Loader, inv *invocation) (*rawTable, error)
}

// producer is implemented by formats that bypass text parsing and
// annotation handling altogether.
type producer interface {
	produce(l *Loader, inv *invocation) (*table.Table, error)
}

var formats = map[Format]format{
	FormatDense:      denseFormat{},
	FormatCSV:        denseFormat{delimiter: ","},
	FormatCount:      countFormat{},
	FormatMtx:        mtxFormat{},
	FormatSerialized: serializedFormat{},
}

var formatByExt = map[string]Format{
	".mtx":    FormatMtx,
	".count":  FormatCount,
	".csv":    FormatCSV,
	".pkl":    FormatSerialized,
	".pickle": FormatSerialized,
	".gob":    FormatSerialized,
}

// DetectFormat chooses a format from the file name, ignoring one
// compression suffix. Unrecognized names are read as tab-delimited
// text.
func DetectFormat(fnm string) Format {
	base, _ := stripCompression(fnm)
	if f, ok := formatByExt[filepath.Ext(base)]; ok {
		return f
	}
	return FormatDense
}

// NewLoader returns a loader for fnm, with the format chosen by
// DetectFormat.
func NewLoader(fnm string) *Loader {
	return NewLoaderFormat(fnm, DetectFormat(fnm))
}

// ParseFormat returns the format with the given name (see
// Format.String).
func ParseFormat(s string) (Format, error) {
	for f := range formats {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown format %q", s)
}
