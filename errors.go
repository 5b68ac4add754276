// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"fmt"
	"sort"
	"strings"
)

type ErrorKind string

const (
	ReadingError      ErrorKind = "reading_error"
	RowAnnotMismatch  ErrorKind = "row_annot_mismatch"
	ColAnnotMismatch  ErrorKind = "col_annot_mismatch"
	InadequateHeaders ErrorKind = "inadequate_headers"
)

// ReadError is recorded under ReadingError when the source (or a
// sidecar) cannot be read or parsed. No table is produced.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// Mismatch is recorded under RowAnnotMismatch/ColAnnotMismatch when a
// sidecar annotation file has the wrong number of entries. The
// annotation is skipped; the table is still produced.
type Mismatch struct {
	Expected int
	Actual   int
}

func (e *Mismatch) Error() string {
	return fmt.Sprintf("annotation has %d entries, expected %d", e.Actual, e.Expected)
}

// HeaderMismatch is recorded under InadequateHeaders when the
// configured header rows/columns do not reconcile with the parsed
// data. Rows and Cols are the leading header counts, in source file
// orientation. No table is produced.
type HeaderMismatch struct {
	Rows int
	Cols int
	Err  error
}

func (e *HeaderMismatch) Error() string {
	return fmt.Sprintf("inadequate headers (%d header rows, %d header columns): %s", e.Rows, e.Cols, e.Err)
}

func (e *HeaderMismatch) Unwrap() error { return e.Err }

// ErrorMap holds the problems recorded during the most recent
// Produce call, keyed by kind.
type ErrorMap map[ErrorKind]error

// Fatal reports whether the recorded errors prevented a table from
// being produced.
func (em ErrorMap) Fatal() bool {
	return em[ReadingError] != nil || em[InadequateHeaders] != nil
}

// Err returns nil if nothing was recorded, otherwise a single error
// summarizing all entries.
func (em ErrorMap) Err() error {
	if len(em) == 0 {
		return nil
	}
	var msgs []string
	for kind, err := range em {
		msgs = append(msgs, fmt.Sprintf("%s: %s", kind, err))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
