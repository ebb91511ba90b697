// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package exporttable

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type dummyWriter struct {
	id int
}

func TestExport_NewObjectGetsFreshOID(t *testing.T) {
	table := New(0)
	oid, err := table.Export(&dummyWriter{id: 1}, []string{"io.Writer"}, "alloc-site-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oid == 0 {
		t.Fatal("expected nonzero OID for a real object (0 is reserved for null)")
	}
}

func TestExport_SameObjectIncrementsRefCountAndReusesOID(t *testing.T) {
	table := New(0)
	obj := &dummyWriter{id: 1}

	oid1, err := table.Export(obj, []string{"io.Writer"}, "alloc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oid2, err := table.Export(obj, []string{"io.Closer"}, "alloc-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oid1 != oid2 {
		t.Fatalf("expected same OID on repeated export, got %d and %d", oid1, oid2)
	}

	entry := table.entries[oid1]
	if entry.ReferenceCount != 2 {
		t.Errorf("expected ref count 2, got %d", entry.ReferenceCount)
	}
	if _, ok := entry.Interfaces["io.Writer"]; !ok {
		t.Error("expected io.Writer interface to survive union")
	}
	if _, ok := entry.Interfaces["io.Closer"]; !ok {
		t.Error("expected io.Closer interface to be added by second export")
	}
}

func TestExport_NilObjectReturnsZeroOID(t *testing.T) {
	table := New(0)
	oid, err := table.Export(nil, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oid != 0 {
		t.Errorf("expected OID 0 for nil object, got %d", oid)
	}
}

func TestUnexport_RefCountNeverNegativeAndEntryRemovedAtZero(t *testing.T) {
	table := New(0)
	obj := &dummyWriter{id: 1}

	oid, _ := table.Export(obj, nil, "alloc")
	_, _ = table.Export(obj, nil, "alloc") // ref count now 2

	if err := table.Unexport(oid, "release-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("expected entry still present after first unexport, Len()=%d", table.Len())
	}

	if err := table.Unexport(oid, "release-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("expected entry removed once ref count reaches zero, Len()=%d", table.Len())
	}

	if _, err := table.Get(oid); !errors.Is(err, ErrInvalidObjectID) {
		t.Errorf("expected ErrInvalidObjectID after full unexport, got %v", err)
	}
}

func TestGet_UnknownOID(t *testing.T) {
	table := New(0)
	if _, err := table.Get(999); !errors.Is(err, ErrInvalidObjectID) {
		t.Errorf("expected ErrInvalidObjectID, got %v", err)
	}
}

func TestGet_StaleOIDDiagnosticCarriesBothTraces(t *testing.T) {
	table := New(0)
	obj := &dummyWriter{id: 1}
	oid, _ := table.Export(obj, nil, "allocated-at-line-42")
	if err := table.Unexport(oid, "released-at-line-99"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := table.Get(oid)
	if !errors.Is(err, ErrInvalidObjectID) {
		t.Fatalf("expected ErrInvalidObjectID, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "allocated-at-line-42") || !strings.Contains(msg, "released-at-line-99") {
		t.Errorf("expected diagnostic to carry both traces, got: %s", msg)
	}
}

func TestUnexportLog_BoundedFIFOEvictsOldest(t *testing.T) {
	table := New(2)

	for i := 0; i < 3; i++ {
		obj := &dummyWriter{id: i}
		oid, _ := table.Export(obj, nil, fmt.Sprintf("alloc-%d", i))
		if err := table.Unexport(oid, fmt.Sprintf("release-%d", i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(table.unexportLog) != 2 {
		t.Fatalf("expected log capped at 2 entries, got %d", len(table.unexportLog))
	}
	// The oldest (alloc-0) should have been evicted.
	for _, e := range table.unexportLog {
		if e.AllocationTrace == "alloc-0" {
			t.Error("expected oldest entry to be evicted from the bounded log")
		}
	}
}

func TestPin_PreventsReleaseBelowPostPinLevel(t *testing.T) {
	table := New(0)
	obj := &dummyWriter{id: 1}
	oid, _ := table.Export(obj, nil, "alloc")

	if err := table.Pin(oid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := table.Unexport(oid, "release"); err != nil {
			t.Fatalf("unexpected error on release %d: %v", i, err)
		}
	}

	if table.Len() != 1 {
		t.Errorf("expected pinned entry to survive repeated over-release, Len()=%d", table.Len())
	}
}

func TestAbort_NotifiesDeadWritersAndClearsTable(t *testing.T) {
	table := New(0)
	nw := &notifyingWriter{}
	oid, _ := table.Export(nw, nil, "alloc")

	cause := errors.New("channel terminated")
	table.Abort(cause)

	if nw.cause == nil {
		t.Fatal("expected Abort to notify the dead-writer capable object")
	}
	if !errors.Is(nw.cause, cause) {
		t.Errorf("expected notified cause to match, got %v", nw.cause)
	}
	if table.Len() != 0 {
		t.Errorf("expected table cleared after abort, Len()=%d", table.Len())
	}

	if _, err := table.Export(&dummyWriter{}, nil, "alloc-after-abort"); err == nil {
		t.Error("expected Export to fail after abort")
	}

	_ = oid
}

type notifyingWriter struct {
	cause error
}

func (n *notifyingWriter) NotifyDead(cause error) {
	n.cause = cause
}
