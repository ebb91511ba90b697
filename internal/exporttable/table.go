// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package exporttable implements the reference-counted registry of
// objects a channel exposes to its peer: stable integer OIDs mapped to
// locally held objects, with pinning and a bounded diagnostic log of
// recently unexported entries.
package exporttable

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidObjectID is returned by Get when the OID is not present in
// the table (and was never present, or has since been unexported and
// aged out of the unexport log).
var ErrInvalidObjectID = errors.New("exporttable: invalid object id")

// pinBias is added to an entry's reference count by Pin; it is large
// enough that ordinary release traffic can never bring the count back
// down to zero.
const pinBias = 0x40000000

// pinCeiling is the reference-count threshold below which Pin is still
// willing to add its bias; this keeps repeated pins from overflowing
// the counter.
const pinCeiling = 0x20000000

// DefaultUnexportLogSize is the default bound on the unexport log.
const DefaultUnexportLogSize = 1024

// Entry is one exported object: the object itself, the set of
// interfaces it was exported under, and enough provenance to diagnose
// a stale-OID lookup later.
type Entry struct {
	OID             int64
	Object          any
	Interfaces      map[string]struct{}
	ReferenceCount  int64
	AllocationTrace string
	ReleaseTrace    string
}

// deadWriter is the capability an exported object may implement to be
// notified when the channel aborts with a cause, so blocked pipe
// readers on the peer side wake up instead of hanging forever.
type deadWriter interface {
	NotifyDead(cause error)
}

// Table is the per-channel export table. Every public operation is
// serialized under a single mutex, matching the single-monitor
// discipline spec.md requires.
type Table struct {
	mu          sync.Mutex
	entries     map[int64]*Entry
	byObject    map[any]int64
	nextOID     int64
	unexportLog []Entry
	logCap      int
	aborted     bool
}

// New creates an empty export table. logCap bounds the unexport
// diagnostic log; 0 or negative uses DefaultUnexportLogSize.
func New(logCap int) *Table {
	if logCap <= 0 {
		logCap = DefaultUnexportLogSize
	}
	return &Table{
		entries:  make(map[int64]*Entry),
		byObject: make(map[any]int64),
		nextOID:  1, // OID 0 is reserved for null
		logCap:   logCap,
	}
}

// Export admits object under the given interface names. If the object
// is already exported, its reference count is incremented by exactly
// one and the interface set is unioned; otherwise a fresh OID is
// allocated. allocationTrace is opaque provenance (e.g. a formatted
// call-site) recorded for later diagnosis.
func (t *Table) Export(object any, interfaces []string, allocationTrace string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.aborted {
		return 0, fmt.Errorf("exporttable: aborted")
	}

	if object == nil {
		return 0, nil
	}

	if oid, ok := t.byObject[object]; ok {
		entry := t.entries[oid]
		entry.ReferenceCount++
		for _, iface := range interfaces {
			entry.Interfaces[iface] = struct{}{}
		}
		return oid, nil
	}

	oid := t.nextOID
	t.nextOID++

	ifaceSet := make(map[string]struct{}, len(interfaces))
	for _, iface := range interfaces {
		ifaceSet[iface] = struct{}{}
	}

	entry := &Entry{
		OID:             oid,
		Object:          object,
		Interfaces:      ifaceSet,
		ReferenceCount:  1,
		AllocationTrace: allocationTrace,
	}
	t.entries[oid] = entry
	t.byObject[object] = oid
	return oid, nil
}

// Get returns the object registered under oid, or ErrInvalidObjectID
// if it is not present. When the lookup fails and a matching entry is
// found in the unexport log, the returned error is annotated with the
// original allocation and release traces for diagnosis.
func (t *Table) Get(oid int64) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[oid]; ok {
		return entry.Object, nil
	}

	for _, logged := range t.unexportLog {
		if logged.OID == oid {
			return nil, fmt.Errorf("%w: oid %d was exported at %q and released at %q",
				ErrInvalidObjectID, oid, logged.AllocationTrace, logged.ReleaseTrace)
		}
	}
	return nil, fmt.Errorf("%w: oid %d", ErrInvalidObjectID, oid)
}

// Unexport decrements oid's reference count. When it reaches zero the
// entry is removed from the table and appended to the unexport log
// (evicting the oldest entry if the log is at capacity).
func (t *Table) Unexport(oid int64, releaseTrace string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unexportLocked(oid, releaseTrace)
}

// UnexportObject is Unexport by object identity rather than OID.
func (t *Table) UnexportObject(object any, releaseTrace string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	oid, ok := t.byObject[object]
	if !ok {
		return fmt.Errorf("%w: object not exported", ErrInvalidObjectID)
	}
	return t.unexportLocked(oid, releaseTrace)
}

func (t *Table) unexportLocked(oid int64, releaseTrace string) error {
	entry, ok := t.entries[oid]
	if !ok {
		return fmt.Errorf("%w: oid %d", ErrInvalidObjectID, oid)
	}

	entry.ReferenceCount--
	if entry.ReferenceCount > 0 {
		return nil
	}

	delete(t.entries, oid)
	delete(t.byObject, entry.Object)

	entry.ReleaseTrace = releaseTrace
	t.appendToLog(*entry)
	return nil
}

func (t *Table) appendToLog(entry Entry) {
	if t.logCap == 0 {
		return
	}
	if len(t.unexportLog) >= t.logCap {
		// Evict oldest.
		t.unexportLog = t.unexportLog[1:]
	}
	t.unexportLog = append(t.unexportLog, entry)
}

// Pin raises oid's reference count into a high-water range so that
// ordinary release traffic can never bring it back to zero. It is a
// no-op if the entry's count is already at or above pinCeiling (for
// example, because it was pinned before).
func (t *Table) Pin(oid int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[oid]
	if !ok {
		return fmt.Errorf("%w: oid %d", ErrInvalidObjectID, oid)
	}
	if entry.ReferenceCount < pinCeiling {
		entry.ReferenceCount += pinBias
	}
	return nil
}

// Abort propagates cause to every exported object implementing the
// dead-writer capability, then clears the table. Subsequent Get calls
// fail with ErrInvalidObjectID and the unexport log is discarded; once
// aborted, Export always fails.
func (t *Table) Abort(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		if dw, ok := entry.Object.(deadWriter); ok {
			dw.NotifyDead(cause)
		}
	}
	t.entries = make(map[int64]*Entry)
	t.byObject = make(map[any]int64)
	t.unexportLog = nil
	t.aborted = true
}

// Len returns the number of currently exported entries, for
// diagnostics and tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
