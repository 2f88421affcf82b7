// Package storage implements a named-item parameter store directly on raw
// flash, for flight-controller configuration that has to survive power
// cycles and brown-outs.
//
// # Overview
//
// An Engine manages up to two media: the on-chip flash and an external SPI
// NOR chip (Winbond W25Qxx). Each medium is split into three classes of
// parameters (Boot, System, User); every class has its own item table and
// data area:
//
//	[info A][info B][journal][boot tab][boot data][sys tab][sys data][user tab][user data]
//
// The item table holds fixed 64-byte records naming each item and pointing
// at the first slot of its value. Values live in slots in the data area;
// a value that does not fit any single free region is split into a chain of
// slots. Unused space is tracked by a free list threaded through the data
// area itself.
//
// # Usage
//
//	eng := storage.New(dev, storage.WithLogger(log))
//	if err := eng.Init(storage.EnableInternal, nil); err != nil {
//	    return err
//	}
//	h, err := eng.Put(storage.Internal, storage.User, "pid_gains", gains)
//	...
//	n, err := eng.Get(h, buf)
//
// Search resolves a name to a Handle; Save, Get and Clear operate on a
// handle. Create, Put, Load, Size and List are conveniences over them.
//
// # Durability
//
// Every structure carries head and end sentinels and a CRC-16, and every
// write is read back before it counts. A Save writes the new slots first
// and then rewrites the item's table entry; the entry is the only commit
// point, so an interrupted Save leaves either the old value or the new one.
// The free list and the info header are updated after the commit. When a
// crash leaves them behind, mount detects the mismatch against the table
// and rebuilds the free list.
//
// The info header is stored twice, one copy per sector, and updated
// alternately, so a torn header write always leaves the previous copy
// readable.
//
// Raw NOR rewrites a whole sector to change a few bytes, and a cut between
// erase and program would take the rest of the sector with it. Table and
// data writes therefore go through a two-sector journal holding the new
// sector image; mount finishes any write the journal shows was torn.
//
// # Errors
//
// Every failure is an *Error carrying a Code. The Err* sentinels match by
// code:
//
//	if errors.Is(err, storage.ErrNoEnoughSpace) { ... }
//
// The most recent code per medium is also available from LastError and
// Monitor.
package storage
