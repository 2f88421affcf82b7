package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/internal/format"
)

const (
	testMemSize = 128 * 1024
	testSector  = 4096
)

// smallLayout gives every class one table sector and one 4 KiB data sector.
func smallLayout() Layout {
	return Layout{
		SectorSize: testSector,
		Sections: [numClasses]SectionLayout{
			Boot:   {TableSectors: 1, DataSectors: 1},
			System: {TableSectors: 1, DataSectors: 1},
			User:   {TableSectors: 1, DataSectors: 1},
		},
	}
}

func newMem() *flash.Mem { return flash.NewMem(testMemSize, testSector) }

// newNorMem models raw NOR: every write erases and reprograms whole sectors.
func newNorMem() *flash.Mem {
	return flash.NewMem(testMemSize, testSector, flash.WithSectorRewrite())
}

func newEngine(t *testing.T, dev flash.Device, opts ...Option) *Engine {
	t.Helper()
	eng := New(dev, opts...)
	require.NoError(t, eng.Init(EnableInternal, nil))
	return eng
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// requireConsistent checks that the free list of every section of m is
// disjoint from the live chains, that both cover the data area, and that
// the list on flash matches the cached one.
func requireConsistent(t *testing.T, eng *Engine, m Medium) {
	t.Helper()
	st := eng.stores[m]
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sections {
		live := st.collectExtents(s)
		require.NoError(t, checkConservation(s, live, s.free), "class %s", s.class)
		onFlash, _, err := st.loadFreeList(s)
		require.NoError(t, err, "class %s", s.class)
		require.ElementsMatch(t, s.free, onFlash, "class %s", s.class)
	}
}

func codeOf(t *testing.T, err error) Code {
	t.Helper()
	var se *Error
	require.True(t, errors.As(err, &se), "expected *storage.Error, got %T: %v", err, err)
	return se.Code
}

// slotAddr returns the first fragment address of the item behind h.
func slotAddr(t *testing.T, eng *Engine, h Handle) uint32 {
	t.Helper()
	m, c, idx, ok := h.decode()
	require.True(t, ok)
	st := eng.stores[m]
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sec(c).items[idx].DataAddr
}

// eraseJournal drops the journal record, so damage poked into the sector it
// names is not undone by the next mount.
func eraseJournal(mem *flash.Mem, st *store) {
	blank := make([]byte, format.JournalSectors*st.layout.SectorSize)
	for i := range blank {
		blank[i] = format.ErasedByte
	}
	mem.Poke(st.layout.journalAddr(), blank)
}

func flipByte(mem *flash.Mem, addr uint32) {
	b := mem.Bytes()[addr]
	mem.Poke(addr, []byte{^b})
}

// =============================================================================
// Basic operations
// =============================================================================

func TestEngine_PidGainsScenario(t *testing.T) {
	eng := newEngine(t, newMem(), WithLayout(Internal, smallLayout()))

	stats, err := eng.Stats(Internal)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), stats.Sections[User].DataSize)

	data := payload(64, 1)
	h, err := eng.Put(Internal, User, "pid_gains", data)
	require.NoError(t, err)

	found, err := eng.Search(Internal, User, "pid_gains")
	require.NoError(t, err)
	require.Equal(t, h, found)

	buf := make([]byte, 64)
	n, err := eng.Get(found, buf)
	require.NoError(t, err)
	require.Equal(t, 64, n)
	require.Equal(t, data, buf)

	require.NoError(t, eng.Clear(found))

	gone, err := eng.Search(Internal, User, "pid_gains")
	require.Equal(t, InvalidHandle, gone)
	require.ErrorIs(t, err, ErrNameNotFound)

	stats, err = eng.Stats(Internal)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), stats.Sections[User].FreeBytes)
	require.Equal(t, 1, stats.Sections[User].FreeNodes)
	require.Zero(t, stats.Sections[User].Items)
	requireConsistent(t, eng, Internal)
}

func TestEngine_RoundTripAcrossRemount(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	want := []struct {
		class Class
		name  string
		data  []byte
	}{
		{Boot, "board_id", payload(12, 1)},
		{System, "imu_cal", payload(300, 2)},
		{User, "pid_gains", payload(64, 3)},
		{User, "rates", payload(7, 4)},
	}
	for _, w := range want {
		_, err := eng.Put(Internal, w.class, w.name, w.data)
		require.NoError(t, err)
	}
	require.Equal(t, 1, eng.Monitor().Media[Internal].FormatCount)

	eng2 := newEngine(t, mem)
	mon := eng2.Monitor().Media[Internal]
	require.Zero(t, mon.FormatCount)
	require.Zero(t, mon.RebuildCount)

	for _, w := range want {
		h, err := eng2.Search(Internal, w.class, w.name)
		require.NoError(t, err, w.name)
		got, err := eng2.Load(h)
		require.NoError(t, err, w.name)
		require.Equal(t, w.data, got, w.name)
	}

	list, err := eng2.List(Internal, User)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.ElementsMatch(t, []string{"pid_gains", "rates"}, []string{list[0].Name, list[1].Name})

	stats, err := eng2.Stats(Internal)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Sections[User].Items)
	require.Equal(t, uint32(71), stats.Sections[User].UsedBytes)
	requireConsistent(t, eng2, Internal)
}

func TestEngine_SaveSupersedes(t *testing.T) {
	eng := newEngine(t, newMem())

	h, err := eng.Put(Internal, System, "mixer", payload(40, 1))
	require.NoError(t, err)

	for i, n := range []int{40, 200, 3, 1000, 41} {
		data := payload(n, byte(i))
		require.NoError(t, eng.Save(h, data))

		got, err := eng.Load(h)
		require.NoError(t, err)
		require.Equal(t, data, got)

		size, err := eng.Size(h)
		require.NoError(t, err)
		require.Equal(t, n, size)
		requireConsistent(t, eng, Internal)
	}

	h2, err := eng.Put(Internal, System, "mixer", payload(9, 9))
	require.NoError(t, err)
	require.Equal(t, h, h2, "Put on an existing name reuses its entry")
}

func TestEngine_CreateRejectsDuplicate(t *testing.T) {
	eng := newEngine(t, newMem())

	_, err := eng.Create(Internal, User, "osd_layout", payload(10, 1))
	require.NoError(t, err)

	_, err = eng.Create(Internal, User, "osd_layout", payload(10, 2))
	require.ErrorIs(t, err, ErrNameMatched)

	// Same name in another class is a different item.
	_, err = eng.Create(Internal, System, "osd_layout", payload(10, 3))
	require.NoError(t, err)
}

func TestEngine_NameValidation(t *testing.T) {
	eng := newEngine(t, newMem())

	for _, name := range []string{
		"",
		strings.Repeat("x", format.MaxNameLen+1),
		"bad\x01name",
		"del\x7f",
		format.AvailableName,
		"日本",
	} {
		_, err := eng.Search(Internal, User, name)
		require.ErrorIs(t, err, ErrParam, "%q", name)
		_, err = eng.Put(Internal, User, name, []byte{1})
		require.ErrorIs(t, err, ErrParam, "%q", name)
	}

	long := strings.Repeat("y", format.MaxNameLen)
	_, err := eng.Put(Internal, User, long, []byte{1})
	require.NoError(t, err)

	_, err = eng.Put(Internal, User, "température", []byte{2})
	require.NoError(t, err)
	h, err := eng.Search(Internal, User, "température")
	require.NoError(t, err)
	list, err := eng.List(Internal, User)
	require.NoError(t, err)
	require.Contains(t, []string{list[0].Name, list[1].Name}, "température")
	require.NotEqual(t, InvalidHandle, h)
}

func TestEngine_ParamErrors(t *testing.T) {
	eng := newEngine(t, newMem())

	_, err := eng.Search(Medium(5), User, "x")
	require.Equal(t, CodeParam, codeOf(t, err))

	_, err = eng.Search(Internal, Class(7), "x")
	require.Equal(t, CodeClass, codeOf(t, err))
	require.Equal(t, CodeClass, eng.LastError(Internal))

	_, err = eng.Get(InvalidHandle, make([]byte, 8))
	require.ErrorIs(t, err, ErrInvalidHandle)

	require.ErrorIs(t, eng.Save(Handle(0x1234), []byte{1}), ErrInvalidHandle)

	outOfRange := makeHandle(Internal, Boot, 0xFFFF)
	require.ErrorIs(t, eng.Clear(outOfRange), ErrInvalidHandle)

	require.Error(t, eng.Init(0, nil))
}

func TestEngine_ClearedHandleIsInvalid(t *testing.T) {
	eng := newEngine(t, newMem())

	h, err := eng.Put(Internal, User, "gps_cfg", payload(20, 1))
	require.NoError(t, err)
	require.NoError(t, eng.Clear(h))

	_, err = eng.Load(h)
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, eng.Clear(h), ErrInvalidHandle)
	require.ErrorIs(t, eng.Save(h, []byte{1}), ErrInvalidHandle)
	require.Equal(t, CodeInvalidHandle, eng.LastError(Internal))
}

func TestEngine_GetBufferTooSmall(t *testing.T) {
	eng := newEngine(t, newMem())

	h, err := eng.Put(Internal, User, "rc_map", payload(16, 1))
	require.NoError(t, err)

	_, err = eng.Get(h, make([]byte, 15))
	require.ErrorIs(t, err, ErrSizeOverrange)

	buf := make([]byte, 32)
	n, err := eng.Get(h, buf)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, payload(16, 1), buf[:n])
}

func TestEngine_NotInitialised(t *testing.T) {
	eng := New(newMem())

	_, err := eng.Search(Internal, User, "x")
	require.Equal(t, CodeInternalNotAvailable, codeOf(t, err))

	_, err = eng.Stats(External)
	require.Equal(t, CodeExternalNotAvailable, codeOf(t, err))

	require.Equal(t, CodeInternalNotAvailable, codeOf(t, New(nil).Init(EnableInternal, nil)))
}

// =============================================================================
// Capacity
// =============================================================================

func TestEngine_SizeLimits(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	_, err := eng.Put(Internal, Boot, "empty", nil)
	require.ErrorIs(t, err, ErrSizeOverrange)

	_, err = eng.Put(Internal, User, "huge", make([]byte, format.MaxPayload+1))
	require.ErrorIs(t, err, ErrSizeOverrange)

	// The boot data area is one 4 KiB sector.
	_, err = eng.Put(Internal, Boot, "too_big", make([]byte, 4096-format.SlotOverhead+1))
	require.ErrorIs(t, err, ErrSizeOverrange)

	full, err := eng.Put(Internal, Boot, "exact", payload(4096-format.SlotOverhead, 1))
	require.NoError(t, err)

	stats, err := eng.Stats(Internal)
	require.NoError(t, err)
	require.Zero(t, stats.Sections[Boot].FreeBytes)
	require.Zero(t, stats.Sections[Boot].FreeNodes)

	writes := mem.Writes()
	_, err = eng.Put(Internal, Boot, "one_more", []byte{1})
	require.ErrorIs(t, err, ErrNoEnoughSpace)
	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, KindCapacity, se.Kind())
	require.Equal(t, writes, mem.Writes(), "no flash write before a failed plan")

	// Survives a remount with an empty free list.
	eng2 := newEngine(t, mem)
	got, err := eng2.Load(full)
	require.NoError(t, err)
	require.Equal(t, payload(4096-format.SlotOverhead, 1), got)
	requireConsistent(t, eng2, Internal)

	require.NoError(t, eng2.Clear(full))
	stats, err = eng2.Stats(Internal)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), stats.Sections[Boot].FreeBytes)
}

func TestEngine_TableFull(t *testing.T) {
	layout := Layout{
		SectorSize: 512,
		Sections: [numClasses]SectionLayout{
			Boot:   {TableSectors: 1, DataSectors: 4},
			System: {TableSectors: 1, DataSectors: 4},
			User:   {TableSectors: 1, DataSectors: 4},
		},
	}
	eng := newEngine(t, flash.NewMem(16384, 512), WithLayout(Internal, layout))

	for i := 0; i < 512/format.ItemSize; i++ {
		_, err := eng.Create(Internal, User, fmt.Sprintf("p%d", i), []byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := eng.Create(Internal, User, "overflow", []byte{1})
	require.ErrorIs(t, err, ErrNoEnoughSpace)
	requireConsistent(t, eng, Internal)
}

func TestEngine_FragmentationChains(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem, WithLayout(Internal, smallLayout()))

	handles := map[string]Handle{}
	for i, name := range []string{"a", "b", "c", "d"} {
		h, err := eng.Create(Internal, User, name, payload(900, byte(i)))
		require.NoError(t, err)
		handles[name] = h
	}
	require.NoError(t, eng.Clear(handles["b"]))
	require.NoError(t, eng.Clear(handles["d"]))

	stats, err := eng.Stats(Internal)
	require.NoError(t, err)
	user := stats.Sections[User]
	require.Equal(t, uint32(1204+964), user.FreeBytes)
	require.Equal(t, uint32(1204), user.LargestFree)

	big := payload(1500, 42)
	h, err := eng.Create(Internal, User, "big", big)
	require.NoError(t, err)

	got, err := eng.Load(h)
	require.NoError(t, err)
	require.Equal(t, big, got)

	st := eng.stores[Internal]
	_, _, idx, _ := h.decode()
	ext, err := st.chainExtents(st.sec(User), st.sec(User).items[idx])
	require.NoError(t, err)
	require.Len(t, ext, 2)
	requireConsistent(t, eng, Internal)

	eng2 := newEngine(t, mem, WithLayout(Internal, smallLayout()))
	got, err = eng2.Load(h)
	require.NoError(t, err)
	require.Equal(t, big, got)
	for _, name := range []string{"a", "c"} {
		got, err := eng2.Load(handles[name])
		require.NoError(t, err)
		require.Len(t, got, 900)
	}

	require.NoError(t, eng2.Clear(h))
	stats, err = eng2.Stats(Internal)
	require.NoError(t, err)
	require.Equal(t, uint32(4096-2*964), stats.Sections[User].FreeBytes)
	requireConsistent(t, eng2, Internal)
}

// =============================================================================
// Durability
// =============================================================================

func TestEngine_PowerLossBeforeCommit(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	v1 := payload(100, 1)
	h, err := eng.Put(Internal, User, "pid", v1)
	require.NoError(t, err)

	// The new slot lands, the table entry's journal record does not.
	mem.CutPowerAfter(2)
	err = eng.Save(h, payload(200, 2))
	require.Error(t, err)
	require.Equal(t, CodeDataAddrUpdate, codeOf(t, err))
	mem.Restore()

	eng2 := newEngine(t, mem)
	got, err := eng2.Load(h)
	require.NoError(t, err)
	require.Equal(t, v1, got)
	require.Zero(t, eng2.Monitor().Media[Internal].RebuildCount)
	requireConsistent(t, eng2, Internal)

	// The engine that saw the failure recovers on its next mutation.
	got, err = eng.Load(h)
	require.NoError(t, err)
	require.Equal(t, v1, got)
	v3 := payload(150, 3)
	require.NoError(t, eng.Save(h, v3))
	got, err = eng.Load(h)
	require.NoError(t, err)
	require.Equal(t, v3, got)
	requireConsistent(t, eng, Internal)
}

func TestEngine_PowerLossAfterCommit(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	h, err := eng.Put(Internal, User, "pid", payload(100, 1))
	require.NoError(t, err)

	// Slot and table entry land; the free list and header updates do not.
	v2 := payload(200, 2)
	mem.CutPowerAfter(4)
	require.NoError(t, eng.Save(h, v2))
	require.NotEqual(t, CodeNone, eng.LastError(Internal))
	mem.Restore()

	eng2 := newEngine(t, mem)
	got, err := eng2.Load(h)
	require.NoError(t, err)
	require.Equal(t, v2, got)
	require.Equal(t, 1, eng2.Monitor().Media[Internal].RebuildCount)
	requireConsistent(t, eng2, Internal)

	_, err = eng2.Put(Internal, User, "after", payload(30, 3))
	require.NoError(t, err)
	requireConsistent(t, eng2, Internal)
}

func TestEngine_PowerLossDuringEntryWrite(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	h, err := eng.Put(Internal, User, "pid", payload(100, 1))
	require.NoError(t, err)

	// The entry's journal record lands, the entry itself does not.
	v2 := payload(200, 2)
	mem.CutPowerAfter(3)
	err = eng.Save(h, v2)
	require.Equal(t, CodeDataAddrUpdate, codeOf(t, err))
	mem.Restore()

	eng2 := newEngine(t, mem)
	mon := eng2.Monitor().Media[Internal]
	require.Equal(t, 1, mon.ReplayCount)
	require.Zero(t, mon.FormatCount)
	got, err := eng2.Load(h)
	require.NoError(t, err)
	require.Equal(t, v2, got)
	requireConsistent(t, eng2, Internal)

	// A second mount finds the journal already applied.
	eng3 := newEngine(t, mem)
	require.Zero(t, eng3.Monitor().Media[Internal].ReplayCount)
}

func TestEngine_PowerLossAtEveryWrite(t *testing.T) {
	base := newMem()
	eng := newEngine(t, base)
	h, err := eng.Put(Internal, System, "acc_cal", payload(120, 1))
	require.NoError(t, err)
	snapshot := base.Bytes()

	v2 := payload(700, 2)
	for cut := 0; cut < 16; cut++ {
		mem := newMem()
		mem.Poke(0, snapshot)

		e := newEngine(t, mem)
		mem.CutPowerAfter(cut)
		_ = e.Save(h, v2)
		mem.Restore()

		e2 := newEngine(t, mem)
		got, err := e2.Load(h)
		require.NoError(t, err, "cut after %d writes", cut)
		if !bytes.Equal(got, v2) {
			require.Equal(t, payload(120, 1), got, "cut after %d writes", cut)
		}
		requireConsistent(t, e2, Internal)
	}
}

func TestEngine_PowerLossAtEverySectorCycle(t *testing.T) {
	base := newNorMem()
	eng := newEngine(t, base)

	type stored struct {
		h    Handle
		data []byte
	}
	others := map[string]stored{}
	for i, p := range []struct {
		class Class
		name  string
		n     int
	}{
		{Boot, "board_id", 16},
		{System, "acc_cal", 120},
		{System, "mag_cal", 96},
		{User, "rates", 300},
		{User, "osd", 40},
	} {
		data := payload(p.n, byte(i+10))
		h, err := eng.Put(Internal, p.class, p.name, data)
		require.NoError(t, err)
		others[p.name] = stored{h, data}
	}
	v1 := payload(200, 1)
	h, err := eng.Put(Internal, System, "gyro_cal", v1)
	require.NoError(t, err)
	snapshot := base.Bytes()

	v2 := payload(700, 2)
	sawNew := false
	for cut := 0; cut < 32; cut++ {
		mem := newNorMem()
		mem.Poke(0, snapshot)

		e := newEngine(t, mem)
		mem.CutPowerAfter(cut)
		_ = e.Save(h, v2)
		mem.Restore()

		e2 := newEngine(t, mem)
		require.Zero(t, e2.Monitor().Media[Internal].FormatCount, "cut after %d cycles", cut)
		got, err := e2.Load(h)
		require.NoError(t, err, "cut after %d cycles", cut)
		if bytes.Equal(got, v2) {
			sawNew = true
		} else {
			require.Equal(t, v1, got, "cut after %d cycles", cut)
		}
		for name, o := range others {
			got, err := e2.Load(o.h)
			require.NoError(t, err, "%s, cut after %d cycles", name, cut)
			require.Equal(t, o.data, got, "%s, cut after %d cycles", name, cut)
		}
		requireConsistent(t, e2, Internal)
	}
	require.True(t, sawNew)
}

func TestEngine_CorruptionDetected(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	h, err := eng.Put(Internal, System, "imu_cal", payload(300, 3))
	require.NoError(t, err)
	addr := slotAddr(t, eng, h)
	extent := format.SlotExtent(300)

	for off := uint32(0); off < extent; off++ {
		flipByte(mem, addr+off)
		_, err := eng.Load(h)
		require.Error(t, err, "flip at slot offset 0x%X", off)
		var se *Error
		require.True(t, errors.As(err, &se))
		require.Equal(t, KindCorrupt, se.Kind(), "flip at slot offset 0x%X", off)
		flipByte(mem, addr+off)
	}

	flipByte(mem, addr+format.SlotPayloadOffset+10)
	_, err = eng.Load(h)
	require.ErrorIs(t, err, ErrCRC)
	flipByte(mem, addr+format.SlotPayloadOffset+10)

	got, err := eng.Load(h)
	require.NoError(t, err)
	require.Equal(t, payload(300, 3), got)

	// Damage past the first fragment of a chain is caught as well.
	cmem := newMem()
	ceng := newEngine(t, cmem, WithLayout(Internal, smallLayout()))
	var cleared []Handle
	for i, name := range []string{"a", "b", "c", "d"} {
		h, err := ceng.Create(Internal, User, name, payload(900, byte(i)))
		require.NoError(t, err)
		if name == "b" || name == "d" {
			cleared = append(cleared, h)
		}
	}
	for _, g := range cleared {
		require.NoError(t, ceng.Clear(g))
	}
	big := payload(1500, 42)
	ch, err := ceng.Create(Internal, User, "big", big)
	require.NoError(t, err)

	first, err := format.DecodeSlotHeader(cmem.Bytes()[slotAddr(t, ceng, ch):])
	require.NoError(t, err)
	require.NotEqual(t, uint32(format.NoAddr), first.Next)
	second, err := format.DecodeSlotHeader(cmem.Bytes()[first.Next:])
	require.NoError(t, err)

	for off := uint32(0); off < second.Extent(); off++ {
		flipByte(cmem, first.Next+off)
		_, err := ceng.Load(ch)
		require.Error(t, err, "flip at second fragment offset 0x%X", off)
		var se *Error
		require.True(t, errors.As(err, &se))
		require.Equal(t, KindCorrupt, se.Kind(), "flip at second fragment offset 0x%X", off)
		flipByte(cmem, first.Next+off)
	}
	got, err = ceng.Load(ch)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestEngine_CorruptEntry(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)

	h, err := eng.Put(Internal, User, "vtx", payload(8, 1))
	require.NoError(t, err)

	st := eng.stores[Internal]
	_, _, idx, _ := h.decode()
	entry := st.sec(User).entryAddr(idx)
	flipByte(mem, entry+format.ItemDataAddrOffset)

	_, err = eng.Load(h)
	require.ErrorIs(t, err, ErrItemInfo)

	_, err = eng.Search(Internal, User, "vtx")
	require.ErrorIs(t, err, ErrTableCorrupt)
	require.Equal(t, CodeTableCorrupt, eng.LastError(Internal))

	// Other names still resolve past the corrupt entry.
	_, err = eng.Put(Internal, User, "osd", payload(8, 2))
	require.NoError(t, err)
	_, err = eng.Search(Internal, User, "osd")
	require.NoError(t, err)

	eng2 := newEngine(t, mem)
	stats, err := eng2.Stats(Internal)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sections[User].BadEntries)
	requireConsistent(t, eng2, Internal)
}

func TestEngine_HeaderFallback(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)
	h, err := eng.Put(Internal, User, "pid", payload(50, 1))
	require.NoError(t, err)

	seq := eng.Monitor().Media[Internal].Info.Seq
	require.GreaterOrEqual(t, seq, uint32(2))
	flipByte(mem, eng.stores[Internal].layout.copyAddr(seq)+format.InfoDataSizeOffset)

	eng2 := newEngine(t, mem)
	mon := eng2.Monitor().Media[Internal]
	require.Zero(t, mon.FormatCount)
	got, err := eng2.Load(h)
	require.NoError(t, err)
	require.Equal(t, payload(50, 1), got)
	requireConsistent(t, eng2, Internal)

	// With both copies gone the medium is formatted.
	flipByte(mem, format.InfoSeqOffset)
	flipByte(mem, testSector+format.InfoSeqOffset)
	eng3 := newEngine(t, mem)
	require.Equal(t, 1, eng3.Monitor().Media[Internal].FormatCount)
	_, err = eng3.Search(Internal, User, "pid")
	require.ErrorIs(t, err, ErrNameNotFound)
}

func TestEngine_LayoutChangeFormats(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)
	_, err := eng.Put(Internal, User, "pid", payload(50, 1))
	require.NoError(t, err)

	eng2 := newEngine(t, mem, WithLayout(Internal, smallLayout()))
	require.Equal(t, 1, eng2.Monitor().Media[Internal].FormatCount)
	_, err = eng2.Search(Internal, User, "pid")
	require.ErrorIs(t, err, ErrNameNotFound)
}

func TestEngine_FreeListRebuiltAtMount(t *testing.T) {
	mem := newMem()
	eng := newEngine(t, mem)
	a, err := eng.Put(Internal, User, "a", payload(64, 1))
	require.NoError(t, err)
	b, err := eng.Put(Internal, User, "b", payload(128, 2))
	require.NoError(t, err)

	st := eng.stores[Internal]
	eraseJournal(mem, st)
	mem.Poke(st.sec(User).desc.FreeAddr, []byte{0, 0, 0, 0})

	eng2 := newEngine(t, mem)
	require.Equal(t, 1, eng2.Monitor().Media[Internal].RebuildCount)
	for h, want := range map[Handle][]byte{a: payload(64, 1), b: payload(128, 2)} {
		got, err := eng2.Load(h)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	requireConsistent(t, eng2, Internal)

	_, err = eng2.Put(Internal, User, "c", payload(500, 3))
	require.NoError(t, err)
	requireConsistent(t, eng2, Internal)

	eng3 := newEngine(t, mem)
	require.Zero(t, eng3.Monitor().Media[Internal].RebuildCount)
}

// =============================================================================
// Init
// =============================================================================

func TestEngine_FormatRetriesExhausted(t *testing.T) {
	mem := newMem()
	mem.FailErases(FormatRetryLimit)

	eng := New(mem)
	err := eng.Init(EnableInternal, nil)
	require.ErrorIs(t, err, ErrFormatExhausted)
	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, KindFatal, se.Kind())

	mon := eng.Monitor()
	require.Equal(t, FormatRetryLimit, mon.Media[Internal].FormatCount)
	require.True(t, mon.Media[Internal].Degraded)
	require.Zero(t, mon.Initialized)

	// Degradation is terminal for this engine: no further erase is tried.
	erases := mem.Erases()
	require.ErrorIs(t, eng.Init(EnableInternal, nil), ErrFormatExhausted)
	require.Equal(t, erases, mem.Erases())
	require.Equal(t, FormatRetryLimit, eng.Monitor().Media[Internal].FormatCount)

	_, err = eng.Search(Internal, User, "x")
	require.ErrorIs(t, err, ErrFormatExhausted)
}

func TestEngine_FormatSucceedsOnLastAttempt(t *testing.T) {
	mem := newMem()
	mem.FailErases(FormatRetryLimit - 1)

	eng := newEngine(t, mem)
	mon := eng.Monitor()
	require.Equal(t, FormatRetryLimit, mon.Media[Internal].FormatCount)
	require.False(t, mon.Media[Internal].Degraded)
	require.Equal(t, EnableInternal, mon.Initialized)
}

func TestEngine_ExplicitFormat(t *testing.T) {
	eng := newEngine(t, newMem())
	_, err := eng.Put(Internal, User, "pid", payload(50, 1))
	require.NoError(t, err)

	require.NoError(t, eng.Format(Internal))
	require.Equal(t, 2, eng.Monitor().Media[Internal].FormatCount)

	_, err = eng.Search(Internal, User, "pid")
	require.ErrorIs(t, err, ErrNameNotFound)
	requireConsistent(t, eng, Internal)
}

func newW25Q(t *testing.T, reported flash.ProductID) (*flash.Mem, *flash.ExtDevice) {
	t.Helper()
	mem := flash.NewMem(2<<20, 4096, flash.WithProductID(reported))
	ext, err := flash.W25QDevice(flash.W25Q16, mem)
	require.NoError(t, err)
	return mem, ext
}

var w25q16ID = flash.ProductID{Type: flash.WinbondManufacturer, Code: flash.W25Q16}

func TestEngine_ExternalMedium(t *testing.T) {
	_, ext := newW25Q(t, w25q16ID)

	eng := New(nil)
	require.NoError(t, eng.Init(EnableExternal, ext))

	h, err := eng.Put(External, User, "blackbox_cfg", payload(2000, 5))
	require.NoError(t, err)
	got, err := eng.Load(h)
	require.NoError(t, err)
	require.Equal(t, payload(2000, 5), got)

	mon := eng.Monitor()
	require.Equal(t, EnableExternal, mon.Initialized)
	require.Equal(t, w25q16ID, mon.Media[External].Product)
	require.Equal(t, format.ExternalTag, mon.Media[External].Info.TagString())
	requireConsistent(t, eng, External)

	_, err = eng.Search(Internal, User, "blackbox_cfg")
	require.Equal(t, CodeInternalNotAvailable, codeOf(t, err))
}

func TestEngine_ExternalDescriptorErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*flash.ExtDevice) *flash.ExtDevice
		want   Code
	}{
		{"missing descriptor", func(*flash.ExtDevice) *flash.ExtDevice { return nil }, CodeExtDevObj},
		{"bus", func(d *flash.ExtDevice) *flash.ExtDevice { d.Bus = flash.BusNone; return d }, CodeBusType},
		{"chip", func(d *flash.ExtDevice) *flash.ExtDevice { d.Chip = flash.ChipNone; return d }, CodeModuleType},
		{"driver", func(d *flash.ExtDevice) *flash.ExtDevice { d.Dev = nil; return d }, CodeBusInit},
		{"geometry", func(d *flash.ExtDevice) *flash.ExtDevice { d.SectorNum--; return d }, CodeExtDevObj},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ext := newW25Q(t, w25q16ID)
			eng := New(nil)
			err := eng.Init(EnableExternal, tt.mutate(ext))
			require.Equal(t, tt.want, codeOf(t, err))
			require.Equal(t, KindBus, codeOf(t, err).Kind())
			require.Equal(t, tt.want, eng.LastError(External))
			require.Zero(t, eng.Monitor().Media[External].FormatCount)
		})
	}
}

func TestEngine_ExternalIdentifyRetries(t *testing.T) {
	mem, ext := newW25Q(t, w25q16ID)
	mem.FailIdentify(ReInitRetryLimit)

	eng := New(nil)
	err := eng.Init(EnableExternal, ext)
	require.ErrorIs(t, err, ErrModuleInit)
	mon := eng.Monitor().Media[External]
	require.Equal(t, ReInitRetryLimit, mon.ReInitCount)
	require.Zero(t, mon.FormatCount)

	mem.FailIdentify(ReInitRetryLimit - 1)
	eng = New(nil)
	require.NoError(t, eng.Init(EnableExternal, ext))
	require.Equal(t, ReInitRetryLimit-1, eng.Monitor().Media[External].ReInitCount)
}

func TestEngine_ExternalChipMismatch(t *testing.T) {
	_, ext := newW25Q(t, flash.ProductID{Type: flash.WinbondManufacturer, Code: flash.W25Q64})

	eng := New(nil)
	err := eng.Init(EnableExternal, ext)
	require.ErrorIs(t, err, ErrModuleType)
	require.False(t, errors.Is(err, ErrFormatExhausted))

	mon := eng.Monitor().Media[External]
	require.Zero(t, mon.FormatCount)
	require.Zero(t, mon.ReInitCount)
	require.False(t, mon.Degraded)
}

func TestEngine_PartialInit(t *testing.T) {
	_, ext := newW25Q(t, flash.ProductID{Type: 0x01, Code: 0x02})

	eng := New(newMem())
	err := eng.Init(EnableAll, ext)
	require.ErrorIs(t, err, ErrModuleType)

	mon := eng.Monitor()
	require.Equal(t, EnableAll, mon.Enabled)
	require.Equal(t, EnableInternal, mon.Initialized)

	_, err = eng.Put(Internal, Boot, "still_works", []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = eng.Put(External, Boot, "not_here", []byte{1})
	require.Equal(t, CodeExternalNotAvailable, codeOf(t, err))
}

// =============================================================================
// Concurrency
// =============================================================================

func TestEngine_ConcurrentAccess(t *testing.T) {
	eng := newEngine(t, newMem())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("worker_%d", w)
			for i := 0; i < 20; i++ {
				data := payload(16+i*4, byte(w))
				h, err := eng.Put(Internal, User, name, data)
				if !assert.NoError(t, err) {
					return
				}
				got, err := eng.Load(h)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, data, got)
				_, _ = eng.Stats(Internal)
			}
		}(w)
	}
	wg.Wait()

	list, err := eng.List(Internal, User)
	require.NoError(t, err)
	require.Len(t, list, 4)
	requireConsistent(t, eng, Internal)
}
