package storage

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/internal/format"
)

var (
	errDegraded   = errors.New("medium degraded by exhausted format retries")
	errEmptyTable = errors.New("no placeholder entry left in table")
)

// Engine is the parameter store over one on-chip and one optional external
// medium. All methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex // serialises Init and Format, guards the masks
	log     *slog.Logger
	layouts [numMedia]Layout
	stores  [numMedia]*store

	enabled EnableMask
	inited  EnableMask
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithLayout overrides the layout of medium m.
func WithLayout(m Medium, l Layout) Option {
	return func(e *Engine) {
		if m.valid() {
			e.layouts[m] = l
		}
	}
}

// New creates an engine over the on-chip medium internal, which may be nil
// when only the external chip is used. Nothing touches flash until Init.
func New(internal flash.Device, opts ...Option) *Engine {
	e := &Engine{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		layouts: [numMedia]Layout{DefaultInternalLayout(), DefaultExternalLayout()},
	}
	for _, opt := range opts {
		opt(e)
	}
	for m := range e.stores {
		e.stores[m] = newStore(Medium(m), e.layouts[m], e.log)
	}
	e.stores[Internal].dev = internal
	return e
}

// Init establishes the layout on every medium enabled in mask. The external
// medium requires ext. A medium that fails keeps failing its operations;
// the others stay usable. Init may be called again to remount.
func (e *Engine) Init(mask EnableMask, ext *flash.ExtDevice) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if mask&EnableAll == 0 {
		return &Error{Op: "init", Code: CodeParam, Err: errors.New("no medium enabled")}
	}
	e.enabled = mask

	var errs []error
	for m := range e.stores {
		id := Medium(m)
		if !mask.Has(id) {
			continue
		}
		st := e.stores[m]
		st.mu.Lock()
		err := e.initStore(st, ext)
		st.mu.Unlock()
		if err != nil {
			e.inited &^= maskFor(id)
			e.log.Error("medium init failed", "medium", id.String(), "err", err)
			errs = append(errs, err)
			continue
		}
		e.inited |= maskFor(id)
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

func (e *Engine) initStore(st *store, ext *flash.ExtDevice) *Error {
	if st.degraded {
		return st.fail("init", CodeFormatExhausted, errDegraded)
	}
	st.ready = false
	if st.id == External {
		if err := st.attach(ext); err != nil {
			return err
		}
	}
	if st.dev == nil {
		return st.fail("init", st.notAvailable(), nil)
	}
	if err := st.layout.Validate(st.dev.Size(), st.dev.SectorSize()); err != nil {
		return st.fail("init", CodeParam, err)
	}
	return st.open()
}

// attach checks the external descriptor and identifies the chip.
func (st *store) attach(ext *flash.ExtDevice) *Error {
	switch {
	case ext == nil:
		return st.fail("init", CodeExtDevObj, nil)
	case ext.Bus != flash.BusSPI:
		return st.fail("init", CodeBusType, errors.New(ext.Bus.String()))
	case ext.Chip != flash.ChipW25Qxx:
		return st.fail("init", CodeModuleType, errors.New(ext.Chip.String()))
	case ext.Dev == nil:
		return st.fail("init", CodeBusInit, errors.New("no driver"))
	}
	if err := ext.CheckGeometry(); err != nil {
		return st.fail("init", CodeExtDevObj, err)
	}

	want := ext.ProductID()
	got := want
	if id, ok := ext.Dev.(flash.Identifier); ok {
		var err error
		for attempt := 1; attempt <= ReInitRetryLimit; attempt++ {
			if got, err = id.Identify(); err == nil {
				break
			}
			st.reinitCount++
			st.log.Warn("chip identification failed", "attempt", attempt, "err", err)
		}
		if err != nil {
			return st.fail("init", CodeModuleInit, err)
		}
	}
	st.product = got
	if got != want {
		return st.fail("init", CodeModuleType,
			errors.New("chip reports "+got.String()+", descriptor expects "+want.String()))
	}
	st.dev = ext.Dev
	st.log.Info("external chip identified", "product", got.String(), "size", ext.TotalSize)
	return nil
}

func (st *store) notAvailable() Code {
	if st.id == External {
		return CodeExternalNotAvailable
	}
	return CodeInternalNotAvailable
}

// usable fails operations on media that are not mounted. Callers hold st.mu.
func (st *store) usable(op string) *Error {
	switch {
	case st.degraded:
		return st.fail(op, CodeFormatExhausted, errDegraded)
	case !st.ready:
		return st.fail(op, st.notAvailable(), nil)
	}
	return nil
}

// Format erases and re-creates the layout of an initialised medium, losing
// every item on it.
func (e *Engine) Format(m Medium) error {
	if !m.valid() {
		return &Error{Op: "format", Medium: m, Code: CodeParam}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stores[m]
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.usable("format"); err != nil {
		return err
	}
	st.ready = false
	if err := st.formatWithRetry(st.layout.plan(st.id, st.dev.Size())); err != nil {
		e.inited &^= maskFor(m)
		return err
	}
	if err := st.open(); err != nil {
		e.inited &^= maskFor(m)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Item operations
// -----------------------------------------------------------------------------

// lookup validates medium and class and returns the store. The returned
// store is not locked.
func (e *Engine) lookup(op string, m Medium, c Class) (*store, *Error) {
	if !m.valid() {
		return nil, &Error{Op: op, Medium: m, Code: CodeParam}
	}
	st := e.stores[m]
	if !c.valid() {
		return nil, st.fail(op, CodeClass, nil)
	}
	return st, nil
}

// itemName encodes a user-supplied item name.
func (st *store) itemName(op, name string) (format.Name, *Error) {
	nm, err := format.EncodeName(name)
	if err != nil {
		return nm, st.fail(op, CodeParam, err)
	}
	if nm == format.AvailableItemName {
		return nm, st.fail(op, CodeParam, errors.New("reserved name"))
	}
	return nm, nil
}

// Search resolves a name to a handle. It returns InvalidHandle with
// ErrNameNotFound when the table was scanned cleanly, or with
// ErrTableCorrupt when corrupt entries were skipped on the way.
func (e *Engine) Search(m Medium, c Class, name string) (Handle, error) {
	st, fe := e.lookup("search", m, c)
	if fe != nil {
		return InvalidHandle, fe
	}
	nm, fe := st.itemName("search", name)
	if fe != nil {
		return InvalidHandle, fe
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if fe := st.usable("search"); fe != nil {
		return InvalidHandle, fe
	}
	idx, corrupt, err := st.search(st.sec(c), nm)
	switch {
	case err != nil:
		return InvalidHandle, st.fail("search", CodeRead, err)
	case idx >= 0:
		return makeHandle(m, c, idx), nil
	case corrupt > 0:
		return InvalidHandle, st.fail("search", CodeTableCorrupt, nil)
	default:
		return InvalidHandle, st.fail("search", CodeNameNotFound, nil)
	}
}

// Create stores a new item. It fails with ErrNameMatched when the name is
// already present.
func (e *Engine) Create(m Medium, c Class, name string, data []byte) (Handle, error) {
	return e.put("create", m, c, name, data, false)
}

// Put creates the item or supersedes its value.
func (e *Engine) Put(m Medium, c Class, name string, data []byte) (Handle, error) {
	return e.put("put", m, c, name, data, true)
}

func (e *Engine) put(op string, m Medium, c Class, name string, data []byte, replace bool) (Handle, error) {
	st, fe := e.lookup(op, m, c)
	if fe != nil {
		return InvalidHandle, fe
	}
	nm, fe := st.itemName(op, name)
	if fe != nil {
		return InvalidHandle, fe
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if fe := st.usable(op); fe != nil {
		return InvalidHandle, fe
	}
	s := st.sec(c)
	if fe := st.checkSize(op, s, data); fe != nil {
		return InvalidHandle, fe
	}
	idx, _, err := st.search(s, nm)
	if err != nil {
		return InvalidHandle, st.fail(op, CodeRead, err)
	}
	if idx >= 0 {
		if !replace {
			return InvalidHandle, st.fail(op, CodeNameMatched, nil)
		}
		old, fe := st.entry(op, s, idx)
		if fe != nil {
			return InvalidHandle, fe
		}
		if fe := st.update(op, s, idx, &old, data); fe != nil {
			return InvalidHandle, fe
		}
		return makeHandle(m, c, idx), nil
	}

	idx = s.firstAvailable()
	if idx < 0 {
		return InvalidHandle, st.fail(op, CodeNoEnoughSpace, errEmptyTable)
	}
	s.items[idx].Name = nm
	if fe := st.update(op, s, idx, nil, data); fe != nil {
		s.items[idx] = format.AvailableItem(uint8(c))
		return InvalidHandle, fe
	}
	return makeHandle(m, c, idx), nil
}

// Save atomically supersedes the value of the item behind h. Until the
// table entry is rewritten the old value stays authoritative, so an
// interrupted Save leaves either the old or the new value, never a mix.
func (e *Engine) Save(h Handle, data []byte) error {
	st, c, idx, fe := e.handle("save", h)
	if fe != nil {
		return fe
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, fe := st.resolve("save", c, idx)
	if fe != nil {
		return fe
	}
	if fe := st.checkSize("save", s, data); fe != nil {
		return fe
	}
	old, fe := st.live("save", s, idx)
	if fe != nil {
		return fe
	}
	return nilIfNone(st.update("save", s, idx, &old, data))
}

// Get copies the value behind h into p and returns its length. p must be
// at least as long as the stored value.
func (e *Engine) Get(h Handle, p []byte) (int, error) {
	st, c, idx, fe := e.handle("get", h)
	if fe != nil {
		return 0, fe
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, fe := st.resolve("get", c, idx)
	if fe != nil {
		return 0, fe
	}
	it, fe := st.live("get", s, idx)
	if fe != nil {
		return 0, fe
	}
	if len(p) < int(it.Len) {
		return 0, st.fail("get", CodeDataSizeOverrange,
			errors.New("buffer smaller than stored value"))
	}
	data, err := st.readChain(s, it)
	if err != nil {
		return 0, st.fail("get", chainCode(err), err)
	}
	return copy(p, data), nil
}

// Load returns a copy of the value behind h.
func (e *Engine) Load(h Handle) ([]byte, error) {
	st, c, idx, fe := e.handle("load", h)
	if fe != nil {
		return nil, fe
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, fe := st.resolve("load", c, idx)
	if fe != nil {
		return nil, fe
	}
	it, fe := st.live("load", s, idx)
	if fe != nil {
		return nil, fe
	}
	data, err := st.readChain(s, it)
	if err != nil {
		return nil, st.fail("load", chainCode(err), err)
	}
	return data, nil
}

// Size returns the stored length of the value behind h.
func (e *Engine) Size(h Handle) (int, error) {
	st, c, idx, fe := e.handle("size", h)
	if fe != nil {
		return 0, fe
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, fe := st.resolve("size", c, idx)
	if fe != nil {
		return 0, fe
	}
	it, fe := st.live("size", s, idx)
	if fe != nil {
		return 0, fe
	}
	return int(it.Len), nil
}

// Clear removes the item behind h and returns its slots to the free list.
func (e *Engine) Clear(h Handle) error {
	st, c, idx, fe := e.handle("clear", h)
	if fe != nil {
		return fe
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, fe := st.resolve("clear", c, idx)
	if fe != nil {
		return fe
	}
	old, fe := st.live("clear", s, idx)
	if fe != nil {
		return fe
	}
	if err := st.refresh(s); err != nil {
		return st.fail("clear", CodeFreeSlotUpdate, err)
	}
	ext, err := st.chainExtents(s, old)
	if err != nil {
		st.log.Warn("clearing item with broken chain", "class", s.class.String(), "index", idx, "err", err)
	}

	placeholder := format.AvailableItem(uint8(s.class))
	if err := st.writeEntry(s, idx, placeholder); err != nil && !st.entryIs(s, idx, placeholder) {
		return st.fail("clear", CodeDataAddrUpdate, err)
	}
	s.items[idx], s.bad[idx] = placeholder, false
	for _, x := range ext {
		s.free = releaseSpan(s.free, x)
	}
	if err != nil {
		s.stale = true
	}
	s.desc.ParaSize -= uint32(old.Len)
	s.desc.ParaNum--
	st.settle(s)
	st.log.Debug("item cleared", "class", s.class.String(), "name", old.Name.String())
	return nil
}

// handle decodes h. The section is resolved under the store lock.
func (e *Engine) handle(op string, h Handle) (*store, Class, int, *Error) {
	m, c, idx, ok := h.decode()
	if !ok {
		return nil, 0, 0, &Error{Op: op, Code: CodeInvalidHandle}
	}
	return e.stores[m], c, idx, nil
}

// resolve returns the section a handle points into. Callers hold st.mu.
func (st *store) resolve(op string, c Class, idx int) (*section, *Error) {
	if fe := st.usable(op); fe != nil {
		return nil, fe
	}
	s := st.sec(c)
	if idx >= s.desc.Items() {
		return nil, st.fail(op, CodeInvalidHandle, nil)
	}
	return s, nil
}

// entry re-reads a table entry from flash.
func (st *store) entry(op string, s *section, idx int) (format.Item, *Error) {
	it, err := st.readEntry(s, idx)
	if err != nil {
		var re readErr
		if errors.As(err, &re) {
			return it, st.fail(op, CodeRead, err)
		}
		return it, st.fail(op, CodeItemInfo, err)
	}
	return it, nil
}

// live re-reads a table entry and requires it to hold an item.
func (st *store) live(op string, s *section, idx int) (format.Item, *Error) {
	it, fe := st.entry(op, s, idx)
	if fe != nil {
		return it, fe
	}
	if it.IsAvailable() {
		return it, st.fail(op, CodeInvalidHandle, errors.New("entry holds no item"))
	}
	return it, nil
}

// entryIs reports whether the entry on flash decodes to want. It settles
// commits whose write reported an error after the data landed.
func (st *store) entryIs(s *section, idx int, want format.Item) bool {
	it, err := st.readEntry(s, idx)
	return err == nil && it == want
}

// checkSize bounds a payload by the record's length field and the
// section's data area.
func (st *store) checkSize(op string, s *section, data []byte) *Error {
	n := len(data)
	if n == 0 || n > format.MaxPayload || uint64(format.SlotExtent(format.Align4(uint32(n)))) > uint64(s.desc.DataSize) {
		return st.fail(op, CodeDataSizeOverrange, nil)
	}
	return nil
}

// update writes data as the new value of entry idx. old is the entry's
// current item, nil when the entry is a placeholder being claimed; the
// cached entry then already carries the new name.
//
// Order: plan, write and verify every fragment, commit the table entry,
// release the old chain, persist the free list, update the header. A
// failure before the commit restores the free list; a failure after it
// keeps the new value and is recorded as the medium's last error.
func (st *store) update(op string, s *section, idx int, old *format.Item, data []byte) *Error {
	if err := st.refresh(s); err != nil {
		return st.fail(op, CodeFreeSlotUpdate, err)
	}
	name := s.items[idx].Name
	var (
		oldExt    []span
		oldBroken bool
	)
	if old != nil {
		name = old.Name
		var err error
		if oldExt, err = st.chainExtents(s, *old); err != nil {
			oldBroken = true
			st.log.Warn("superseding item with broken chain", "class", s.class.String(), "index", idx, "err", err)
		}
	}

	frags, rest, err := planSlots(s.free, uint32(len(data)))
	if err != nil {
		return st.fail(op, CodeNoEnoughSpace, err)
	}
	if err := st.writeChain(name, frags, data); err != nil {
		st.rollback(s)
		return st.fail(op, CodeWrite, err)
	}
	it := format.Item{
		Class:    uint8(s.class),
		Name:     name,
		DataAddr: frags[0].addr,
		Len:      uint16(len(data)),
	}
	if err := st.writeEntry(s, idx, it); err != nil {
		if !st.entryIs(s, idx, it) {
			st.rollback(s)
			return st.fail(op, CodeDataAddrUpdate, err)
		}
		s.items[idx], s.bad[idx] = it, false
	}

	s.free = rest
	for _, x := range oldExt {
		s.free = releaseSpan(s.free, x)
	}
	if oldBroken {
		s.stale = true
	}
	if old != nil {
		s.desc.ParaSize -= uint32(old.Len)
	} else {
		s.desc.ParaNum++
	}
	s.desc.ParaSize += uint32(len(data))
	st.settle(s)
	st.log.Debug("item saved", "class", s.class.String(), "name", name.String(),
		"len", len(data), "fragments", len(frags), "addr", it.DataAddr)
	return nil
}

// rollback re-persists the unchanged free list after an aborted update;
// fragment writes may have overwritten node headers.
func (st *store) rollback(s *section) {
	s.onFlash = nil
	if err := st.persistFreeList(s); err != nil {
		s.stale = true
		st.log.Error("free list restore failed", "class", s.class.String(), "err", err)
	}
}

// settle persists everything that follows a committed table entry. Errors
// are recorded, not returned: the mutation itself has already happened.
func (st *store) settle(s *section) {
	if err := st.persistFreeList(s); err != nil {
		s.stale = true
		st.setLastErr(CodeFreeSlotUpdate)
		st.log.Error("free list update failed", "class", s.class.String(), "err", err)
	}
	if err := st.commitHeader(); err != nil {
		st.setLastErr(CodeBaseInfoUpdate)
		st.log.Error("flash info update failed", "err", err)
	}
	if err := st.sync(); err != nil {
		st.setLastErr(CodeWrite)
		st.log.Error("medium sync failed", "err", err)
	}
}

// nilIfNone keeps a nil *Error from becoming a non-nil error interface.
func nilIfNone(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
