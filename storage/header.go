package storage

import (
	"fmt"

	"github.com/joshuapare/paramkit/internal/format"
)

// Flash info header, stored twice, each copy in its own sector:
//
//	base + 0 sectors  copy A (even sequence numbers)
//	base + 1 sector   copy B (odd sequence numbers)
//
// A commit writes sequence n+1 into the copy that does not hold the current
// header. Rewriting a copy erases only its own sector, so a torn write
// always leaves the previous header intact. Mount adopts the valid copy
// with the highest sequence number.

func (l Layout) copyAddr(seq uint32) uint32 {
	return l.infoAddr(seq % format.InfoCopies)
}

// headerCopy is one decoded copy and why it was rejected, if it was.
type headerCopy struct {
	info format.Info
	err  error
}

// readHeaders returns both copies in A, B order.
func (st *store) readHeaders() ([2]headerCopy, error) {
	var out [2]headerCopy
	for i := range out {
		b, err := st.read(st.layout.infoAddr(uint32(i)), format.InfoSize)
		if err != nil {
			return out, err
		}
		out[i].info, out[i].err = format.DecodeInfo(b)
		if out[i].err == nil && out[i].info.Seq%2 != uint32(i) {
			out[i].err = fmt.Errorf("flash info: sequence %d in copy %c", out[i].info.Seq, 'A'+i)
		}
	}
	return out, nil
}

// pickHeader selects the newest valid copy whose geometry matches want.
// ok is false when neither copy qualifies and the medium needs a format.
func (st *store) pickHeader(copies [2]headerCopy, want format.Info) (format.Info, bool) {
	var (
		best  format.Info
		found bool
	)
	for i, c := range copies {
		switch {
		case c.err != nil:
			st.log.Debug("flash info copy rejected", "copy", string(rune('A'+i)), "err", c.err)
			continue
		case !c.info.SameGeometry(want):
			st.log.Info("flash info geometry differs from layout", "copy", string(rune('A'+i)))
			continue
		}
		if !found || c.info.Seq > best.Seq {
			best, found = c.info, true
		}
	}
	return best, found
}

// writeHeader programs in into the copy its sequence number selects. Header
// sectors hold nothing else, so the write bypasses the journal.
func (st *store) writeHeader(in format.Info) error {
	return st.programDirect(st.layout.copyAddr(in.Seq), in.Bytes())
}

// commitHeader persists st.info under the next sequence number. On failure
// the sequence does not advance, so the retry targets the same copy and the
// last good header survives.
func (st *store) commitHeader() error {
	next := st.info
	next.Seq++
	if err := st.writeHeader(next); err != nil {
		return err
	}
	st.info.Seq = next.Seq
	return nil
}
