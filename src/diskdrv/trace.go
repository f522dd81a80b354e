package diskdrv

import "crypto/sha256"

// / WriteEvent_t records one committed sector write.
type WriteEvent_t struct {
	Sector int
	Sum    [sha256.Size]byte
}

// / Trace_t accumulates write events and flush markers, for diagnostics
// / rather than correctness: nothing in diskdrv or cache reads it back. Grounded on ufs driver's tracef_t, which the teacher's
// / ahci_disk_t optionally feeds from Start/BDEV_WRITE.
type Trace_t struct {
	events  []WriteEvent_t
	flushes int
}

func newTrace() *Trace_t {
	return &Trace_t{}
}

func (t *Trace_t) record(sec int, data []byte) {
	t.events = append(t.events, WriteEvent_t{Sector: sec, Sum: sha256.Sum256(data)})
}

func (t *Trace_t) sync() {
	t.flushes++
}

// / Events returns every recorded write, oldest first.
func (t *Trace_t) Events() []WriteEvent_t {
	return t.events
}

// / Flushes reports how many times Flush was called while tracing.
func (t *Trace_t) Flushes() int {
	return t.flushes
}
