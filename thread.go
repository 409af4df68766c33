package one

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/onelib-go/one/internal/supervise"
)

// ThreadGroup coordinates several Writers producing one logical output
// file in parallel: a master (peer 0) that owns the real output stream,
// and N-1 slaves that each buffer their data lines into a hidden temp
// file. Every peer trains codecs through one shared sharedTrainer, so
// training itself is already merged by the time Close runs; Close's job
// is to fold each peer's counters into the master's and append each
// slave's data bytes after the master's, shifting their object/group
// index entries by the running byte and object offsets.
type ThreadGroup struct {
	master *Writer
	slaves []*Writer
	temps  []*os.File
	hub    *sharedTrainer
}

// sharedTrainer is the trainer every peer of a ThreadGroup routes codec
// training through, one per line type per field/list slot: the peer
// whose contribution brings the pooled histogram across the threshold
// builds the codec under lock,
// and every peer (including ones that observe it later) reads back the
// same *HuffmanCodec instance, so every thread writes under a single,
// identical codec once training completes.
type sharedTrainer struct {
	mu        sync.Mutex
	threshold uint64
	bigEndian bool
	field     map[byte]*HuffmanCodec
	list      map[byte]*HuffmanCodec
}

func newSharedTrainer(bigEndian bool, threshold uint64) *sharedTrainer {
	return &sharedTrainer{
		threshold: threshold,
		bigEndian: bigEndian,
		field:     make(map[byte]*HuffmanCodec),
		list:      make(map[byte]*HuffmanCodec),
	}
}

// trainField accumulates data into the shared field codec for sym and
// returns it once built, or nil while training is still in progress.
func (t *sharedTrainer) trainField(sym byte, data []byte) (*HuffmanCodec, error) {
	return t.train(t.field, sym, data)
}

// trainList is trainField's counterpart for list payload codecs.
func (t *sharedTrainer) trainList(sym byte, data []byte) (*HuffmanCodec, error) {
	return t.train(t.list, sym, data)
}

func (t *sharedTrainer) train(bucket map[byte]*HuffmanCodec, sym byte, data []byte) (*HuffmanCodec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vc := bucket[sym]
	if vc == nil {
		vc = NewHuffmanCodec(t.bigEndian)
		bucket[sym] = vc
	}
	if vc.state >= huffCoded {
		return vc, nil
	}
	if err := vc.ObserveAndMaybeBuild(data, t.threshold); err != nil {
		return nil, err
	}
	if vc.state >= huffCoded {
		return vc, nil
	}
	return nil, nil
}

// NewThreadGroup opens a master Writer over w plus nPeers-1 slave Writers
// over hidden temp files, all sharing one schema, training threshold, and
// codec trainer.
func NewThreadGroup(w io.Writer, schema *Schema, primary string, binaryMode, bigEndian bool, nPeers int, threshold uint64) (*ThreadGroup, error) {
	if nPeers < 1 {
		return nil, newErr(KindProtocol, 0, "thread group needs at least one peer")
	}
	hub := newSharedTrainer(bigEndian, threshold)
	master, err := NewWriter(w, schema, primary, binaryMode, bigEndian)
	if err != nil {
		return nil, err
	}
	master.SetTrainingThreshold(threshold)
	master.codecHub = hub
	tg := &ThreadGroup{master: master, hub: hub}
	for i := 1; i < nPeers; i++ {
		f, err := os.CreateTemp("", fmt.Sprintf("one-%d-peer%d-*.tmp", os.Getpid(), i))
		if err != nil {
			tg.cleanup()
			return nil, newErr(KindResource, 0, "creating slave temp file: %v", err)
		}
		sw, err := NewWriter(f, schema, primary, binaryMode, bigEndian)
		if err != nil {
			tg.cleanup()
			return nil, err
		}
		sw.SetTrainingThreshold(threshold)
		sw.codecHub = hub
		// Only the master emits a header; a slave's temp file holds data
		// lines alone, so its writer starts as if its header were already
		// out rather than ever writing one.
		sw.headerWritten = true
		tg.slaves = append(tg.slaves, sw)
		tg.temps = append(tg.temps, f)
	}
	return tg, nil
}

func (tg *ThreadGroup) cleanup() {
	for _, f := range tg.temps {
		f.Close()
		os.Remove(f.Name())
	}
}

// Writer returns the i'th peer's Writer: 0 is the master, which owns the
// real header and footer; the rest are slaves writing hidden temp files.
func (tg *ThreadGroup) Writer(i int) *Writer {
	if i == 0 {
		return tg.master
	}
	return tg.slaves[i-1]
}

// WriteHeader writes the shared header once, through the master only.
// Slaves never write their own header: they contribute only data lines.
func (tg *ThreadGroup) WriteHeader() error { return tg.master.WriteHeader() }

// Close merges every slave's data into the master and finalizes the
// master's stream. Codec training already happened live through the
// shared trainer (see sharedTrainer), so Close's own job is: flush the
// slave temp files, adopt into the master whichever codecs the trainer
// finished building (the master's own counters may never have crossed
// the threshold locally even though the pooled total did), then copy
// each slave's data bytes into the master in ascending peer order.
func (tg *ThreadGroup) Close(ctx context.Context) error {
	defer tg.cleanup()

	fns := make([]func(context.Context) error, len(tg.temps))
	for i, f := range tg.temps {
		f := f
		fns[i] = func(context.Context) error { return f.Sync() }
	}
	if err := supervise.Run(ctx, fns...); err != nil {
		return err
	}

	tg.hub.mu.Lock()
	for sym, vc := range tg.hub.field {
		if vc.state >= huffCoded {
			if mli := tg.master.fs.lineInfoFor(sym); mli != nil {
				mli.fieldCodec = vc
			}
		}
	}
	for sym, vc := range tg.hub.list {
		if vc.state >= huffCoded {
			if mli := tg.master.fs.lineInfoFor(sym); mli != nil {
				mli.listCodec = vc
			}
		}
	}
	tg.hub.mu.Unlock()

	// Close out the master's own trailing open group using only its own
	// totals before slave counts are folded in below: Finalize's own
	// updateGroupCounts(false) call runs after the merge and would
	// otherwise mistake the newly-added slave totals for part of the
	// master's last group.
	tg.master.fs.updateGroupCounts(false)

	byteOffset := tg.master.out.n
	objOffset := tg.master.fs.objectCount
	for i, sw := range tg.slaves {
		sw.fs.updateGroupCounts(false)
		f := tg.temps[i]
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return newErr(KindResource, 0, "rewinding slave temp file: %v", err)
		}
		n, err := io.Copy(tg.master.out, f)
		if err != nil {
			return newErr(KindResource, 0, "merging slave data: %v", err)
		}
		for _, off := range sw.fs.objectIndex {
			tg.master.fs.objectIndex = append(tg.master.fs.objectIndex, off+byteOffset)
		}
		for _, obj := range sw.fs.groupIndex {
			tg.master.fs.groupIndex = append(tg.master.fs.groupIndex, obj+objOffset)
		}
		tg.master.fs.objectCount += sw.fs.objectCount
		tg.master.fs.groupCount += sw.fs.groupCount
		for sym, sli := range sw.fs.lines {
			if mli := tg.master.fs.lineInfoFor(sym); mli != nil {
				mli.count += sli.count
				mli.total += sli.total
				if sli.max > mli.max {
					mli.max = sli.max
				}
				// Per-group maxima merge as a plain max-of-maxima,
				// which does not account for a group straddling the
				// boundary between two peers: callers are expected to
				// partition work on group boundaries.
				if sli.groupCountMax > mli.groupCountMax {
					mli.groupCountMax = sli.groupCountMax
				}
				if sli.groupTotalMax > mli.groupTotalMax {
					mli.groupTotalMax = sli.groupTotalMax
				}
				// the slave's groups are already folded into the maxima
				// above; rebase so Finalize doesn't count them again
				mli.groupBaseCount = mli.count
				mli.groupBaseTotal = mli.total
			}
		}
		byteOffset += n
		objOffset += sw.fs.objectCount
	}
	return tg.master.Finalize()
}
