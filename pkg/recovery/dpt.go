package recovery

import (
	"github.com/google/btree"

	"coredb/pkg/log/record"
	"coredb/pkg/primitives"
)

// dptDegree is the branching factor passed to btree.New, following the
// degree the teacher uses for its region/range trees.
const dptDegree = 32

// dptItem is a Dirty Page Table entry ordered by (recLSN, page) so the
// tree's minimum is always the earliest recLSN restart_redo needs to
// start scanning from.
type dptItem struct {
	recLSN primitives.LSN
	page   primitives.PageID
}

func (a dptItem) Less(than btree.Item) bool {
	b := than.(dptItem)
	if a.recLSN != b.recLSN {
		return a.recLSN < b.recLSN
	}
	if a.page.Part != b.page.Part {
		return a.page.Part < b.page.Part
	}
	return a.page.Page < b.page.Page
}

// dirtyPageTable is page_id -> recLSN, kept both as a btree.BTree ordered
// by recLSN (for restart_redo's min(DPT.values) and for streaming
// checkpoint entries in recLSN order) and a plain map for O(1) membership
// checks on the Append hot path. Grounded on SPEC_FULL.md's
// pkg/recovery.dirtyPageTable description; the ordered-tree half is
// grounded in talent-plan-tinykv's btree.New/AscendGreaterOrEqual usage.
type dirtyPageTable struct {
	tree   *btree.BTree
	byPage map[primitives.PageID]primitives.LSN
}

func newDirtyPageTable() *dirtyPageTable {
	return &dirtyPageTable{
		tree:   btree.New(dptDegree),
		byPage: make(map[primitives.PageID]primitives.LSN),
	}
}

// InsertIfAbsent inserts (page, lsn) only if page is not already tracked,
// per §4.6's log_page_write rule ("if page ∉ DPT insert"). Returns true if
// it inserted.
func (d *dirtyPageTable) InsertIfAbsent(page primitives.PageID, lsn primitives.LSN) bool {
	if _, ok := d.byPage[page]; ok {
		return false
	}
	d.byPage[page] = lsn
	d.tree.ReplaceOrInsert(dptItem{recLSN: lsn, page: page})
	return true
}

// Set unconditionally overwrites page's recLSN, used by restart_analysis'
// END_CHECKPOINT merge ("merge its DPT, overwriting existing entries").
func (d *dirtyPageTable) Set(page primitives.PageID, lsn primitives.LSN) {
	if old, ok := d.byPage[page]; ok {
		d.tree.Delete(dptItem{recLSN: old, page: page})
	}
	d.byPage[page] = lsn
	d.tree.ReplaceOrInsert(dptItem{recLSN: lsn, page: page})
}

func (d *dirtyPageTable) Remove(page primitives.PageID) {
	lsn, ok := d.byPage[page]
	if !ok {
		return
	}
	delete(d.byPage, page)
	d.tree.Delete(dptItem{recLSN: lsn, page: page})
}

func (d *dirtyPageTable) Get(page primitives.PageID) (primitives.LSN, bool) {
	lsn, ok := d.byPage[page]
	return lsn, ok
}

func (d *dirtyPageTable) Len() int {
	return len(d.byPage)
}

// Min returns the smallest recLSN currently tracked, used as
// restart_redo's scan start point.
func (d *dirtyPageTable) Min() (primitives.LSN, bool) {
	item := d.tree.Min()
	if item == nil {
		return 0, false
	}
	return item.(dptItem).recLSN, true
}

// Snapshot returns every entry in recLSN order, for streaming into
// END_CHECKPOINT records.
func (d *dirtyPageTable) Snapshot() []record.DPTEntry {
	out := make([]record.DPTEntry, 0, d.tree.Len())
	d.tree.Ascend(func(i btree.Item) bool {
		it := i.(dptItem)
		out = append(out, record.DPTEntry{Page: it.page, RecLSN: it.recLSN})
		return true
	})
	return out
}

// RetainOnly drops every entry whose page is not present in dirty,
// implementing restart_redo's clean_DPT step: "intersect DPT with the set
// of pages the buffer manager reports as actually dirty; keep the
// original recLSN for survivors."
func (d *dirtyPageTable) RetainOnly(dirty map[primitives.PageID]bool) {
	for page := range d.byPage {
		if !dirty[page] {
			d.Remove(page)
		}
	}
}
