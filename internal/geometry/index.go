package geometry

import (
	"math"
	"sort"
)

// DefaultCellSize is roughly the footprint of a common entity in pixels.
const DefaultCellSize = 64

type cellKey struct{ x, y int }

// Index is a uniform-grid spatial index over rotated rectangles. Each entry
// is bucketed into every cell its envelope touches; queries collect the
// candidates from the covered cells and then run the exact rotation-aware
// test. Index is not safe for concurrent use.
type Index struct {
	size    float64
	cells   map[cellKey]map[string]struct{}
	entries map[string]Rect
}

// NewIndex returns an empty index. A non-positive cell size selects
// DefaultCellSize.
func NewIndex(cellSize float64) *Index {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	return &Index{
		size:    cellSize,
		cells:   make(map[cellKey]map[string]struct{}),
		entries: make(map[string]Rect),
	}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Get returns the rectangle stored for id.
func (ix *Index) Get(id string) (Rect, bool) {
	r, ok := ix.entries[id]
	return r, ok
}

func (ix *Index) span(box AABB) (x0, y0, x1, y1 int) {
	return int(math.Floor(box.MinX / ix.size)), int(math.Floor(box.MinY / ix.size)),
		int(math.Floor(box.MaxX / ix.size)), int(math.Floor(box.MaxY / ix.size))
}

func (ix *Index) cellCount(box AABB) float64 {
	w := math.Floor(box.MaxX/ix.size) - math.Floor(box.MinX/ix.size) + 1
	h := math.Floor(box.MaxY/ix.size) - math.Floor(box.MinY/ix.size) + 1
	return w * h
}

// Insert adds id with bounds r. Inserting an existing id replaces it.
func (ix *Index) Insert(id string, r Rect) {
	if _, ok := ix.entries[id]; ok {
		ix.Remove(id)
	}
	ix.entries[id] = r
	x0, y0, x1, y1 := ix.span(r.Envelope())
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			k := cellKey{x, y}
			bucket := ix.cells[k]
			if bucket == nil {
				bucket = make(map[string]struct{})
				ix.cells[k] = bucket
			}
			bucket[id] = struct{}{}
		}
	}
}

// Update moves id to bounds r; it is Insert under another name so callers
// read naturally.
func (ix *Index) Update(id string, r Rect) { ix.Insert(id, r) }

// Remove drops id. Removing an unknown id is a no-op.
func (ix *Index) Remove(id string) {
	r, ok := ix.entries[id]
	if !ok {
		return
	}
	delete(ix.entries, id)
	x0, y0, x1, y1 := ix.span(r.Envelope())
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			k := cellKey{x, y}
			delete(ix.cells[k], id)
			if len(ix.cells[k]) == 0 {
				delete(ix.cells, k)
			}
		}
	}
}

// Query returns the ids whose rectangles intersect q, sorted.
func (ix *Index) Query(q Rect) []string {
	return ix.collect(q.Envelope(), func(r Rect) bool { return Intersects(r, q) })
}

// QueryPoint returns the ids whose rectangles contain p, sorted.
func (ix *Index) QueryPoint(p Point) []string {
	box := AABB{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
	return ix.collect(box, func(r Rect) bool { return ContainsPoint(r, p) })
}

func (ix *Index) collect(box AABB, match func(Rect) bool) []string {
	seen := make(map[string]struct{})
	var out []string
	check := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		if match(ix.entries[id]) {
			out = append(out, id)
		}
	}

	// A query larger than the map itself is cheaper as a scan.
	if ix.cellCount(box) > float64(len(ix.entries)+len(ix.cells)) {
		for id := range ix.entries {
			check(id)
		}
	} else {
		x0, y0, x1, y1 := ix.span(box)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				for id := range ix.cells[cellKey{x, y}] {
					check(id)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}
