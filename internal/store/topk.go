package store

import (
	"container/heap"
	"sort"
	"strconv"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// ranked is a candidate match with its numeric id for tie-breaking.
type ranked struct {
	match rag.Match
	id    int64
}

// better reports whether a ranks ahead of b: higher score first, then lower id.
func better(a, b ranked) bool {
	if a.match.Score != b.match.Score {
		return a.match.Score > b.match.Score
	}
	return a.id < b.id
}

// worstFirst is a min-heap on rank quality; the root is the weakest kept match.
type worstFirst []ranked

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(ranked)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK keeps the k best candidates offered to it.
type topK struct {
	k int
	h worstFirst
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(worstFirst, 0, k)}
}

func (t *topK) offer(r ranked) {
	if t.k <= 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, r)
		return
	}
	if better(r, t.h[0]) {
		t.h[0] = r
		heap.Fix(&t.h, 0)
	}
}

// results returns the kept matches best-first with 1-based ranks.
func (t *topK) results() []rag.Match {
	items := append([]ranked(nil), t.h...)
	sort.Slice(items, func(i, j int) bool { return better(items[i], items[j]) })

	out := make([]rag.Match, len(items))
	for i, r := range items {
		out[i] = r.match
		out[i].Rank = i + 1
	}
	return out
}

// rankMatches sorts matches best-first, breaking score ties by lower id, and
// assigns ranks. Ids that are not integers compare as strings.
func rankMatches(ms []rag.Match) []rag.Match {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		a, errA := strconv.ParseInt(ms[i].Document.ID, 10, 64)
		b, errB := strconv.ParseInt(ms[j].Document.ID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return ms[i].Document.ID < ms[j].Document.ID
	})
	for i := range ms {
		ms[i].Rank = i + 1
	}
	return ms
}
