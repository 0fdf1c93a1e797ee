package ranker

import "container/heap"

// TopK selects the k best entries of scores with a bounded min-heap.
func TopK(scores map[string]float64, k int) []ScoredDoc {
	if k <= 0 {
		return []ScoredDoc{}
	}
	h := make(worstFirst, 0, k+1)
	for docID, score := range scores {
		heap.Push(&h, ScoredDoc{DocID: docID, Score: score})
		if h.Len() > k {
			heap.Pop(&h)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result
}

// worstFirst keeps the lowest-ranked document at the root.
type worstFirst []ScoredDoc

func (h worstFirst) Len() int { return len(h) }

func (h worstFirst) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }

func (h worstFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x interface{}) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *worstFirst) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
