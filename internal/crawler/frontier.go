package crawler

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
)

// Entry is a URL waiting to be fetched and its distance from a seed.
type Entry struct {
	URL   string
	Depth int
}

// Frontier is the BFS queue plus the visited set for one crawl run. URLs are
// marked visited when they are enqueued, so a URL can be dispatched at most
// once no matter how many pages link to it.
type Frontier struct {
	mu      sync.Mutex
	queue   []Entry
	head    int
	visited map[string]struct{}
}

func NewFrontier() *Frontier {
	return &Frontier{visited: make(map[string]struct{})}
}

// Push normalizes rawURL and enqueues it unless it was seen before. It
// reports whether the URL was added.
func (f *Frontier) Push(rawURL string, depth int) bool {
	norm, err := corpus.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[norm]; seen {
		return false
	}
	f.visited[norm] = struct{}{}
	f.queue = append(f.queue, Entry{URL: norm, Depth: depth})
	return true
}

// MarkVisited records rawURL as seen without queueing it, e.g. the target
// of a redirect. It reports whether the URL was new; false means it was
// already queued, fetched or marked.
func (f *Frontier) MarkVisited(rawURL string) bool {
	norm, err := corpus.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[norm]; seen {
		return false
	}
	f.visited[norm] = struct{}{}
	return true
}

// Visited reports whether rawURL has been queued or marked.
func (f *Frontier) Visited(rawURL string) bool {
	norm, err := corpus.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[norm]
	return ok
}

// Pop removes the oldest entry.
func (f *Frontier) Pop() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head >= len(f.queue) {
		return Entry{}, false
	}
	e := f.queue[f.head]
	f.queue[f.head] = Entry{}
	f.head++
	if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append([]Entry(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return e, true
}

// Len is the number of entries waiting.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

// VisitedCount is the size of the visited set.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}
