package ledger

import (
	"sort"
	"time"

	"github.com/cinexhq/seathold/internal/domain"
)

// expiryEntry is one pending expiry. Entries are never removed on renew or
// release; stale ones are recognized and skipped when popped, which keeps
// every mutation O(log n) without heap surgery.
type expiryEntry struct {
	expiresAt time.Time
	seatID    int
	holderID  string
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h expiryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(expiryEntry))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func sortRecords(records []domain.HoldRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].SeatID < records[j].SeatID
	})
}
