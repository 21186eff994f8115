package proposal

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// ContentHash hashes source text after whitespace normalisation, so
// CRLF endings, trailing spaces and trailing blank lines do not count
// as change.
func ContentHash(code string) string {
	sum := blake3.Sum256([]byte(normalizeSource(code)))
	return hex.EncodeToString(sum[:])
}

func normalizeSource(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.Trim(out, "\n")
}

// DupeTracker remembers recent proposal hashes so the pipeline can skip
// a change it already applied or rejected this session. Bounded FIFO.
type DupeTracker struct {
	mu    sync.Mutex
	cap   int
	order []string
	seen  map[string]bool
}

func NewDupeTracker(capacity int) *DupeTracker {
	if capacity <= 0 {
		capacity = 64
	}
	return &DupeTracker{cap: capacity, seen: make(map[string]bool, capacity)}
}

func (d *DupeTracker) key(filename, code string) string {
	sum := blake3.Sum256([]byte(filename + "\x00" + normalizeSource(code)))
	return hex.EncodeToString(sum[:])
}

// Seen reports whether this exact filename+body pair was remembered.
func (d *DupeTracker) Seen(filename, code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[d.key(filename, code)]
}

// Remember records a pair, evicting the oldest entry past capacity.
func (d *DupeTracker) Remember(filename, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.key(filename, code)
	if d.seen[k] {
		return
	}
	d.seen[k] = true
	d.order = append(d.order, k)
	if len(d.order) > d.cap {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
}
