package pipeline

import (
	"golang.org/x/net/html"

	"github.com/minios-linux/kataterm/dom"
)

// Coalescer collects the roots of inserted subtrees between ticks so that a
// burst of mutations costs one scan.
type Coalescer struct {
	frontier []*html.Node
	pending  bool
	started  bool
}

// NewCoalescer returns a coalescer whose frontier holds seed, scanned on the
// first flush.
func NewCoalescer(seed *html.Node) *Coalescer {
	c := &Coalescer{}
	if seed != nil {
		c.frontier = append(c.frontier, seed)
	}
	return c
}

// Observe adds the inserted nodes of recs to the frontier. Records that only
// remove nodes are ignored.
func (c *Coalescer) Observe(recs []dom.Record) {
	for _, r := range recs {
		if len(r.Added) == 0 {
			continue
		}
		c.frontier = append(c.frontier, r.Added...)
		c.pending = true
	}
}

// Force makes the next flush report a scan even with an empty frontier.
func (c *Coalescer) Force() {
	c.pending = true
}

// Pending reports whether the next flush will scan.
func (c *Coalescer) Pending() bool {
	return !c.started || c.pending
}

// Flush returns the frontier and clears it. ok is false, and nothing
// changes, unless this is the first flush or something was observed since
// the last one.
func (c *Coalescer) Flush() (roots []*html.Node, ok bool) {
	if !c.Pending() {
		return nil, false
	}
	roots = c.frontier
	c.frontier = nil
	c.pending = false
	c.started = true
	return roots, true
}
