// Package dom holds a live HTML document that records structural mutations.
//
// The document plays the role a browser's MutationObserver plays for a page:
// every node inserted through the Document API is reported in a Record, and
// buffered records can be drained synchronously with TakeRecords. All access
// to the tree goes through the document's lock, so readers and writers on
// different goroutines never see a half-mutated tree.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Record describes one structural mutation.
type Record struct {
	// Target is the parent whose child list changed.
	Target *html.Node
	// Added lists inserted nodes in document order.
	Added []*html.Node
	// Removed lists removed nodes.
	Removed []*html.Node
}

// Observer is told that new records are buffered. It is called with the
// document lock released and must not block; the records themselves are
// collected with TakeRecords, in batches, the way a page's mutation observer
// receives them after the mutating task finished.
type Observer func()

// Document is a parsed HTML tree shared between the annotation pipeline and
// whatever mutates the page.
type Document struct {
	mu       sync.Mutex
	root     *html.Node
	body     *html.Node
	records  []Record
	observer Observer
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return New(root), nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// New wraps an existing tree. The body element is located once; a tree
// without one uses the root itself as the body.
func New(root *html.Node) *Document {
	body := findElement(root, atom.Body)
	if body == nil {
		body = root
	}
	return &Document{root: root, body: body}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Observe installs the observer, replacing any previous one.
func (d *Document) Observe(fn Observer) {
	d.mu.Lock()
	d.observer = fn
	d.mu.Unlock()
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element.
func (d *Document) Body() *html.Node { return d.body }

// Do runs fn with the document locked. fn may read and rewrite the tree
// directly; such changes are not recorded.
func (d *Document) Do(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// TakeRecords returns and clears the buffered records.
func (d *Document) TakeRecords() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	recs := d.records
	d.records = nil
	return recs
}

// AppendChild appends child to parent and records the insertion.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref (nil appends) and records the
// insertion.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	d.mutate(func() Record {
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		parent.InsertBefore(child, ref)
		return Record{Target: parent, Added: []*html.Node{child}}
	})
}

// AppendHTML parses fragment in the context of parent, appends the
// resulting nodes and records them as one insertion.
func (d *Document) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	var (
		nodes []*html.Node
		err   error
	)
	// ParseFragment walks parent's ancestors; parse under the lock.
	d.mutate(func() Record {
		nodes, err = html.ParseFragment(strings.NewReader(fragment), parent)
		if err != nil {
			return Record{}
		}
		for _, n := range nodes {
			parent.AppendChild(n)
		}
		return Record{Target: parent, Added: nodes}
	})
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	return nodes, nil
}

// RemoveChild detaches child from its parent and records the removal.
// Removing a detached node does nothing.
func (d *Document) RemoveChild(child *html.Node) {
	d.mutate(func() Record {
		parent := child.Parent
		if parent == nil {
			return Record{}
		}
		parent.RemoveChild(child)
		return Record{Target: parent, Removed: []*html.Node{child}}
	})
}

func (d *Document) mutate(fn func() Record) {
	d.mu.Lock()
	rec := fn()
	if rec.Target == nil {
		d.mu.Unlock()
		return
	}
	d.records = append(d.records, rec)
	obs := d.observer
	d.mu.Unlock()
	if obs != nil {
		obs()
	}
}

// Attached reports whether n is still reachable from the body element.
// The caller must hold the document lock (inside Do).
func (d *Document) Attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.body {
			return true
		}
	}
	return false
}

// Find returns the elements matching a CSS selector, in document order.
func (d *Document) Find(selector string) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
}

// Render writes the current tree as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, returning "" on error.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}
