// Package annotate wraps katakana runs in an HTML tree with ruby
// annotations and exposes each annotation's gloss slot as a Target.
//
// A run such as アルバイト inside a text node becomes
//
//	<ruby>アルバイト<rt class="katakana-terminator-rt" data-rt=""></rt></ruby>
//
// and the surrounding text stays in plain text nodes. The gloss is written
// to the data-rt attribute; a stylesheet renders it with
// `rt.katakana-terminator-rt::before { content: attr(data-rt); }`.
package annotate

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/minios-linux/kataterm/katakana"
)

// GlossClass is the class set on every generated <rt> element.
const GlossClass = "katakana-terminator-rt"

// GlossAttr is the attribute receiving the gloss.
const GlossAttr = "data-rt"

// DefaultExcludeTags are the elements whose subtrees are never annotated:
// existing ruby markup (including our own output), non-rendered content and
// form controls.
var DefaultExcludeTags = []string{
	"ruby", "rt", "rp",
	"script", "style", "noscript", "template",
	"select", "option", "textarea", "input",
}

// Target is the gloss slot of one annotation wrapper.
type Target struct {
	node *html.Node
}

// Node returns the <rt> element.
func (t Target) Node() *html.Node { return t.node }

// Gloss returns the current gloss.
func (t Target) Gloss() string {
	for _, a := range t.node.Attr {
		if a.Key == GlossAttr {
			return a.Val
		}
	}
	return ""
}

// SetGloss writes gloss into the slot.
func (t Target) SetGloss(gloss string) {
	for i := range t.node.Attr {
		if t.node.Attr[i].Key == GlossAttr {
			t.node.Attr[i].Val = gloss
			return
		}
	}
	t.node.Attr = append(t.node.Attr, html.Attribute{Key: GlossAttr, Val: gloss})
}

// Options configures a Scanner.
type Options struct {
	// ExcludeTags overrides DefaultExcludeTags when non-empty.
	ExcludeTags []string
	// SkipSelectors are CSS selectors; matching elements are skipped with
	// their whole subtree.
	SkipSelectors []string
	// Attached reports whether a node still belongs to the live document.
	// Nil treats every node as attached.
	Attached func(*html.Node) bool
	// OnTarget receives every produced gloss slot with its phrase.
	OnTarget func(phrase string, t Target)
}

// Scanner walks a tree and annotates katakana runs.
type Scanner struct {
	exclude  map[string]bool
	skip     []string
	attached func(*html.Node) bool
	onTarget func(string, Target)
}

// NewScanner returns a scanner for opts.
func NewScanner(opts Options) *Scanner {
	tags := opts.ExcludeTags
	if len(tags) == 0 {
		tags = DefaultExcludeTags
	}
	s := &Scanner{
		exclude:  make(map[string]bool, len(tags)),
		skip:     opts.SkipSelectors,
		attached: opts.Attached,
		onTarget: opts.OnTarget,
	}
	for _, t := range tags {
		s.exclude[strings.ToLower(t)] = true
	}
	return s
}

// Scan annotates root and its descendants and returns the number of targets
// created. A root detached from the live document is ignored.
func (s *Scanner) Scan(root *html.Node) int {
	if root == nil {
		return 0
	}
	if s.attached != nil && !s.attached(root) {
		return 0
	}
	if s.shielded(root) {
		return 0
	}
	skipped := s.skippedNodes(root)
	return s.visit(root, skipped)
}

// shielded reports whether an ancestor of n excludes its subtree. Nodes
// inserted under a <textarea> or into existing ruby markup are scanned
// starting from themselves, so the ancestors have to be checked here.
func (s *Scanner) shielded(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && s.exclude[strings.ToLower(p.Data)] {
			return true
		}
	}
	if inEditable(n) {
		return true
	}
	if len(s.skip) > 0 && n.Parent != nil {
		sel := goquery.NewDocumentFromNode(n).Selection
		for _, expr := range s.skip {
			if sel.ParentsFiltered(expr).Length() > 0 {
				return true
			}
		}
	}
	return false
}

// skippedNodes resolves the configured selectors against root, root itself
// included.
func (s *Scanner) skippedNodes(root *html.Node) map[*html.Node]bool {
	if len(s.skip) == 0 || root.Type != html.ElementNode && root.Type != html.DocumentNode {
		return nil
	}
	set := make(map[*html.Node]bool)
	sel := goquery.NewDocumentFromNode(root).Selection
	for _, expr := range s.skip {
		for _, n := range sel.Find(expr).Nodes {
			set[n] = true
		}
		if root.Type == html.ElementNode && sel.Is(expr) {
			set[root] = true
		}
	}
	return set
}

func (s *Scanner) visit(n *html.Node, skipped map[*html.Node]bool) int {
	switch n.Type {
	case html.TextNode:
		return s.annotateText(n)
	case html.ElementNode:
		if s.exclude[strings.ToLower(n.Data)] || editable(n) || skipped[n] {
			return 0
		}
	case html.DocumentNode:
	default:
		return 0
	}

	count := 0
	// Annotating a text node inserts siblings after it; collect the original
	// children first so the new wrappers are not walked.
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		count += s.visit(c, skipped)
	}
	return count
}

// annotateText splits a text node around each katakana run. The node keeps
// the text before the first run; each run becomes a ruby wrapper followed by
// a new text node holding the rest, which is matched again.
func (s *Scanner) annotateText(n *html.Node) int {
	if n.Parent == nil {
		return 0
	}
	count := 0
	for cur := n; cur != nil; {
		span, ok := katakana.Match(cur.Data)
		if !ok {
			break
		}
		cur = s.split(cur, span)
		count++
	}
	return count
}

// split replaces the run in text node n and returns the text node after the
// wrapper, or nil when the run ended the text.
func (s *Scanner) split(n *html.Node, span katakana.Span) *html.Node {
	text := n.Data
	parent := n.Parent
	next := n.NextSibling

	rt := &html.Node{
		Type:     html.ElementNode,
		Data:     "rt",
		DataAtom: atom.Rt,
		Attr: []html.Attribute{
			{Key: "class", Val: GlossClass},
			{Key: GlossAttr, Val: ""},
		},
	}
	ruby := &html.Node{Type: html.ElementNode, Data: "ruby", DataAtom: atom.Ruby}
	ruby.AppendChild(&html.Node{Type: html.TextNode, Data: span.Text})
	ruby.AppendChild(rt)

	n.Data = text[:span.Start]
	parent.InsertBefore(ruby, next)

	var rest *html.Node
	if suffix := text[span.End():]; suffix != "" {
		rest = &html.Node{Type: html.TextNode, Data: suffix}
		parent.InsertBefore(rest, next)
	}
	if n.Data == "" {
		parent.RemoveChild(n)
	}

	if s.onTarget != nil {
		s.onTarget(span.Text, Target{node: rt})
	}
	return rest
}

// editable reports whether an element turns on content editing for its
// subtree.
func editable(n *html.Node) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "contenteditable") {
			v := strings.ToLower(strings.TrimSpace(a.Val))
			return v != "false"
		}
	}
	return false
}

// inEditable reports whether n sits inside an editable element, honouring
// the nearest explicit contenteditable setting.
func inEditable(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, a := range p.Attr {
			if strings.EqualFold(a.Key, "contenteditable") {
				return strings.ToLower(strings.TrimSpace(a.Val)) != "false"
			}
		}
	}
	return false
}
