package pipeline

import (
	"golang.org/x/net/html"
)

// Propagate writes the cached gloss of phrase into every target waiting for
// it and evicts the phrase from the queue. Targets no longer in the document
// are left alone. It reports false, doing nothing, unless the phrase is
// resolved.
func (p *Pipeline) Propagate(phrase string) bool {
	text, ok := p.cache.Lookup(phrase)
	if !ok {
		return false
	}
	targets := p.queue.Targets(phrase)
	p.doc.Do(func(*html.Node) {
		for _, t := range targets {
			if p.doc.Attached(t.Node()) {
				t.SetGloss(text)
			}
		}
	})
	p.queue.Delete(phrase)
	return true
}
