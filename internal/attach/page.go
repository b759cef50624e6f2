package attach

import "context"

// page renders its image on first use and removes it on Close.
type page struct {
	doc      Document
	index    int
	path     string
	cleanup  func()
	err      error
	rendered bool
}

func newPage(doc Document, index int) *page {
	return &page{doc: doc, index: index}
}

func (p *page) Text() (string, error) {
	return p.doc.PageText(p.index)
}

func (p *page) Image(ctx context.Context) (string, error) {
	if !p.rendered {
		p.rendered = true
		p.path, p.cleanup, p.err = p.doc.RenderPage(ctx, p.index)
	}
	return p.path, p.err
}

func (p *page) Close() {
	if p.cleanup != nil {
		p.cleanup()
		p.cleanup = nil
	}
}
