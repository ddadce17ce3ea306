package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"pdfrag/types"
)

var errEncrypted = errors.New("document is encrypted")

// PDFReader validates PDFs with pdfcpu and extracts text page by page.
type PDFReader struct {
	conf *model.Configuration
}

func NewPDFReader() *PDFReader {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFReader{conf: conf}
}

func (p *PDFReader) Read(ctx context.Context, name string, r io.ReaderAt, size int64) (iter.Seq2[Page, error], error) {
	r, size, err := p.prepare(r, size)
	if err != nil {
		return nil, &types.UnreadableSourceError{Path: name, Err: err}
	}

	doc, err := openPDF(r, size)
	if err != nil {
		return nil, &types.UnreadableSourceError{Path: name, Err: err}
	}

	return func(yield func(Page, error) bool) {
		for i := 1; i <= doc.NumPage(); i++ {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			text, err := pageText(doc, i)
			if err != nil {
				yield(Page{}, &types.UnreadableSourceError{Path: name, Err: fmt.Errorf("page %d: %w", i, err)})
				return
			}
			if !yield(Page{Number: i, Text: text}, nil) {
				return
			}
		}
	}, nil
}

// prepare rejects malformed files and files that need a password to open.
// Files restricted only by an owner password are decrypted in memory.
func (p *PDFReader) prepare(r io.ReaderAt, size int64) (io.ReaderAt, int64, error) {
	pctx, err := api.ReadContext(io.NewSectionReader(r, 0, size), p.conf)
	if errors.Is(err, pdfcpu.ErrWrongPassword) {
		return nil, 0, errEncrypted
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, 0, fmt.Errorf("validate pdf: %w", err)
	}
	if pctx.Encrypt == nil {
		return r, size, nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	var buf bytes.Buffer
	if err := api.Decrypt(io.NewSectionReader(r, 0, size), &buf, conf); err != nil {
		return nil, 0, fmt.Errorf("decrypt pdf: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil
}

func openPDF(r io.ReaderAt, size int64) (doc *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("open pdf: %v", rec)
		}
	}()
	return pdf.NewReader(r, size)
}

// pageText returns the plain text of page i; empty pages yield "".
func pageText(doc *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extract text: %v", rec)
		}
	}()

	page := doc.Page(i)
	if page.V.IsNull() {
		return "", nil
	}

	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		f := page.Font(name)
		fonts[name] = &f
	}
	return page.GetPlainText(fonts)
}
