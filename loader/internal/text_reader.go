package internal

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"pdfrag/types"
)

// pageBreak separates pages in plain-text documents.
const pageBreak = "\f"

// TextReader reads UTF-8 text files, treating form feeds as page breaks.
type TextReader struct{}

func NewTextReader() *TextReader {
	return &TextReader{}
}

func (t *TextReader) Read(ctx context.Context, name string, r io.ReaderAt, size int64) (iter.Seq2[Page, error], error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, &types.UnreadableSourceError{Path: name, Err: err}
	}
	if !utf8.Valid(data) {
		return nil, &types.UnreadableSourceError{Path: name, Err: fmt.Errorf("not valid UTF-8 text")}
	}

	pages := strings.Split(string(data), pageBreak)
	return func(yield func(Page, error) bool) {
		for i, text := range pages {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			if !yield(Page{Number: i + 1, Text: text}, nil) {
				return
			}
		}
	}, nil
}
