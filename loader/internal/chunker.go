package internal

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type Unit string

const (
	UnitChars  Unit = "chars"
	UnitTokens Unit = "tokens"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ChunkPolicy bounds the size of chunks and the overlap between neighbours.
type ChunkPolicy struct {
	MaxSize int
	Overlap int
	Unit    Unit
}

// Chunker splits page text into overlapping, size-bounded chunks.
type Chunker struct {
	policy ChunkPolicy
	length LengthFunc
}

type ChunkerOption func(*Chunker)

// WithLengthFunc overrides how text is measured. Defaults to RuneLength.
func WithLengthFunc(fn LengthFunc) ChunkerOption {
	return func(c *Chunker) {
		if fn != nil {
			c.length = fn
		}
	}
}

func NewChunker(policy ChunkPolicy, opts ...ChunkerOption) *Chunker {
	if policy.MaxSize <= 0 {
		policy.MaxSize = DefaultChunkSize
	}
	if policy.Overlap < 0 {
		policy.Overlap = 0
	}
	if policy.Overlap >= policy.MaxSize {
		policy.Overlap = policy.MaxSize / 4
	}
	if policy.Unit == "" {
		policy.Unit = UnitChars
	}

	c := &Chunker{policy: policy, length: RuneLength}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy after clamping.
func (c *Chunker) Policy() ChunkPolicy {
	return c.policy
}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

type word struct {
	text      string
	size      int
	boundary  bool // ends a sentence or paragraph
	paragraph bool // ends a paragraph
}

// Split cuts text into chunks. Whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []string {
	words := c.words(text)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks []string
		limit  = c.policy.MaxSize
		start  = 0
		n      = len(words)
	)

	for start < n {
		end, size := start, 0
		for end < n {
			add := words[end].size
			if end > start {
				add += c.sepSize(words[end-1])
			}
			if size+add > limit && end > start {
				break
			}
			size += add
			end++
		}

		cut := end
		if end < n {
			cut = c.boundaryCut(words, start, end)
		}
		chunks = append(chunks, join(words[start:cut]))

		if cut >= n {
			break
		}
		start = c.overlapStart(words, start, cut)
	}
	return chunks
}

// boundaryCut moves the end of a full chunk back to the last sentence or
// paragraph boundary that lies in the second half of the chunk.
func (c *Chunker) boundaryCut(words []word, start, end int) int {
	half := c.policy.MaxSize / 2
	for k := end - 1; k > start; k-- {
		if words[k].boundary && c.span(words, start, k+1) >= half {
			return k + 1
		}
	}
	return end
}

// overlapStart picks where the next chunk begins: trailing whole words of
// the previous chunk fitting in Overlap, always past start.
func (c *Chunker) overlapStart(words []word, start, cut int) int {
	j := cut
	for j-1 > start && c.span(words, j-1, cut) <= c.policy.Overlap {
		j--
	}
	// leave room for at least one new word
	for j < cut && c.span(words, j, cut+1) > c.policy.MaxSize {
		j++
	}
	return j
}

// span is the joined size of words[from:to].
func (c *Chunker) span(words []word, from, to int) int {
	size := 0
	for i := from; i < to; i++ {
		size += words[i].size
		if i > from {
			size += c.sepSize(words[i-1])
		}
	}
	return size
}

func (c *Chunker) sepSize(prev word) int {
	return c.length(separator(prev))
}

func separator(prev word) string {
	if prev.paragraph {
		return "\n\n"
	}
	return " "
}

func join(words []word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteString(separator(words[i-1]))
		}
		b.WriteString(w.text)
	}
	return b.String()
}

func (c *Chunker) words(text string) []word {
	var out []word
	for _, para := range paragraphSplit.Split(text, -1) {
		fields := strings.Fields(para)
		for i, f := range fields {
			last := i == len(fields)-1
			pieces := c.hardSplit(f)
			for j, p := range pieces {
				tail := j == len(pieces)-1
				out = append(out, word{
					text:      p,
					size:      c.length(p),
					boundary:  tail && (last || endsSentence(p)),
					paragraph: tail && last,
				})
			}
		}
	}
	return out
}

// hardSplit breaks a word longer than MaxSize into pieces that fit.
func (c *Chunker) hardSplit(w string) []string {
	if c.length(w) <= c.policy.MaxSize {
		return []string{w}
	}
	var (
		pieces []string
		cur    strings.Builder
	)
	for _, r := range w {
		if cur.Len() > 0 && c.length(cur.String()+string(r)) > c.policy.MaxSize {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

func endsSentence(w string) bool {
	w = strings.TrimRight(w, `"')]}»”’`)
	r, _ := utf8.DecodeLastRuneInString(w)
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}
