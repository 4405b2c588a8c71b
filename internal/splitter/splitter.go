// Package splitter cuts document text into overlapping pieces for embedding.
//
// Boundaries are chosen recursively: paragraph breaks first, then line
// breaks, then sentence ends, then word gaps, then a hard character cut as
// the last resort. The result is deterministic and every piece records its
// byte offsets into the source text.
package splitter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// separators in priority order. The empty string means a hard cut at the
// chunk size and must stay last.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

const (
	defaultChunkSize = 2000
	defaultOverlap   = 200
)

// Piece is one span of the source text. Start and End are byte offsets such
// that source[Start:End] == Text after whitespace trimming.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Splitter splits text with a fixed chunk size and overlap. The zero value
// is not usable; construct with New.
type Splitter struct {
	size    int
	overlap int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum piece length in bytes.
func WithChunkSize(n int) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithOverlap sets how many trailing bytes of one piece reappear at the
// start of the next.
func WithOverlap(n int) Option {
	return func(s *Splitter) {
		if n >= 0 {
			s.overlap = n
		}
	}
}

// New returns a Splitter with the given options applied. An overlap at or
// above the chunk size is nonsensical and falls back to a tenth of the size.
func New(opts ...Option) *Splitter {
	s := &Splitter{size: defaultChunkSize, overlap: defaultOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 10
	}
	return s
}

// Split cuts text into pieces of at most the chunk size. Whitespace-only
// spans are dropped; pieces are trimmed with offsets adjusted to match.
func (s *Splitter) Split(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	atoms := s.atoms(text, 0, separators)
	return s.merge(text, atoms)
}

// atom is an indivisible span: short enough to fit a chunk on its own.
type atom struct {
	text  string
	start int
}

// atoms recursively cuts text into spans no longer than the chunk size,
// preferring the earliest separator in the priority list that occurs in the
// text. Separators stay attached to the end of the preceding span so the
// atoms tile the source exactly.
func (s *Splitter) atoms(text string, start int, seps []string) []atom {
	if len(text) <= s.size {
		return []atom{{text: text, start: start}}
	}
	if len(seps) == 0 || seps[0] == "" {
		return s.hardCut(text, start)
	}
	sep := seps[0]
	if !strings.Contains(text, sep) {
		return s.atoms(text, start, seps[1:])
	}

	var out []atom
	offset := start
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if len(part) <= s.size {
			out = append(out, atom{text: part, start: offset})
		} else {
			out = append(out, s.atoms(part, offset, seps[1:])...)
		}
		offset += len(part)
	}
	return out
}

// hardCut slices text into chunk-size spans with no regard for boundaries.
func (s *Splitter) hardCut(text string, start int) []atom {
	var out []atom
	for i := 0; i < len(text); i += s.size {
		end := i + s.size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, atom{text: text[i:end], start: start + i})
	}
	return out
}

// merge packs consecutive atoms into pieces of at most the chunk size,
// carrying up to overlap bytes of trailing atoms into the next piece.
func (s *Splitter) merge(source string, atoms []atom) []Piece {
	var (
		out       []Piece
		window    []atom
		windowLen int
	)

	flush := func() {
		if len(window) == 0 {
			return
		}
		start := window[0].start
		last := window[len(window)-1]
		end := last.start + len(last.text)
		if p, ok := trimPiece(source, start, end); ok {
			// Overlapping windows can produce identical trimmed spans; keep
			// the first occurrence only.
			if len(out) == 0 || out[len(out)-1].Start != p.Start || out[len(out)-1].End != p.End {
				out = append(out, p)
			}
		}
	}

	for _, a := range atoms {
		if windowLen+len(a.text) > s.size && len(window) > 0 {
			flush()

			// Keep a tail of whole atoms worth at most the overlap.
			var (
				tail    []atom
				tailLen int
			)
			for i := len(window) - 1; i >= 0; i-- {
				if tailLen+len(window[i].text) > s.overlap {
					break
				}
				tailLen += len(window[i].text)
				tail = append([]atom{window[i]}, tail...)
			}
			window, windowLen = tail, tailLen

			// The overlap plus an unusually large atom may still not fit.
			for windowLen+len(a.text) > s.size && len(window) > 0 {
				windowLen -= len(window[0].text)
				window = window[1:]
			}
		}
		window = append(window, a)
		windowLen += len(a.text)
	}
	flush()
	return out
}

// trimPiece strips surrounding whitespace from source[start:end], moving the
// offsets inward to match. It reports false when nothing but whitespace
// remains.
func trimPiece(source string, start, end int) (Piece, bool) {
	for start < end {
		r, size := utf8.DecodeRuneInString(source[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(source[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start >= end {
		return Piece{}, false
	}
	return Piece{Text: source[start:end], Start: start, End: end}, true
}
