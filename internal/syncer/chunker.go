package syncer

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/model"
)

const (
	defaultChunkTokens = 400
	overlapTokens      = 80
)

// Chunker splits a markdown note into embeddable pieces. Level 1 and 2
// headings start a new section; every chunk of a section is prefixed with
// its heading. Text chunks overlap by a few trailing paragraphs.
type Chunker struct {
	maxTokens int
}

func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = defaultChunkTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

type chunkBuilder struct {
	heading string
	parts   []string
	tokens  int
	kind    model.ChunkType
	// fresh counts the parts added since the last flush; carried overlap
	// alone never makes a chunk.
	fresh int
	out   []model.NoteChunk
}

func (b *chunkBuilder) add(part string, kind model.ChunkType) {
	b.parts = append(b.parts, part)
	b.tokens += estimateTokens(part)
	b.fresh++
	switch {
	case b.kind == "":
		b.kind = kind
	case b.kind != kind:
		b.kind = model.ChunkTypeMixed
	}
}

func (b *chunkBuilder) reset() {
	b.parts = nil
	b.tokens = 0
	b.kind = ""
	b.fresh = 0
}

func (b *chunkBuilder) flush(keepOverlap bool) {
	if b.fresh == 0 {
		b.reset()
		return
	}
	content := strings.Join(b.parts, "\n\n")
	if b.heading != "" {
		content = b.heading + "\n\n" + content
	}
	b.out = append(b.out, model.NoteChunk{
		Content:    content,
		ChunkType:  b.kind,
		Position:   len(b.out),
		TokenCount: estimateTokens(content),
	})
	var carry []string
	carried := 0
	if keepOverlap && b.kind == model.ChunkTypeText && len(b.parts) > 1 {
		for i := len(b.parts) - 1; i > 0; i-- {
			t := estimateTokens(b.parts[i])
			if carried+t > overlapTokens {
				break
			}
			carried += t
			carry = append([]string{b.parts[i]}, carry...)
		}
	}
	b.parts = carry
	b.tokens = carried
	b.fresh = 0
	b.kind = ""
	if len(carry) > 0 {
		b.kind = model.ChunkTypeText
	}
}

// Chunk returns the chunks of markdown in document order. Positions start
// at 0. A note without any text yields no chunk.
func (c *Chunker) Chunk(ctx context.Context, markdown string) []model.NoteChunk {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	b := &chunkBuilder{}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := extractText(node, source)
			if node.Level <= 2 {
				b.flush(false)
				b.heading = title
				continue
			}
			c.addText(b, title)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lang := ""
			if fenced, ok := node.(*ast.FencedCodeBlock); ok {
				lang = string(fenced.Language(source))
			}
			c.addCode(b, lang, blockLines(node, source))
		default:
			c.addText(b, extractText(node, source))
		}
	}
	b.flush(false)
	logutil.GetLogger(ctx).Debug("note chunked", zap.Int("size", len(markdown)), zap.Int("chunks", len(b.out)))
	return b.out
}

func (c *Chunker) addText(b *chunkBuilder, txt string) {
	if txt == "" {
		return
	}
	t := estimateTokens(txt)
	if b.tokens > 0 && b.tokens+t > c.maxTokens {
		b.flush(true)
		if b.tokens+t > c.maxTokens {
			b.reset()
		}
	}
	b.add(txt, model.ChunkTypeText)
}

// addCode keeps a small block with the surrounding text and gives a large
// one chunks of its own, split on line boundaries.
func (c *Chunker) addCode(b *chunkBuilder, lang string, lines []string) {
	code := strings.Join(lines, "")
	tokens := estimateTokens(code)
	if tokens == 0 {
		return
	}
	if b.tokens+tokens <= c.maxTokens {
		b.add(fence(lang, code), model.ChunkTypeCode)
		return
	}
	b.flush(false)
	var (
		piece       strings.Builder
		pieceTokens int
	)
	for _, line := range lines {
		t := estimateTokens(line)
		if pieceTokens > 0 && pieceTokens+t > c.maxTokens {
			b.add(fence(lang, piece.String()), model.ChunkTypeCode)
			b.flush(false)
			piece.Reset()
			pieceTokens = 0
		}
		piece.WriteString(line)
		pieceTokens += t
	}
	if piece.Len() > 0 {
		b.add(fence(lang, piece.String()), model.ChunkTypeCode)
		b.flush(false)
	}
}

func fence(lang, code string) string {
	return "```" + lang + "\n" + strings.TrimRight(code, "\n") + "\n```"
}

func blockLines(n ast.Node, source []byte) []string {
	lines := n.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, string(seg.Value(source)))
	}
	return out
}

// estimateTokens counts words, plus one per non-ASCII rune so CJK text is
// not undercounted.
func estimateTokens(s string) int {
	count := 0
	for _, r := range s {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(s))
	if count == 0 && strings.TrimSpace(s) != "" {
		return 1
	}
	return count
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.CodeSpan:
			sb.WriteByte('`')
			for c := t.FirstChild(); c != nil; c = c.NextSibling() {
				if txt, ok := c.(*ast.Text); ok {
					sb.Write(txt.Segment.Value(source))
				}
			}
			sb.WriteByte('`')
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
