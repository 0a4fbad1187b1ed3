package host

import (
	"fmt"
	"regexp"
	"strings"

	"baton/internal/highlight"
)

// block is a piece of streamed assistant output ready for display. Code
// blocks are emitted whole once their closing fence arrives.
type block struct {
	text string
	code bool
	lang string
	file string
}

// fenceRegex matches a code fence opener: ```lang or ```lang:filename.
var fenceRegex = regexp.MustCompile("^```(\\w*)(?::(.+))?$")

// streamParser splits streamed markdown into plain text and fenced code
// blocks. Input arrives in arbitrary fragments; the parser buffers until a
// full line is available, so a fence split across fragments is still seen.
type streamParser struct {
	buf     strings.Builder
	inFence bool
	lang    string
	file    string
	code    strings.Builder
}

// feed consumes a fragment and returns the blocks completed by it.
func (p *streamParser) feed(fragment string) []block {
	p.buf.WriteString(fragment)
	content := p.buf.String()
	if content == "" {
		return nil
	}

	var blocks []block
	lines := strings.Split(content, "\n")
	var consumed int

	for i, line := range lines {
		// The last element of Split is either an incomplete line or the
		// empty artifact of a trailing newline; both stay in the buffer.
		if i == len(lines)-1 {
			break
		}
		consumed += len(line) + 1

		if p.inFence {
			if strings.TrimSpace(line) == "```" {
				blocks = append(blocks, p.closeFence())
				continue
			}
			p.code.WriteString(line)
			p.code.WriteString("\n")
			continue
		}

		if m := fenceRegex.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			p.inFence = true
			p.lang = m[1]
			p.file = m[2]
			p.code.Reset()
			continue
		}
		blocks = append(blocks, block{text: line + "\n"})
	}

	if consumed > 0 {
		rest := content[consumed:]
		p.buf.Reset()
		p.buf.WriteString(rest)
	}
	return blocks
}

// flush returns whatever is buffered, closing an unterminated fence.
func (p *streamParser) flush() []block {
	var blocks []block
	if p.inFence && p.code.Len() > 0 {
		blocks = append(blocks, p.closeFence())
	}
	p.inFence = false
	if rest := p.buf.String(); rest != "" {
		blocks = append(blocks, block{text: rest})
		p.buf.Reset()
	}
	return blocks
}

func (p *streamParser) closeFence() block {
	b := block{
		text: strings.TrimSuffix(p.code.String(), "\n"),
		code: true,
		lang: p.lang,
		file: p.file,
	}
	p.inFence = false
	p.lang = ""
	p.file = ""
	p.code.Reset()
	return b
}

func (p *streamParser) reset() {
	p.buf.Reset()
	p.inFence = false
	p.lang = ""
	p.file = ""
	p.code.Reset()
}

// renderCode renders a completed code block with a dim header rule, syntax
// highlighting and line numbers.
func renderCode(styles *Styles, hl *highlight.Highlighter, b block, width int) string {
	lang := b.lang
	if lang == "" && b.file != "" {
		lang = hl.DetectLanguage(b.file)
	}

	body := b.text
	if lang != "" {
		body = hl.Highlight(b.text, lang)
	}

	label := b.file
	if label == "" {
		label = lang
	}

	ruleWidth := width - 4
	if ruleWidth < 24 {
		ruleWidth = 24
	}

	var out strings.Builder
	out.WriteString(styles.Dim.Render("── "))
	if label != "" {
		out.WriteString(styles.CodeHeader.Render(label))
		out.WriteString(" ")
	}
	used := len(label) + 4
	if used < ruleWidth {
		out.WriteString(styles.Dim.Render(strings.Repeat("─", ruleWidth-used)))
	}
	out.WriteString("\n")

	lines := strings.Split(body, "\n")
	numWidth := len(fmt.Sprintf("%d", len(lines)))
	if numWidth < 2 {
		numWidth = 2
	}
	for i, line := range lines {
		num := fmt.Sprintf("%*d", numWidth, i+1)
		out.WriteString(styles.Dim.Render(num + " │ "))
		out.WriteString(line)
		out.WriteString("\n")
	}

	out.WriteString(styles.Dim.Render(strings.Repeat("─", ruleWidth)))
	out.WriteString("\n")
	return out.String()
}
