package node

import "strings"

const (
	fence = "```"
	// plainFenceMinLines is the body size a fence without a language label
	// must exceed before it is treated as a wrapper. Short unlabeled blocks
	// are usually snippets the user asked for.
	plainFenceMinLines = 3
)

// StripWrapper removes a markdown code fence that encloses the whole text.
// A labeled fence is always removed; a plain fence only when its body has
// more than plainFenceMinLines lines. Text with nested fences is returned
// unchanged.
func StripWrapper(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2*len(fence) || !strings.HasPrefix(trimmed, fence) || !strings.HasSuffix(trimmed, fence) {
		return text
	}
	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return text
	}
	label := strings.TrimSpace(trimmed[len(fence):nl])
	if strings.Contains(label, "`") {
		return text
	}
	body := trimmed[nl+1 : len(trimmed)-len(fence)]
	if !strings.HasSuffix(body, "\n") {
		return text
	}
	body = body[:len(body)-1]
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			return text
		}
	}
	if label == "" && len(lines) <= plainFenceMinLines {
		return text
	}
	return body
}

func EnsureWrapper(text string) string {
	return fence + "markdown\n" + text + "\n" + fence
}
