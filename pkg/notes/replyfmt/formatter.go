// Copyright 2024-2026 Aiku AI

// Package replyfmt renders the bot's markdown replies as Matrix notices.
package replyfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe    = regexp.MustCompile(`(^|[^\w*])_([^_]+)_($|[^\w*])`)
	codeRe      = regexp.MustCompile("`([^`]+)`")
	codeBlockRe = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	ulRe        = regexp.MustCompile(`^[-*]\s+(.+)$`)
)

// Render converts a markdown reply to m.notice content. Plain text without
// markdown is sent without a formatted body.
func Render(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	if text == "" || !hasFormatting(text) {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = toHTML(text)
	return content
}

func hasFormatting(text string) bool {
	if boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		linkRe.MatchString(text) {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if ulRe.MatchString(line) {
			return true
		}
	}
	return false
}

func toHTML(text string) string {
	// Code blocks are swapped for NUL-delimited placeholders so inline rules
	// skip them. NULs in the input would collide with those.
	text = strings.ReplaceAll(text, "\x00", "")
	var blocks []string
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		var block string
		if parts[1] != "" {
			block = `<pre><code class="language-` + html.EscapeString(parts[1]) + `">` + html.EscapeString(parts[2]) + `</code></pre>`
		} else {
			block = `<pre><code>` + html.EscapeString(parts[2]) + `</code></pre>`
		}
		blocks = append(blocks, block)
		return "\x00BLOCK" + strconv.Itoa(len(blocks)-1) + "\x00"
	})

	var result []string
	var items []string
	flush := func() {
		if len(items) == 0 {
			return
		}
		result = append(result, "<ul>"+strings.Join(items, "")+"</ul>")
		items = nil
	}
	for _, line := range strings.Split(processed, "\n") {
		if m := ulRe.FindStringSubmatch(line); m != nil {
			items = append(items, "<li>"+inline(m[1])+"</li>")
			continue
		}
		flush()
		result = append(result, inline(line))
	}
	flush()

	formatted := joinLines(result)
	for i, block := range blocks {
		formatted = strings.Replace(formatted, "\x00BLOCK"+strconv.Itoa(i)+"\x00", block, 1)
	}
	return formatted
}

// joinLines joins rendered lines with <br/>, except around list blocks
// which already break the line.
func joinLines(lines []string) string {
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 && !strings.HasPrefix(line, "<ul>") && !strings.HasSuffix(lines[i-1], "</ul>") {
			sb.WriteString("<br/>")
		}
		sb.WriteString(line)
	}
	return sb.String()
}

func inline(line string) string {
	line = html.EscapeString(line)
	line = codeRe.ReplaceAllString(line, "<code>$1</code>")
	line = boldRe.ReplaceAllString(line, "<strong>$1</strong>")
	line = italicRe.ReplaceAllString(line, "$1<em>$2</em>$3")
	line = linkRe.ReplaceAllStringFunc(line, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		text, href := parts[1], parts[2]
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return `<a href="` + href + `">` + text + `</a>`
		}
		// Unsafe scheme, keep the text only.
		return text
	})
	return line
}
