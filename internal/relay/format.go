package relay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// Markdown renders an event as a short Markdown message. Attendee
// messages are JSON objects; their fields become one line each.
func Markdown(ev protocol.RoomEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s]**", ev.Kind)
	if actor := ev.Prop(protocol.PropActor); actor != "" {
		fmt.Fprintf(&b, " *%s*", actor)
	}
	msg := ev.Prop(protocol.PropMessage)
	if msg == "" {
		if n := ev.Prop(protocol.PropAttendeeCount); n != "" {
			msg = n + " attendees"
		}
	}
	if msg != "" {
		b.WriteString("\n")
		b.WriteString(messageBody(msg))
	}
	return b.String()
}

func messageBody(msg string) string {
	var fields map[string]any
	if !strings.HasPrefix(strings.TrimSpace(msg), "{") || json.Unmarshal([]byte(msg), &fields) != nil || len(fields) == 0 {
		return msg
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("**%s**: %v", k, fields[k]))
	}
	return strings.Join(lines, "\n")
}

// MarkdownToMrkdwn converts standard Markdown to Slack's mrkdwn format.
func MarkdownToMrkdwn(md string) string {
	return convertLinks(strings.ReplaceAll(convertEmphasis(md), "~~", "~"))
}

// convertEmphasis maps **bold** to *bold* and *italic* to _italic_ in one
// pass, leaving code spans alone.
func convertEmphasis(s string) string {
	var b strings.Builder
	inCode := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '`':
			inCode = !inCode
			b.WriteByte(ch)
		case ch == '*' && !inCode:
			if i+1 < len(s) && s[i+1] == '*' {
				b.WriteByte('*')
				i++
			} else {
				b.WriteByte('_')
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

var reLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// convertLinks rewrites [text](url) as <url|text>.
func convertLinks(s string) string {
	return reLink.ReplaceAllString(s, "<$2|$1>")
}

var (
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic     = regexp.MustCompile(`\*(.+?)\*`)
)

// MarkdownToTelegramHTML converts inline Markdown to Telegram's HTML
// subset. Code spans are escaped but not formatted.
func MarkdownToTelegramHTML(md string) string {
	lines := strings.Split(md, "\n")
	for i, line := range lines {
		lines[i] = inlineHTML(line)
	}
	return strings.Join(lines, "\n")
}

func inlineHTML(line string) string {
	var spans []string
	line = reInlineCode.ReplaceAllStringFunc(line, func(m string) string {
		spans = append(spans, "<code>"+escapeHTML(reInlineCode.FindStringSubmatch(m)[1])+"</code>")
		return fmt.Sprintf("\x00%d\x00", len(spans)-1)
	})

	line = escapeHTML(line)
	line = reBold.ReplaceAllString(line, "<b>$1</b>")
	line = reItalic.ReplaceAllString(line, "<i>$1</i>")
	line = reLink.ReplaceAllString(line, `<a href="$2">$1</a>`)

	for i, s := range spans {
		line = strings.Replace(line, fmt.Sprintf("\x00%d\x00", i), s, 1)
	}
	return line
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// StripMarkdown removes inline Markdown, keeping link targets.
func StripMarkdown(md string) string {
	s := reInlineCode.ReplaceAllString(md, "$1")
	s = reBold.ReplaceAllString(s, "$1")
	s = reItalic.ReplaceAllString(s, "$1")
	return reLink.ReplaceAllString(s, "$1 ($2)")
}
