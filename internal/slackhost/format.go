package slackhost

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```.*?```")
	headerRe    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strikeRe    = regexp.MustCompile(`~~(.+?)~~`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	checkboxRe  = regexp.MustCompile(`(?m)^(\s*)- \[( |x)\] `)
)

// formatForSlack converts the markdown the assistant writes to Slack mrkdwn.
func formatForSlack(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var blocks []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		blocks = append(blocks, match)
		return fmt.Sprintf("\x00CODEBLOCK_%d\x00", len(blocks)-1)
	})

	text = headerRe.ReplaceAllStringFunc(text, func(match string) string {
		content := strings.TrimSpace(strings.TrimLeft(match, "#"))
		return "*" + boldRe.ReplaceAllString(content, "$1") + "*"
	})
	text = boldRe.ReplaceAllString(text, "*$1*")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	text = linkRe.ReplaceAllString(text, "<$2|$1>")
	text = checkboxRe.ReplaceAllStringFunc(text, func(match string) string {
		indent := match[:strings.Index(match, "-")]
		if strings.Contains(match, "[x]") {
			return indent + "• :white_check_mark: "
		}
		return indent + "• :white_square: "
	})

	for i, block := range blocks {
		text = strings.Replace(text, fmt.Sprintf("\x00CODEBLOCK_%d\x00", i), block, 1)
	}
	return text
}
