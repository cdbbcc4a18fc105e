package slack

// Block Kit payload types. Only the blocks the adapter renders are modeled.

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type     string       `json:"type"`
	Text     *textObject  `json:"text,omitempty"`
	Elements []textObject `json:"elements,omitempty"`
}

type postMessage struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`
	Blocks  []block `json:"blocks"`
}

type postMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// Slack caps section text at 3000 characters and header text at 150.
const (
	maxSectionText = 3000
	maxHeaderText  = 150
)

func buildBlocks(label, subject, body string, markdown bool) []block {
	var blocks []block
	if subject != "" {
		blocks = append(blocks, block{
			Type: "header",
			Text: &textObject{Type: "plain_text", Text: truncate(subject, maxHeaderText)},
		})
	}
	textType := "plain_text"
	if markdown {
		textType = "mrkdwn"
	}
	for _, chunk := range chunks(body, maxSectionText) {
		blocks = append(blocks, block{
			Type: "section",
			Text: &textObject{Type: textType, Text: chunk},
		})
	}
	blocks = append(blocks, block{
		Type:     "context",
		Elements: []textObject{{Type: "mrkdwn", Text: "Priority: " + label}},
	})
	return blocks
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

func chunks(s string, limit int) []string {
	r := []rune(s)
	if len(r) == 0 {
		return []string{" "}
	}
	var out []string
	for len(r) > limit {
		out = append(out, string(r[:limit]))
		r = r[limit:]
	}
	return append(out, string(r))
}
