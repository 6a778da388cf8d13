package gateway

import "strings"

// chunkMessage splits text into Telegram-sized chunks. Every chunk but
// the last carries a trailing ellipsis; splits prefer the last line or
// word break inside the limit.
func chunkMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit - 1
		if idx := lastBreak(runes[:cut]); idx > 0 {
			cut = idx
		}
		chunk := strings.TrimSpace(string(runes[:cut]))
		chunks = append(chunks, chunk+"…")
		for cut < len(runes) && (runes[cut] == ' ' || runes[cut] == '\n') {
			cut++
		}
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// lastBreak finds the rightmost newline or space, ignoring breaks in
// the first tenth so chunks never degenerate.
func lastBreak(runes []rune) int {
	min := len(runes) / 10
	for i := len(runes) - 1; i > min; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	for i := len(runes) - 1; i > min; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
