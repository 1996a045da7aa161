package telegram

import (
	"strings"
	"unicode/utf8"
)

// TextLimit is the longest text, in runes, put into one message.
const TextLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring line
// breaks. With parseMode HTML a cut never lands inside a tag or an entity;
// tags still open at a cut are closed at the end of that chunk and reopened
// at the start of the next, so every chunk is valid on its own.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	var open []string
	for len(rs) > 0 {
		prefix := strings.Join(open, "")
		window := limit - utf8.RuneCountInString(prefix)
		if window < limit/4 {
			// Nesting too deep to carry; give up on balancing.
			open, prefix, window = nil, "", limit
		}
		if len(rs) <= window {
			out = append(out, prefix+string(rs))
			break
		}

		end := cutPoint(rs, window, html)
		var next []string
		suffix := ""
		for {
			if html {
				next = openTags(open, rs[:end])
				suffix = closingTags(next)
			}
			over := utf8.RuneCountInString(prefix) + end + utf8.RuneCountInString(suffix) - limit
			if over <= 0 || end-over <= 0 {
				break
			}
			end = cutPoint(rs, end-over, html)
		}

		out = append(out, prefix+strings.TrimRight(string(rs[:end]), "\n")+suffix)
		open = next
		rs = rs[end:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

// cutPoint picks where to end a chunk of at most window runes of rs.
func cutPoint(rs []rune, window int, html bool) int {
	end := window
	for i := end - 1; i > 0 && i >= window/3; i-- {
		if rs[i] == '\n' {
			end = i + 1
			break
		}
	}
	if !html {
		return end
	}
	// Step back over a half-written tag, then over a half-written entity.
	for i := end - 1; i > 0; i-- {
		if rs[i] == '>' {
			break
		}
		if rs[i] == '<' {
			end = i
			break
		}
	}
	for i := end - 1; i > 0 && end-i <= 10; i-- {
		if rs[i] == ';' || rs[i] == ' ' || rs[i] == '\n' {
			break
		}
		if rs[i] == '&' {
			end = i
			break
		}
	}
	return end
}

// openTags returns the opening tags still unclosed after seg, starting from
// the already open ones.
func openTags(open []string, seg []rune) []string {
	stack := append([]string(nil), open...)
	for i := 0; i < len(seg); i++ {
		if seg[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(seg) && seg[j] != '>' {
			j++
		}
		if j == len(seg) {
			break
		}
		tag := string(seg[i : j+1])
		switch {
		case strings.HasPrefix(tag, "</"):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case strings.HasSuffix(tag, "/>"):
		default:
			stack = append(stack, tag)
		}
		i = j
	}
	return stack
}

func closingTags(stack []string) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + tagName(stack[i]) + ">")
	}
	return b.String()
}

func tagName(tag string) string {
	name := strings.TrimPrefix(strings.TrimSuffix(tag, ">"), "<")
	if k := strings.IndexAny(name, " \t\n"); k >= 0 {
		name = name[:k]
	}
	return name
}
