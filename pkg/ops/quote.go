package ops

import "strings"

// Quote single-quotes s for a POSIX shell
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteGlob quotes s but leaves the wildcards * ? and [...] to the shell
func QuoteGlob(s string) string {
	var b strings.Builder
	var chunk strings.Builder
	flush := func() {
		if chunk.Len() > 0 {
			b.WriteString(Quote(chunk.String()))
			chunk.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '*', '?':
			flush()
			b.WriteByte(c)
		case '[':
			end := strings.IndexByte(s[i+1:], ']')
			if end < 0 {
				chunk.WriteByte(c)
				continue
			}
			flush()
			b.WriteString(s[i : i+end+2])
			i += end + 1
		default:
			chunk.WriteByte(c)
		}
	}
	flush()
	if b.Len() == 0 {
		return "''"
	}
	return b.String()
}

func quoteAll(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, Quote(it))
	}
	return strings.Join(quoted, " ")
}
