package protocol

import "strings"

// LineWidth is the number of characters a Message packet can carry.
const LineWidth = StringSize

const colorDigits = "0123456789abcdefABCDEF"

// ConvertColorCodes turns the client-typed %X colour escapes into &X codes.
func ConvertColorCodes(msg string) string {
	b := []byte(msg)
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '%' && strings.IndexByte(colorDigits, b[i+1]) >= 0 {
			b[i] = '&'
		}
	}
	return string(b)
}

// StripColorCodes removes &X codes, for logs and other plain-text sinks.
func StripColorCodes(msg string) string {
	var sb strings.Builder
	sb.Grow(len(msg))
	for i := 0; i < len(msg); i++ {
		if msg[i] == '&' && i+1 < len(msg) && strings.IndexByte(colorDigits, msg[i+1]) >= 0 {
			i++
			continue
		}
		sb.WriteByte(msg[i])
	}
	return sb.String()
}

// WrapMessage splits msg into lines of at most LineWidth characters, breaking
// on spaces where possible. The last colour code of each line is carried to
// the start of the next one.
func WrapMessage(msg string) []string {
	var lines []string
	color := []rune(nil)
	rest := []rune(msg)
	for {
		line := append(append([]rune(nil), color...), rest...)
		if len(line) <= LineWidth {
			lines = append(lines, string(line))
			return lines
		}
		cut := lastSpace(line[:LineWidth+1])
		if cut <= len(color) {
			cut = LineWidth
		}
		head := line[:cut]
		lines = append(lines, string(head))
		if c := lastColorCode(head); c != nil {
			color = c
		}
		rest = trimLeadingSpaces(line[cut:])
		if len(rest) == 0 {
			return lines
		}
	}
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

func trimLeadingSpaces(r []rune) []rune {
	for len(r) > 0 && r[0] == ' ' {
		r = r[1:]
	}
	return r
}

func lastColorCode(r []rune) []rune {
	for i := len(r) - 2; i >= 0; i-- {
		if r[i] == '&' {
			return []rune{r[i], r[i+1]}
		}
	}
	return nil
}

// DowngradeCP437 replaces every character outside 7-bit ASCII with '?', for
// clients that cannot render the full code page.
func DowngradeCP437(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r > 127 {
			sb.WriteByte('?')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
