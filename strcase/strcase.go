// Package strcase converts identifier strings between common naming
// conventions (camelCase, PascalCase, snake_case, SCREAMING_SNAKE_CASE).
package strcase

import "strings"

// Snake converts s to snake_case.
func Snake(s string) string {
	return delimit(s, '_', strings.ToLower)
}

// ScreamingSnake converts s to SCREAMING_SNAKE_CASE.
func ScreamingSnake(s string) string {
	return delimit(s, '_', strings.ToUpper)
}

// delimit splits s at case and word boundaries, joins the parts with sep and
// applies transform to each part.
func delimit(s string, sep byte, transform func(string) string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/3)

	runes := []rune(s)
	for i, r := range runes {
		isUpper := r >= 'A' && r <= 'Z'

		boundary := false
		if i > 0 {
			prev := runes[i-1]
			prevIsUpper := prev >= 'A' && prev <= 'Z'
			prevIsLowerOrDigit := (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')

			switch {
			case (r == '_' || r == '-' || r == ' '):
				boundary = false
			case isUpper && (prevIsLowerOrDigit || (prevIsUpper && i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z')):
				boundary = true
			}
		}

		if r == '_' || r == '-' || r == ' ' {
			b.WriteByte(sep)
			continue
		}

		if boundary && b.Len() > 0 {
			b.WriteByte(sep)
		}

		b.WriteRune(r)
	}

	return transform(b.String())
}
