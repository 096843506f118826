package sanitize

import "regexp"

// Plain emails, case-insensitive.
var reEmail = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)

// Common phone shapes: +52..., (xxx) xxx-xxxx, 55xxxxxxxx, etc.
// Only digits, spaces, minus, dot, parens and plus; at least 9 digits total
// so short figures in running text survive.
var rePhone = regexp.MustCompile(`\+?\d[\d\s\-\.\(\)]{7,}\d`)

// RedactPII strips contact details from free text. Used on consultation
// descriptions shown to a lawyer before the consultation is accepted.
func RedactPII(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[redacted email]")
	s = rePhone.ReplaceAllString(s, "[redacted phone]")
	return s
}

// Summary trims text for list previews, breaking on a word boundary.
func Summary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	i := max
	for i > 0 && i < len(s) && s[i] != ' ' {
		i--
	}
	if i <= 0 {
		i = max
	}
	return s[:i] + "…"
}
