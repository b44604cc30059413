package document

import (
	"strings"
	"unicode"
)

const invalidFileChars = `<>:"/\|?*`

// SuggestFileName derives a file name from a document title by dropping
// characters that are not allowed in file names.
func SuggestFileName(title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsControl(r) || strings.ContainsRune(invalidFileChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		return "scan.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
