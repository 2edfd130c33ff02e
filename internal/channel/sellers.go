package channel

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultSellerLabel is used when neither the table nor the email yields a name
const DefaultSellerLabel = "Asesor"

// SellerDirectory resolves the display name an agent signs templates with
type SellerDirectory struct {
	names    map[string]string
	fallback string
}

// NewSellerDirectory builds a directory from an email to name table.
// Keys are matched case-insensitively.
func NewSellerDirectory(names map[string]string, fallback string) *SellerDirectory {
	if fallback == "" {
		fallback = DefaultSellerLabel
	}
	d := &SellerDirectory{
		names:    make(map[string]string, len(names)),
		fallback: fallback,
	}
	for email, name := range names {
		d.names[strings.ToLower(strings.TrimSpace(email))] = name
	}
	return d
}

// Name returns the table entry for email, else a prettified local part,
// else the generic label.
func (d *SellerDirectory) Name(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if name, ok := d.names[email]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	if name := d.prettify(email); name != "" {
		return name
	}
	return d.fallback
}

// prettify turns "juan.perez+ventas2@x.com" into "Juan Perez".
func (d *SellerDirectory) prettify(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local, _, _ = strings.Cut(local, "+")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return ""
	}
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.Spanish).String(strings.Join(words, " "))
}
