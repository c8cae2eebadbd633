package board

import (
	"strings"
	"unicode/utf8"
)

// DefaultPlaceholders is the text new notes are created with. A note still
// showing one of these has no content of its own.
var DefaultPlaceholders = []string{"New note", "Double-click to edit"}

// pdfTextMax caps the extracted PDF text sent to the collaborator.
const pdfTextMax = 4000

// Policy decides which items carry content worth analyzing.
type Policy struct {
	Placeholders []string
}

// DefaultPolicy returns the policy with the default placeholder set.
func DefaultPolicy() Policy {
	return Policy{Placeholders: DefaultPlaceholders}
}

// Eligible reports whether an item holds non-empty, non-placeholder content.
// Placeholder text does not count as content.
func (p Policy) Eligible(it Item) bool {
	switch it.Kind {
	case KindText:
		text := strings.TrimSpace(it.StringField("text"))
		if text == "" {
			return false
		}
		for _, ph := range p.Placeholders {
			if strings.EqualFold(text, strings.TrimSpace(ph)) {
				return false
			}
		}
		return true
	case KindImage:
		return it.StringField("src") != ""
	case KindLink:
		return strings.TrimSpace(it.StringField("url")) != ""
	case KindPDF:
		return it.StringField("data") != "" || strings.TrimSpace(it.StringField("text")) != ""
	default:
		return false
	}
}

// EligibleItems filters items by the policy, keeping order.
func (p Policy) EligibleItems(items []Item) []Item {
	var out []Item
	for _, it := range items {
		if p.Eligible(it) {
			out = append(out, it)
		}
	}
	return out
}

// Payload returns the content the relationship finder sees for an item.
// Binary payloads are never included inline.
func Payload(it Item) map[string]string {
	out := map[string]string{}
	put := func(key, field string) {
		if v := strings.TrimSpace(it.StringField(field)); v != "" {
			out[key] = v
		}
	}

	switch it.Kind {
	case KindText:
		put("text", "text")
	case KindImage:
		put("caption", "caption")
		put("alt", "alt")
		if it.StringField("src") != "" {
			out["image"] = "present"
		}
	case KindLink:
		put("url", "url")
		put("title", "title")
		put("description", "description")
	case KindPDF:
		put("fileName", "fileName")
		if text := strings.TrimSpace(it.StringField("text")); text != "" {
			if len(text) > pdfTextMax {
				cut := pdfTextMax
				for cut > 0 && !utf8.RuneStart(text[cut]) {
					cut--
				}
				text = text[:cut] + "..."
			}
			out["text"] = text
		}
	}
	return out
}
