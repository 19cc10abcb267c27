package orchestrate

import "strings"

// Reply is the closed set of shapes an agent message body arrives in.
// Build one with ParseReply and read it with ExtractText.
type Reply interface {
	reply()
}

// TextReply is a plain string body.
type TextReply string

// FragmentsReply is a list body; each element may or may not carry text.
type FragmentsReply []Fragment

// Fragment is one element of a list body. Present is false for elements that
// had neither a string value nor a string "text" field.
type Fragment struct {
	Text    string
	Present bool
}

// StructuredReply is an object body.
type StructuredReply map[string]any

// EmptyReply is anything else: null, numbers, booleans.
type EmptyReply struct{}

func (TextReply) reply()       {}
func (FragmentsReply) reply()  {}
func (StructuredReply) reply() {}
func (EmptyReply) reply()      {}

// ParseReply classifies a decoded JSON value.
func ParseReply(v any) Reply {
	switch val := v.(type) {
	case string:
		return TextReply(val)
	case []any:
		frags := make(FragmentsReply, 0, len(val))
		for _, item := range val {
			frags = append(frags, parseFragment(item))
		}
		return frags
	case map[string]any:
		return StructuredReply(val)
	default:
		return EmptyReply{}
	}
}

func parseFragment(item any) Fragment {
	switch it := item.(type) {
	case string:
		return Fragment{Text: it, Present: true}
	case map[string]any:
		if t, ok := it["text"].(string); ok {
			return Fragment{Text: t, Present: true}
		}
	}
	return Fragment{}
}

// ExtractText reduces a reply to a single clean string. It never fails;
// unrecognized shapes yield "".
func ExtractText(r Reply) string {
	switch val := r.(type) {
	case TextReply:
		return string(val)
	case FragmentsReply:
		texts := make([]string, 0, len(val))
		for _, f := range val {
			if f.Present {
				texts = append(texts, f.Text)
			}
		}
		return strings.Join(texts, " ")
	case StructuredReply:
		if t, ok := val["text"]; ok {
			return ExtractText(ParseReply(t))
		}
		if c, ok := val["content"]; ok {
			return ExtractText(ParseReply(c))
		}
		return ""
	default:
		return ""
	}
}
