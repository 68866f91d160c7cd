package artifact

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/realism/internal/helpers"
)

const (
	startMarker = "ARTIFACT_JSON"

	fallbackTitleRunes   = 60
	fallbackSummaryRunes = 200
)

var (
	markerBlock   = regexp.MustCompile(`ARTIFACT_JSON\s*([\s\S]*?)\s*END_ARTIFACT_JSON`)
	fencedObject  = regexp.MustCompile("```(?:json)?\\s*\\n?\\s*(\\{[\\s\\S]*?\\})\\s*\\n?\\s*```")
	typedObject   = regexp.MustCompile(`\{[^{}]*"type"\s*:\s*"(?:document|audio|image|mixed)"[^{}]*\}`)
	danglingBlock = regexp.MustCompile(`ARTIFACT_JSON[\s\S]*`)
	jsonFence     = regexp.MustCompile("```json[\\s\\S]*?```")
)

// RepairJSONNewlines escapes literal newlines and tabs that appear inside JSON
// string values and drops carriage returns there. Text outside strings is left
// as is, byte for byte.
func RepairJSONNewlines(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case escaped:
			b.WriteByte(ch)
			escaped = false
		case ch == '\\' && inString:
			b.WriteByte(ch)
			escaped = true
		case ch == '"':
			inString = !inString
			b.WriteByte(ch)
		case inString && ch == '\n':
			b.WriteString(`\n`)
		case inString && ch == '\r':
		case inString && ch == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func tryParse(raw string) (*Artifact, bool) {
	if a, ok := decode(raw); ok {
		return a, true
	}
	return decode(RepairJSONNewlines(strings.TrimSpace(raw)))
}

func decode(raw string) (*Artifact, bool) {
	var a Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, false
	}
	if a.Type == "" || a.Title == "" {
		return nil, false
	}
	return &a, true
}

// Parse recovers artifact metadata from a model's final answer. Stages run in
// order and the first accepted object wins: marker block, fenced json object,
// then the last brace-delimited object carrying a known type. Text before the
// marker or fence becomes content when the object has none.
func Parse(text string) (*Artifact, bool) {
	var textContent string
	if idx := strings.Index(text, startMarker); idx > 0 {
		textContent = strings.TrimSpace(text[:idx])
	}

	if m := markerBlock.FindStringSubmatch(text); m != nil {
		if a, ok := tryParse(m[1]); ok {
			if a.Content == "" && textContent != "" {
				a.Content = textContent
			}
			return a, true
		}
	}

	if loc := fencedObject.FindStringSubmatchIndex(text); loc != nil {
		var fenceContent string
		if loc[0] > 0 {
			fenceContent = strings.TrimSpace(text[:loc[0]])
		}
		if a, ok := tryParse(text[loc[2]:loc[3]]); ok {
			if a.Content == "" && fenceContent != "" {
				a.Content = fenceContent
			}
			return a, true
		}
	}

	blocks := typedObject.FindAllString(text, -1)
	for i := len(blocks) - 1; i >= 0; i-- {
		if a, ok := tryParse(blocks[i]); ok {
			if a.Content == "" && textContent != "" {
				a.Content = textContent
			}
			return a, true
		}
	}
	return nil, false
}

// Fallback synthesises a document artifact from raw model text.
func Fallback(goal, text string) Artifact {
	return Artifact{
		Type:    TypeDocument,
		Title:   helpers.Truncate(goal, fallbackTitleRunes),
		Content: text,
		Summary: helpers.Truncate(text, fallbackSummaryRunes),
	}
}

// Finalize turns a parse result into the stored artifact: it falls back when
// parsing failed, guarantees non-empty content whenever text was produced,
// cleans one-line fields and folds in media assets.
func Finalize(parsed *Artifact, text, goal string, assets Assets) Artifact {
	var a Artifact
	if parsed != nil {
		a = *parsed
	} else {
		a = Fallback(goal, text)
	}
	if !a.Type.Valid() {
		a.Type = TypeDocument
	}
	if a.Content == "" {
		a.Content = StripMetadata(text)
		if a.Content == "" {
			a.Content = a.Summary
		}
		if a.Content == "" {
			a.Content = helpers.Truncate(strings.TrimSpace(text), fallbackSummaryRunes)
		}
	}
	a.Title = helpers.PlainText(a.Title)
	if a.Title == "" {
		a.Title = helpers.Truncate(goal, fallbackTitleRunes)
	}
	a.Summary = helpers.PlainText(a.Summary)
	a.Inject(assets)
	return a
}

// StripMetadata removes marker blocks, a dangling opening marker and json
// fences from text.
func StripMetadata(text string) string {
	out := markerBlock.ReplaceAllString(text, "")
	out = danglingBlock.ReplaceAllString(out, "")
	out = jsonFence.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
