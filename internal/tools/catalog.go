package tools

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

const (
	Search        = "sapiom_search"
	DeepSearch    = "sapiom_deep_search"
	Fetch         = "sapiom_fetch"
	Screenshot    = "sapiom_screenshot"
	GenerateImage = "sapiom_generate_image"
	TextToSpeech  = "sapiom_text_to_speech"
)

// DefaultCost is charged for tool names outside the catalog.
const DefaultCost = 0.005

// Spec describes one tool advertised to the model.
type Spec struct {
	Name        string
	Description string
	Schema      string
	Cost        float64
}

var catalog = []Spec{
	{
		Name:        Search,
		Description: `Search the web using Linkup. Returns search results with titles, URLs, and snippets. Use depth "deep" for thorough research.`,
		Cost:        0.006,
		Schema: `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "depth": {"type": "string", "enum": ["standard", "deep"], "description": "Search depth. Use deep for research tasks."}
  },
  "required": ["query"]
}`,
	},
	{
		Name:        DeepSearch,
		Description: "Deep web search for comprehensive coverage, always uses deep mode. Use alongside sapiom_search for broader coverage.",
		Cost:        0.055,
		Schema: `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"}
  },
  "required": ["query"]
}`,
	},
	{
		Name:        Fetch,
		Description: "Extract webpage content as clean markdown. Use after sapiom_search to read full articles, search snippets are never enough.",
		Cost:        0.010,
		Schema: `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "URL to fetch"}
  },
  "required": ["url"]
}`,
	},
	{
		Name:        Screenshot,
		Description: "Capture a screenshot of any URL. Use for visual comparison or when the user needs to see a page.",
		Cost:        0.010,
		Schema: `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "URL to screenshot"}
  },
  "required": ["url"]
}`,
	},
	{
		Name:        GenerateImage,
		Description: "Generate an image from a text prompt using FLUX. Use for visual artifacts, cover images, brand concepts.",
		Cost:        0.040,
		Schema: `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "Detailed image generation prompt"},
    "model": {"type": "string", "enum": ["fal-ai/flux/schnell", "fal-ai/flux/dev", "fal-ai/flux-pro"], "description": "Model to use. schnell is fastest/cheapest. dev is higher quality."}
  },
  "required": ["prompt"]
}`,
	},
	{
		Name:        TextToSpeech,
		Description: "Convert text to speech audio. Returns a playable audio URL. Use when the user wants an audio summary or podcast-style output.",
		Cost:        0.024,
		Schema: `{
  "type": "object",
  "properties": {
    "text": {"type": "string", "description": "Text to convert to speech. Max ~2000 chars for best results."},
    "voiceId": {"type": "string", "description": "Voice ID. Leave blank for default (George, neutral professional)."}
  },
  "required": ["text"]
}`,
	},
}

// Catalog returns the advertised tools in a stable order.
func Catalog() []Spec {
	return append([]Spec(nil), catalog...)
}

// Lookup finds a tool by name.
func Lookup(name string) (Spec, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// EstimateCost is the fixed charge recorded when a tool is dispatched.
func EstimateCost(name string) float64 {
	if s, ok := Lookup(name); ok {
		return s.Cost
	}
	return DefaultCost
}

// OpenAITools renders the catalog as function definitions for chat completions.
func OpenAITools() []openai.Tool {
	out := make([]openai.Tool, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  json.RawMessage(s.Schema),
			},
		})
	}
	return out
}
