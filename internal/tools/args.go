package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/realism/internal/helpers"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Args is the decoded, schema-checked argument set for one tool call. The
// concrete type identifies the tool.
type Args interface {
	Tool() string
}

type SearchArgs struct {
	Query string `json:"query"`
	Depth string `json:"depth,omitempty"`
}

type DeepSearchArgs struct {
	Query string `json:"query"`
}

type FetchArgs struct {
	URL string `json:"url"`
}

type ScreenshotArgs struct {
	URL string `json:"url"`
}

type ImageArgs struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type SpeechArgs struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// UnknownArgs carries a call to a tool outside the catalog.
type UnknownArgs struct {
	Name string
}

func (SearchArgs) Tool() string     { return Search }
func (DeepSearchArgs) Tool() string { return DeepSearch }
func (FetchArgs) Tool() string      { return Fetch }
func (ScreenshotArgs) Tool() string { return Screenshot }
func (ImageArgs) Tool() string      { return GenerateImage }
func (SpeechArgs) Tool() string     { return TextToSpeech }
func (a UnknownArgs) Tool() string  { return a.Name }

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		out := make(map[string]*jsonschema.Schema, len(catalog))
		for _, s := range catalog {
			compiler := jsonschema.NewCompiler()
			res := s.Name + ".json"
			if err := compiler.AddResource(res, strings.NewReader(s.Schema)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", s.Name, err)
				return
			}
			compiled, err := compiler.Compile(res)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", s.Name, err)
				return
			}
			out[s.Name] = compiled
		}
		schemas = out
	})
	return schemas, schemaErr
}

func emptyArgs(name string) Args {
	switch name {
	case Search:
		return SearchArgs{}
	case DeepSearch:
		return DeepSearchArgs{}
	case Fetch:
		return FetchArgs{}
	case Screenshot:
		return ScreenshotArgs{}
	case GenerateImage:
		return ImageArgs{}
	case TextToSpeech:
		return SpeechArgs{}
	}
	return UnknownArgs{Name: name}
}

// DecodeArgs parses the model's raw argument string for the named tool and
// validates it against the tool's advertised schema. Unparseable or invalid
// arguments yield the tool's empty variant together with the reason.
func DecodeArgs(name, raw string) (Args, error) {
	empty := emptyArgs(name)
	if _, ok := empty.(UnknownArgs); ok {
		return empty, nil
	}
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return empty, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	all, err := compiledSchemas()
	if err != nil {
		return empty, err
	}
	if err := all[name].Validate(doc); err != nil {
		return empty, fmt.Errorf("arguments do not match schema: %w", err)
	}

	var decoded Args
	switch name {
	case Search:
		var a SearchArgs
		err = json.Unmarshal([]byte(raw), &a)
		decoded = a
	case DeepSearch:
		var a DeepSearchArgs
		err = json.Unmarshal([]byte(raw), &a)
		decoded = a
	case Fetch:
		var a FetchArgs
		err = json.Unmarshal([]byte(raw), &a)
		decoded = a
	case Screenshot:
		var a ScreenshotArgs
		err = json.Unmarshal([]byte(raw), &a)
		decoded = a
	case GenerateImage:
		var a ImageArgs
		err = json.Unmarshal([]byte(raw), &a)
		decoded = a
	case TextToSpeech:
		var a SpeechArgs
		err = json.Unmarshal([]byte(raw), &a)
		decoded = a
	}
	if err != nil {
		return empty, err
	}
	return decoded, nil
}

// Describe renders the human-readable line recorded with a spend event.
func Describe(args Args) string {
	switch a := args.(type) {
	case SearchArgs:
		return `Searching: "` + a.Query + `"`
	case DeepSearchArgs:
		return `Searching: "` + a.Query + `"`
	case FetchArgs:
		return "Reading: " + a.URL
	case ScreenshotArgs:
		return "Screenshot: " + a.URL
	case ImageArgs:
		return fmt.Sprintf("Generating image: \"%s...\"", helpers.Truncate(a.Prompt, 60))
	case SpeechArgs:
		return fmt.Sprintf("Converting to audio (%d words)", len(strings.Split(a.Text, " ")))
	}
	return args.Tool()
}
