package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/realism/internal/sapiom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	searchDepth string
	fetchErr    error
	extractErr  error
	shotErr     error
	markdown    string
	extract     sapiom.ExtractResponse
	imageURL    string
	audioURL    string
	calls       []string
}

func (f *fakeBackend) Search(_ context.Context, q, depth string) (sapiom.SearchResponse, error) {
	f.calls = append(f.calls, "search")
	f.searchDepth = depth
	return sapiom.SearchResponse{Results: []sapiom.SearchResult{{Title: "T <b>", URL: "https://a", Snippet: q}}}, nil
}

func (f *fakeBackend) Fetch(context.Context, string) (sapiom.FetchResponse, error) {
	f.calls = append(f.calls, "fetch")
	return sapiom.FetchResponse{Markdown: f.markdown}, f.fetchErr
}

func (f *fakeBackend) Extract(context.Context, string) (sapiom.ExtractResponse, error) {
	f.calls = append(f.calls, "extract")
	return f.extract, f.extractErr
}

func (f *fakeBackend) Screenshot(context.Context, string) (sapiom.ScreenshotResponse, error) {
	f.calls = append(f.calls, "screenshot")
	return sapiom.ScreenshotResponse{Image: "aGVsbG8=", Width: 1280, Height: 720}, f.shotErr
}

func (f *fakeBackend) GenerateImage(context.Context, string, string) (sapiom.ImageResponse, error) {
	f.calls = append(f.calls, "image")
	return sapiom.ImageResponse{Images: []sapiom.Image{{URL: f.imageURL, Width: 1024, Height: 768}}}, nil
}

func (f *fakeBackend) TextToSpeech(context.Context, string, string) (sapiom.SpeechResponse, error) {
	f.calls = append(f.calls, "tts")
	return sapiom.SpeechResponse{AudioURL: f.audioURL}, nil
}

type fakeRenderer struct {
	page Page
	err  error
}

func (r fakeRenderer) Read(context.Context, string) (Page, error) { return r.page, r.err }

func (r fakeRenderer) Screenshot(context.Context, string) (Capture, error) {
	return Capture{Image: "bG9jYWw=", Width: 1280, Height: 720}, r.err
}

func decodeVisible(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out), s)
	return out
}

func TestCatalog(t *testing.T) {
	specs := Catalog()
	require.Len(t, specs, 6)
	for _, s := range specs {
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(s.Schema), &doc), s.Name)
	}
	assert.Len(t, OpenAITools(), 6)

	costs := map[string]float64{
		Search: 0.006, DeepSearch: 0.055, Fetch: 0.010, Screenshot: 0.010,
		GenerateImage: 0.040, TextToSpeech: 0.024, "made_up": 0.005,
	}
	for name, want := range costs {
		assert.Equal(t, want, EstimateCost(name), name)
	}
}

func TestDecodeArgs(t *testing.T) {
	a, err := DecodeArgs(Search, `{"query":"ev","depth":"deep"}`)
	require.NoError(t, err)
	assert.Equal(t, SearchArgs{Query: "ev", Depth: "deep"}, a)

	a, err = DecodeArgs(Search, `{"query":"ev","depth":"extreme"}`)
	assert.Error(t, err)
	assert.Equal(t, SearchArgs{}, a)

	a, err = DecodeArgs(Fetch, `{not json`)
	assert.Error(t, err)
	assert.Equal(t, FetchArgs{}, a)

	a, err = DecodeArgs(GenerateImage, `{"model":"fal-ai/flux/dev"}`)
	assert.Error(t, err, "prompt is required by the schema")
	assert.Equal(t, ImageArgs{}, a)

	a, err = DecodeArgs(TextToSpeech, `{"text":"hello","voiceId":"v1"}`)
	require.NoError(t, err)
	assert.Equal(t, SpeechArgs{Text: "hello", VoiceID: "v1"}, a)

	a, err = DecodeArgs("sapiom_teleport", `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, UnknownArgs{Name: "sapiom_teleport"}, a)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, `Searching: "ev market"`, Describe(SearchArgs{Query: "ev market"}))
	assert.Equal(t, `Searching: "deep"`, Describe(DeepSearchArgs{Query: "deep"}))
	assert.Equal(t, "Reading: https://a", Describe(FetchArgs{URL: "https://a"}))
	assert.Equal(t, "Screenshot: https://a", Describe(ScreenshotArgs{URL: "https://a"}))
	long := strings.Repeat("p", 80)
	assert.Equal(t, `Generating image: "`+strings.Repeat("p", 60)+`..."`, Describe(ImageArgs{Prompt: long}))
	assert.Equal(t, `Generating image: "short..."`, Describe(ImageArgs{Prompt: "short"}))
	assert.Equal(t, "Converting to audio (3 words)", Describe(SpeechArgs{Text: "one two three"}))
	assert.Equal(t, "other_tool", Describe(UnknownArgs{Name: "other_tool"}))
}

func TestDispatchSearch(t *testing.T) {
	fb := &fakeBackend{}
	d := NewDispatcher(fb)
	res := d.Execute(context.Background(), d.Prepare(Call{Name: DeepSearch, Arguments: `{"query":"q"}`}))
	assert.Equal(t, "deep", fb.searchDepth)
	assert.Contains(t, res.ModelVisible, `"T <b>"`)

	res = d.Execute(context.Background(), d.Prepare(Call{Name: Search, Arguments: `{"query":"q"}`}))
	assert.Equal(t, "standard", fb.searchDepth)
	assert.Empty(t, res.AudioURL)
}

func TestDispatchFetchTruncates(t *testing.T) {
	fb := &fakeBackend{markdown: strings.Repeat("m", 9000)}
	d := NewDispatcher(fb)
	res := d.Execute(context.Background(), d.Prepare(Call{Name: Fetch, Arguments: `{"url":"https://example.com"}`}))
	out := decodeVisible(t, res.ModelVisible)
	assert.Len(t, out["content"], MaxContentChars)
	assert.Equal(t, "https://example.com", out["url"])
}

func TestDispatchFetchFallsBackToExtract(t *testing.T) {
	fb := &fakeBackend{
		fetchErr: errors.New("linkup down"),
		extract:  sapiom.ExtractResponse{Content: strings.Repeat("e", 8500), Title: "Page", URL: "https://example.com"},
	}
	d := NewDispatcher(fb)
	res := d.Execute(context.Background(), d.Prepare(Call{Name: Fetch, Arguments: `{"url":"https://example.com"}`}))
	out := decodeVisible(t, res.ModelVisible)
	assert.Equal(t, "Page", out["title"])
	assert.Len(t, out["content"], MaxContentChars)
	assert.Equal(t, []string{"fetch", "extract"}, fb.calls)
}

func TestDispatchFetchFallsBackToRenderer(t *testing.T) {
	fb := &fakeBackend{fetchErr: errors.New("a"), extractErr: errors.New("b")}
	d := NewDispatcher(fb, WithRenderer(fakeRenderer{page: Page{Title: "Local", Content: "text", URL: "https://example.com"}}))
	res := d.Execute(context.Background(), d.Prepare(Call{Name: Fetch, Arguments: `{"url":"https://example.com"}`}))
	out := decodeVisible(t, res.ModelVisible)
	assert.Equal(t, "Local", out["title"])

	d = NewDispatcher(fb)
	res = d.Execute(context.Background(), d.Prepare(Call{Name: Fetch, Arguments: `{"url":"https://example.com"}`}))
	out = decodeVisible(t, res.ModelVisible)
	assert.Equal(t, "Tool execution failed: b", out["error"])
}

func TestDispatchScreenshotFallback(t *testing.T) {
	fb := &fakeBackend{shotErr: errors.New("anchor down")}
	d := NewDispatcher(fb, WithRenderer(fakeRenderer{}))
	res := d.Execute(context.Background(), d.Prepare(Call{Name: Screenshot, Arguments: `{"url":"https://example.com"}`}))
	out := decodeVisible(t, res.ModelVisible)
	assert.Equal(t, "bG9jYWw=", out["image"])
}

func TestDispatchImageSideband(t *testing.T) {
	fb := &fakeBackend{imageURL: "https://img/cover.png"}
	d := NewDispatcher(fb)
	p := d.Prepare(Call{ID: "c1", Name: GenerateImage, Arguments: `{"prompt":"a cover"}`})
	assert.Equal(t, 0.040, p.Cost)
	res := d.Execute(context.Background(), p)
	assert.Equal(t, "https://img/cover.png", res.ImageURL)
	assert.Contains(t, res.ModelVisible, "https://img/cover.png")
}

func TestDispatchSpeech(t *testing.T) {
	fb := &fakeBackend{audioURL: "https://audio/1.mp3"}
	d := NewDispatcher(fb)
	res := d.Execute(context.Background(), d.Prepare(Call{Name: TextToSpeech, Arguments: `{"text":"one  two\nthree"}`}))
	out := decodeVisible(t, res.ModelVisible)
	assert.Equal(t, "audio_generated", out["status"])
	assert.EqualValues(t, 3, out["wordCount"])
	assert.Equal(t, "mp3", out["format"])
	assert.Equal(t, "https://audio/1.mp3", res.AudioURL)
}

func TestDispatchMalformedAndUnknown(t *testing.T) {
	fb := &fakeBackend{}
	d := NewDispatcher(fb)

	p := d.Prepare(Call{Name: Search, Arguments: `{"query": 42}`})
	assert.Equal(t, SearchArgs{}, p.Args)
	res := d.Execute(context.Background(), p)
	assert.Equal(t, "Tool execution failed: query is required", decodeVisible(t, res.ModelVisible)["error"])
	assert.Empty(t, fb.calls)

	p = d.Prepare(Call{Name: "sapiom_teleport", Arguments: `{}`})
	assert.Equal(t, DefaultCost, p.Cost)
	assert.Equal(t, "sapiom_teleport", p.Description)
	res = d.Execute(context.Background(), p)
	assert.Equal(t, "Tool execution failed: unknown tool: sapiom_teleport", decodeVisible(t, res.ModelVisible)["error"])
}
