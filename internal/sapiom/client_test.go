package sapiom

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path string
	auth string
	body map[string]any
}

func newBackend(t *testing.T, handler func(path string) (int, string)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls = append(calls, recorded{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		status, resp := handler(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	eps := Endpoints{Linkup: srv.URL, Anchor: srv.URL, FAL: srv.URL, ElevenLabs: srv.URL, Prelude: srv.URL, Governance: srv.URL}
	c := New("key-123", WithHTTPClient(srv.Client()), WithEndpoints(eps), WithRateLimit(0, 0))
	return c, &calls
}

func TestSearchSendsLinkupRequest(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) {
		return 200, `{"results":[{"title":"A","url":"https://a","snippet":"s"}]}`
	})
	res, err := c.Search(context.Background(), "ev market", "")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "https://a", res.Results[0].URL)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/v1/search", call.path)
	assert.Equal(t, "Bearer key-123", call.auth)
	assert.Equal(t, "ev market", call.body["q"])
	assert.Equal(t, "standard", call.body["depth"])
	assert.Equal(t, "searchResults", call.body["outputType"])
}

func TestErrorCarriesStatus(t *testing.T) {
	c, _ := newBackend(t, func(string) (int, string) { return 422, `{"error":"bad code"}` })
	_, err := c.CheckVerification(context.Background(), "v1", "1234")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.Status)
	assert.Contains(t, apiErr.Message, "bad code")
}

func TestNonJSONResponse(t *testing.T) {
	c, _ := newBackend(t, func(string) (int, string) { return 200, `<html>oops</html>` })
	_, err := c.Fetch(context.Background(), "https://example.com")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "non-JSON")
}

func TestTextToSpeechPrefixesRelativeURL(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) {
		return 200, `{"url":"/files/abc.mp3","expiresAt":"2025-01-01T00:00:00Z"}`
	})
	res, err := c.TextToSpeech(context.Background(), "hello world", "")
	require.NoError(t, err)
	assert.Equal(t, c.Endpoints().ElevenLabs+"/files/abc.mp3", res.AudioURL)
	assert.Equal(t, "/v1/text-to-speech/"+DefaultVoiceID, (*calls)[0].path)
	assert.Equal(t, "eleven_multilingual_v2", (*calls)[0].body["model_id"])

	c, _ = newBackend(t, func(string) (int, string) { return 200, `{"url":"https://cdn/x.mp3"}` })
	res, err = c.TextToSpeech(context.Background(), "hi", "voice")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.mp3", res.AudioURL)
}

func TestGenerateImage(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) {
		return 200, `{"images":[{"url":"https://img/1.png","width":1024,"height":768}]}`
	})
	res, err := c.GenerateImage(context.Background(), "a cover", "")
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", res.FirstURL())
	assert.Equal(t, "/v1/run/fal-ai/flux/schnell", (*calls)[0].path)
	assert.Equal(t, "landscape_4_3", (*calls)[0].body["image_size"])
	assert.Empty(t, ImageResponse{}.FirstURL())
}

func TestCreateSpendRule(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) { return 200, `{"id":"rule-1","status":"active"}` })
	rule, err := c.CreateSpendRule(context.Background(), "job-9", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "rule-1", rule.ID)

	call := (*calls)[0]
	assert.Equal(t, "/v1/spending-rules", call.path)
	assert.Equal(t, "realism-job-job-9", call.body["name"])
	params := call.body["parameters"].([]any)[0].(map[string]any)
	assert.Equal(t, "0.5", params["limitValue"])
	assert.Equal(t, "Budget cap of $0.50 for job job-9", params["description"])
	assert.EqualValues(t, 720, params["intervalValue"])
}

func TestVerificationSend(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) { return 200, `{"id":"ver-1","status":"pending"}` })
	v, err := c.SendVerification(context.Background(), "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "ver-1", v.ID)
	target := (*calls)[0].body["target"].(map[string]any)
	assert.Equal(t, "phone_number", target["type"])
	assert.Equal(t, "+15551234567", target["value"])
}
