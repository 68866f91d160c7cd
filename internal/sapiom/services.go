package sapiom

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const DefaultVoiceID = "JBFqnCBsd6RMkjVDRZzb"

const DefaultImageModel = "fal-ai/flux/schnell"

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// Search queries Linkup. depth is "standard" or "deep".
func (c *Client) Search(ctx context.Context, query, depth string) (SearchResponse, error) {
	if depth == "" {
		depth = "standard"
	}
	var out SearchResponse
	err := c.postJSON(ctx, c.endpoints.Linkup+"/v1/search", map[string]any{
		"q":          query,
		"depth":      depth,
		"outputType": "searchResults",
	}, &out)
	return out, err
}

type FetchResponse struct {
	Markdown string `json:"markdown"`
}

// Fetch returns a page as clean markdown.
func (c *Client) Fetch(ctx context.Context, pageURL string) (FetchResponse, error) {
	var out FetchResponse
	err := c.postJSON(ctx, c.endpoints.Linkup+"/v1/fetch", map[string]any{
		"url":      pageURL,
		"renderJs": false,
	}, &out)
	return out, err
}

type ExtractResponse struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// Extract reads a page through a hosted browser.
func (c *Client) Extract(ctx context.Context, pageURL string) (ExtractResponse, error) {
	var out ExtractResponse
	err := c.postJSON(ctx, c.endpoints.Anchor+"/v1/tools/fetch-webpage", map[string]any{
		"url":    pageURL,
		"format": "markdown",
	}, &out)
	return out, err
}

type ScreenshotResponse struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (c *Client) Screenshot(ctx context.Context, pageURL string) (ScreenshotResponse, error) {
	var out ScreenshotResponse
	err := c.postJSON(ctx, c.endpoints.Anchor+"/v1/tools/screenshot", map[string]any{
		"url":    pageURL,
		"format": "png",
		"width":  1280,
		"height": 720,
	}, &out)
	return out, err
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ImageResponse struct {
	Images []Image `json:"images"`
}

// FirstURL returns the first generated image's URL, if any.
func (r ImageResponse) FirstURL() string {
	if len(r.Images) == 0 {
		return ""
	}
	return r.Images[0].URL
}

func (c *Client) GenerateImage(ctx context.Context, prompt, model string) (ImageResponse, error) {
	if model == "" {
		model = DefaultImageModel
	}
	var out ImageResponse
	err := c.postJSON(ctx, c.endpoints.FAL+"/v1/run/"+model, map[string]any{
		"prompt":     prompt,
		"image_size": "landscape_4_3",
		"num_images": 1,
	}, &out)
	return out, err
}

type SpeechResponse struct {
	AudioURL  string `json:"audioUrl"`
	ExpiresAt string `json:"expiresAt"`
}

// TextToSpeech synthesises text and returns an absolute audio URL.
func (c *Client) TextToSpeech(ctx context.Context, text, voiceID string) (SpeechResponse, error) {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	var raw struct {
		URL       string `json:"url"`
		ExpiresAt string `json:"expiresAt"`
	}
	err := c.postJSON(ctx, c.endpoints.ElevenLabs+"/v1/text-to-speech/"+url.PathEscape(voiceID), map[string]any{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	}, &raw)
	if err != nil {
		return SpeechResponse{}, err
	}
	audioURL := raw.URL
	if !strings.HasPrefix(audioURL, "http") {
		audioURL = c.endpoints.ElevenLabs + audioURL
	}
	return SpeechResponse{AudioURL: audioURL, ExpiresAt: raw.ExpiresAt}, nil
}

type Verification struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SendVerification starts a phone verification.
func (c *Client) SendVerification(ctx context.Context, phone string) (Verification, error) {
	var out Verification
	err := c.postJSON(ctx, c.endpoints.Prelude+"/verifications", map[string]any{
		"target": map[string]string{"type": "phone_number", "value": phone},
	}, &out)
	return out, err
}

// CheckVerification submits a code. Status is "success", "pending" or "failure".
func (c *Client) CheckVerification(ctx context.Context, verificationID, code string) (Verification, error) {
	var out Verification
	err := c.postJSON(ctx, c.endpoints.Prelude+"/verifications/check", map[string]any{
		"verificationRequestId": verificationID,
		"code":                  code,
	}, &out)
	return out, err
}

type SpendRule struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateSpendRule registers a usage cap for a job with the governance API.
func (c *Client) CreateSpendRule(ctx context.Context, jobID string, budgetUSD float64) (SpendRule, error) {
	body := map[string]any{
		"name":               "realism-job-" + jobID,
		"ruleType":           "usage_limit",
		"resolutionStrategy": "automatic",
		"metadata":           map[string]string{"source": "realism", "jobId": jobID},
		"conditions": []map[string]any{{
			"fieldType":      "service",
			"fieldName":      "all",
			"operator":       "equals",
			"value":          "all",
			"conditionGroup": "primary",
		}},
		"parameters": []map[string]any{{
			"parameterName":    "Job budget cap",
			"limitValue":       fmt.Sprintf("%g", budgetUSD),
			"measurementType":  "sum_payment_amount",
			"intervalValue":    720,
			"intervalUnit":     "hours",
			"isRolling":        false,
			"measurementScope": "all",
			"description":      fmt.Sprintf("Budget cap of $%.2f for job %s", budgetUSD, jobID),
		}},
	}
	var out SpendRule
	err := c.postJSON(ctx, c.endpoints.Governance+"/v1/spending-rules", body, &out)
	return out, err
}
