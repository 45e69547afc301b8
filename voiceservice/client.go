// Package voiceservice talks to the external voice service that holds the
// registered voice embeddings and runs speech-to-text. [Client] implements
// both voiceGate.VoiceMatcher and voiceGate.Transcriber.
package voiceservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
)

const (
	defaultBaseURL = "http://localhost:5001"
	defaultTimeout = 30 * time.Second
	// maxResponseBytes bounds the JSON body read from the service.
	maxResponseBytes = 1 << 20
)

// ErrServiceFailure is returned when the service answers with a non-2xx
// status or an undecodable body.
var ErrServiceFailure = errors.New("voiceservice: request failed")

// Client calls POST {BaseURL}/verify and POST {BaseURL}/stt. Per-call
// deadlines come from the context; HTTPClient.Timeout is only a backstop.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

type verifyResponse struct {
	Success    bool    `json:"success"`
	IsMatch    bool    `json:"isMatch"`
	Similarity float64 `json:"similarity"`
	Message    string  `json:"message"`
}

type sttResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

// NewClient returns a client for baseURL. An empty baseURL uses the local
// development service.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Match asks the service whether audio was spoken by userID. A response with
// success=false is a non-match, not an error.
func (c *Client) Match(ctx context.Context, userID string, audio voiceGate.AudioClip) (voiceGate.VoiceMatch, error) {
	var resp verifyResponse
	err := c.post(ctx, "/verify", map[string]string{"userId": userID}, audio, &resp)
	if err != nil {
		return voiceGate.VoiceMatch{}, err
	}
	if !resp.Success {
		return voiceGate.VoiceMatch{Matched: false, Score: resp.Similarity, Message: resp.Message}, nil
	}
	return voiceGate.VoiceMatch{Matched: resp.IsMatch, Score: resp.Similarity, Message: resp.Message}, nil
}

// Transcribe returns the recognized text of audio. A response with
// success=false yields an empty transcript.
func (c *Client) Transcribe(ctx context.Context, audio voiceGate.AudioClip) (string, error) {
	var resp sttResponse
	if err := c.post(ctx, "/stt", nil, audio, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", nil
	}
	return resp.Text, nil
}

func (c *Client) post(ctx context.Context, path string, fields map[string]string, audio voiceGate.AudioClip, out any) error {
	if audio == nil {
		return fmt.Errorf("voiceservice: nil audio")
	}
	src, err := audio.Open()
	if err != nil {
		return fmt.Errorf("voiceservice: open audio: %w", err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(form, fields, audio.Filename(), src))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s status=%d body=%s", ErrServiceFailure, path, resp.StatusCode, truncate(body, 256))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrServiceFailure, path, err)
	}
	return nil
}

func writeForm(form *multipart.Writer, fields map[string]string, filename string, src io.Reader) error {
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return err
		}
	}
	if filename == "" {
		filename = "audio.wav"
	}
	part, err := form.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return form.Close()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
