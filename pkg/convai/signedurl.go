package convai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAPIURL is the ElevenLabs REST origin.
const DefaultAPIURL = "https://api.elevenlabs.io"

// FetchSignedURL asks the REST API for a pre-signed conversation URL for a
// private agent. The result goes into [Config.SignedURL].
func FetchSignedURL(ctx context.Context, client *http.Client, apiURL, apiKey, agentID string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	endpoint := strings.TrimRight(apiURL, "/") + conversationPath + "/get_signed_url?agent_id=" + url.QueryEscape(agentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("convai: build signed url request: %w", err)
	}
	req.Header.Set("xi-api-key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("convai: fetch signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("convai: fetch signed url: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("convai: decode signed url: %w", err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("convai: signed url response is empty")
	}
	return out.SignedURL, nil
}
