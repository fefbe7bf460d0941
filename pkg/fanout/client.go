package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/security"
)

// DefaultRequestTimeout bounds any call-and-wait exchange with a peer.
const DefaultRequestTimeout = 30 * time.Second

// SecuredClient posts JSON payloads to peer subscription managers with the
// security headers produced by the security port, and verifies the peer's
// response assertion.
type SecuredClient struct {
	http *http.Client
	sec  security.Manager
}

// NewSecuredClient builds a client around the security port. A nil
// httpClient selects a default with the standard request timeout.
func NewSecuredClient(sec security.Manager, httpClient *http.Client) *SecuredClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &SecuredClient{http: httpClient, sec: sec}
}

// Post sends payload to baseURL+path using the given pre-generated security
// headers and verifies the peer's response assertion against peerPlatformID.
func (c *SecuredClient) Post(ctx context.Context, headers http.Header, baseURL, path, peerPlatformID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: peer answered %s", url, resp.Status)
	}

	assertion := resp.Header.Get(security.ServiceResponseHeader)
	if !c.sec.VerifyPeerResponse(assertion, ComponentID, peerPlatformID) {
		return fmt.Errorf("post %s: response verification failed for platform %s", url, peerPlatformID)
	}
	return nil
}
