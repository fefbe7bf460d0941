package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// assertionWindow bounds how old an assertion may be before it is rejected.
const assertionWindow = 5 * time.Minute

// HMACManager implements the security port with shared-secret HMAC-SHA256
// assertions of the form "timestamp|platformId|signature". All federated
// platforms of one deployment share the secret; the token format stays an
// implementation detail of this package.
type HMACManager struct {
	platformID string
	secret     []byte
	now        func() time.Time
}

// NewHMACManager builds a manager asserting as platformID with the given
// shared secret.
func NewHMACManager(platformID, secret string) *HMACManager {
	return &HMACManager{platformID: platformID, secret: []byte(secret), now: time.Now}
}

func (m *HMACManager) sign(timestamp, platformID string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'|'})
	mac.Write([]byte(platformID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *HMACManager) assertion(platformID string) string {
	ts := strconv.FormatInt(m.now().Unix(), 10)
	return ts + "|" + platformID + "|" + m.sign(ts, platformID)
}

// verify checks signature and freshness and returns the asserted platform.
func (m *HMACManager) verify(assertion string) (string, error) {
	parts := strings.Split(assertion, "|")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed assertion")
	}
	ts, platformID, sig := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(sig), []byte(m.sign(ts, platformID))) {
		return "", fmt.Errorf("signature mismatch")
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed timestamp")
	}
	age := m.now().Sub(time.Unix(issued, 0))
	if age > assertionWindow || age < -assertionWindow {
		return "", fmt.Errorf("assertion outside freshness window")
	}
	return platformID, nil
}

func (m *HMACManager) GenerateServiceResponse() (string, error) {
	return m.assertion(m.platformID), nil
}

func (m *HMACManager) CheckRequest(headers http.Header, serviceResponse, senderPlatformID string) error {
	token := headers.Get(RequestTokenHeader)
	if token == "" {
		return fmt.Errorf("%w: missing %s header", ErrUnauthorized, RequestTokenHeader)
	}
	asserted, err := m.verify(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if senderPlatformID != "" && asserted != senderPlatformID {
		return fmt.Errorf("%w: assertion issued for %q, sender claims %q", ErrUnauthorized, asserted, senderPlatformID)
	}
	if claimed := headers.Get(RequestPlatformHeader); claimed != "" && claimed != asserted {
		return fmt.Errorf("%w: platform header %q does not match assertion %q", ErrUnauthorized, claimed, asserted)
	}
	return nil
}

func (m *HMACManager) VerifyPeerResponse(assertion, componentID, peerPlatformID string) bool {
	asserted, err := m.verify(assertion)
	if err != nil {
		return false
	}
	return asserted == peerPlatformID
}

// GenerateSecurityRequest returns the headers attached to a secured
// outbound call.
func (m *HMACManager) GenerateSecurityRequest() (http.Header, error) {
	h := make(http.Header)
	h.Set(RequestTokenHeader, m.assertion(m.platformID))
	h.Set(RequestPlatformHeader, m.platformID)
	return h, nil
}
