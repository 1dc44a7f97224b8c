package mockhttp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	t.Log("Testing JSON response handler")

	type response struct {
		Message string `json:"message"`
	}

	server, client := New().
		JSON("/api/test", response{Message: "hello"}).
		Build()
	defer server.Close()

	resp, err := client.Get(server.URL + "/api/test")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var got response
	json.NewDecoder(resp.Body).Decode(&got)
	if got.Message != "hello" {
		t.Errorf("expected message=hello, got %s", got.Message)
	}
}

func TestDefaultStatus(t *testing.T) {
	t.Parallel()
	t.Log("Testing unmatched requests get the default status")

	server, client := New().DefaultStatus(http.StatusTeapot).Build()
	defer server.Close()

	resp, err := client.Get(server.URL + "/nowhere")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("expected 418, got %d", resp.StatusCode)
	}
}

func TestTokenResponseOnlyMatchesPost(t *testing.T) {
	t.Parallel()
	t.Log("Testing TokenResponse answers POST and ignores GET")

	server, client := New().
		TokenResponse("/token", map[string]string{"access_token": "at"}).
		Build()
	defer server.Close()

	resp, err := client.PostForm(server.URL+"/token", url.Values{"grant_type": {"refresh_token"}})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["access_token"] != "at" {
		t.Errorf("expected access_token=at, got %v", body)
	}

	resp, err = client.Get(server.URL + "/token")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for GET, got %d", resp.StatusCode)
	}
}

func TestOAuthError(t *testing.T) {
	t.Parallel()
	t.Log("Testing OAuthError writes error and error_description")

	server, client := New().
		OAuthError("/token", http.StatusBadRequest, "invalid_grant", "expired").
		Build()
	defer server.Close()

	resp, err := client.Post(server.URL+"/token", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "invalid_grant" || body["error_description"] != "expired" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestChallenge(t *testing.T) {
	t.Parallel()
	t.Log("Testing Challenge sets WWW-Authenticate")

	server, client := New().
		Challenge("/userinfo", http.StatusUnauthorized, "DPoP proof", "").
		Build()
	defer server.Close()

	resp, err := client.Get(server.URL + "/userinfo")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("WWW-Authenticate"); got != "DPoP proof" {
		t.Errorf("expected challenge 'DPoP proof', got %q", got)
	}
}

func TestSequence(t *testing.T) {
	t.Parallel()
	t.Log("Testing Sequence steps through responders and repeats the last")

	server, client := New().
		Sequence("/userinfo",
			RespondNonce(http.StatusUnauthorized, "n-1"),
			RespondJSON(http.StatusOK, map[string]string{"sub": "u1"}),
		).
		Build()
	defer server.Close()

	want := []int{http.StatusUnauthorized, http.StatusOK, http.StatusOK}
	for i, code := range want {
		resp, err := client.Get(server.URL + "/userinfo")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != code {
			t.Errorf("request %d: expected %d, got %d", i, code, resp.StatusCode)
		}
		if i == 0 && resp.Header.Get(dpop.HeaderNonce) != "n-1" {
			t.Errorf("expected DPoP-Nonce n-1, got %q", resp.Header.Get(dpop.HeaderNonce))
		}
	}
}

func TestCaptureFormAndProof(t *testing.T) {
	t.Parallel()
	t.Log("Testing capture decodes form bodies and DPoP proofs")

	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	b := New()
	capture := b.Capture()
	server, client := b.TokenResponse("/token", map[string]string{"access_token": "at"}).Build()
	defer server.Close()

	proof, err := dpop.GenerateProof(kp, dpop.ProofParams{Method: http.MethodPost, URL: server.URL + "/token"})
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/token", strings.NewReader("grant_type=authorization_code&code=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(dpop.HeaderDPoP, proof)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if capture.Count() != 1 {
		t.Fatalf("expected 1 captured request, got %d", capture.Count())
	}
	got := capture.Last()
	if got.Form.Get("code") != "abc" {
		t.Errorf("expected form code=abc, got %v", got.Form)
	}
	if got.Proof == nil || got.Proof.HTM != http.MethodPost {
		t.Errorf("expected decoded proof with htm POST, got %+v", got.Proof)
	}
	t.Log("Handlers after the capture still see the body")
	if string(got.Body) != "grant_type=authorization_code&code=abc" {
		t.Errorf("unexpected body %q", got.Body)
	}
}

func TestCaptureAuthScheme(t *testing.T) {
	t.Parallel()

	b := New()
	capture := b.Capture()
	server, client := b.JSON("/api", map[string]string{}).Build()
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api", nil)
	req.Header.Set("Authorization", "DPoP token")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got := capture.Last().AuthScheme(); got != "DPoP" {
		t.Errorf("expected DPoP, got %q", got)
	}
}

func TestMatchPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path, pattern string
		want          bool
	}{
		{"/token", "/token", true},
		{"/token/x", "/token", false},
		{"/v1/foo", "/v1/*", true},
		{"/v2/foo", "/v1/*", false},
	}
	for _, tt := range tests {
		if got := matchPath(tt.path, tt.pattern); got != tt.want {
			t.Errorf("matchPath(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.want)
		}
	}
}

func TestTLS(t *testing.T) {
	t.Parallel()

	server, client := New().TLS().JSON("/secure", map[string]bool{"ok": true}).Build()
	defer server.Close()

	if !strings.HasPrefix(server.URL, "https://") {
		t.Fatalf("expected https URL, got %s", server.URL)
	}
	resp, err := client.Get(server.URL + "/secure")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
