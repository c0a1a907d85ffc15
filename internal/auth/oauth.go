// Package auth implements Google OAuth2 with PKCE for the gateway's account
// pool, plus the composite refresh-token format and project-id discovery
// used to authorize upstream Cloud Code requests.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// RefreshParts are the components of a composite refresh token, stored as
// "refreshToken|projectId|managedProjectId".
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

func ParseRefreshParts(refresh string) RefreshParts {
	parts := strings.Split(refresh, "|")
	result := RefreshParts{}
	if len(parts) > 0 {
		result.RefreshToken = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		result.ProjectID = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		result.ManagedProjectID = parts[2]
	}
	return result
}

func FormatRefreshParts(parts RefreshParts) string {
	base := fmt.Sprintf("%s|%s", parts.RefreshToken, parts.ProjectID)
	if parts.ManagedProjectID != "" {
		return fmt.Sprintf("%s|%s", base, parts.ManagedProjectID)
	}
	return base
}

// PKCE holds a generated code verifier/challenge pair.
type PKCE struct {
	Verifier  string
	Challenge string
}

func GeneratePKCE() (*PKCE, error) {
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])
	return &PKCE{Verifier: verifier, Challenge: challenge}, nil
}

func GenerateState() (string, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(stateBytes), nil
}

// AuthorizationURLResult is everything the caller needs to start a PKCE flow.
type AuthorizationURLResult struct {
	URL      string
	Verifier string
	State    string
}

func GetAuthorizationURL(redirectURI string) (*AuthorizationURLResult, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d/oauth-callback", config.OAuthCallbackPort)
	}

	params := url.Values{
		"client_id":             {config.OAuthClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {strings.Join(config.OAuthScopes, " ")},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}

	return &AuthorizationURLResult{
		URL:      fmt.Sprintf("%s?%s", config.OAuthAuthURL, params.Encode()),
		Verifier: pkce.Verifier,
		State:    state,
	}, nil
}

// CodeExtractResult is the authorization code (and optional state) pulled
// out of whatever the user pasted back into gatewayctl.
type CodeExtractResult struct {
	Code  string
	State string
}

// ExtractCodeFromInput accepts either the full callback URL or a bare code.
func ExtractCodeFromInput(input string) (*CodeExtractResult, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("no input provided")
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid callback URL: %w", err)
		}
		if errParam := parsed.Query().Get("error"); errParam != "" {
			return nil, fmt.Errorf("oauth error: %s", errParam)
		}
		code := parsed.Query().Get("code")
		if code == "" {
			return nil, fmt.Errorf("no authorization code in URL")
		}
		return &CodeExtractResult{Code: code, State: parsed.Query().Get("state")}, nil
	}

	if len(trimmed) < 10 {
		return nil, fmt.Errorf("input too short to be an authorization code")
	}
	return &CodeExtractResult{Code: trimmed}, nil
}

// OAuthTokens is the raw token-exchange response.
type OAuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*OAuthTokens, error) {
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d/oauth-callback", config.OAuthCallbackPort)
	}
	data := url.Values{
		"client_id":     {config.OAuthClientID},
		"client_secret": {config.OAuthClientSecret},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}

	body, status, err := postForm(ctx, config.OAuthTokenURL, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		utils.Error("[auth] token exchange failed: %d %s", status, string(body))
		return nil, fmt.Errorf("token exchange failed: %s", string(body))
	}

	var tokens OAuthTokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response")
	}
	return &tokens, nil
}

// RefreshResult is the outcome of a single refresh_token grant.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// RefreshAccessToken redeems a composite refresh token for a fresh access
// token. Callers needing request de-duplication should go through
// Credentials.GetAccessToken instead of calling this directly.
func RefreshAccessToken(ctx context.Context, compositeRefresh string) (*RefreshResult, error) {
	parts := ParseRefreshParts(compositeRefresh)
	data := url.Values{
		"client_id":     {config.OAuthClientID},
		"client_secret": {config.OAuthClientSecret},
		"refresh_token": {parts.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	body, status, err := postForm(ctx, config.OAuthTokenURL, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	return &RefreshResult{AccessToken: result.AccessToken, ExpiresIn: result.ExpiresIn}, nil
}

func GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.OAuthUserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo failed: %d %s", resp.StatusCode, string(body))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("parse userinfo: %w", err)
	}
	return info.Email, nil
}

// DiscoverProjectID calls loadCodeAssist across the endpoint fallback list
// and returns the caller's project id, synthesizing one via onboarding
// when none is provisioned yet.
func DiscoverProjectID(ctx context.Context, accessToken string) (string, error) {
	var lastResponse map[string]interface{}

	for _, endpoint := range config.LoadCodeAssistEndpoints {
		projectID, data, err := tryDiscoverProject(ctx, accessToken, endpoint)
		if err != nil {
			utils.Warn("[auth] loadCodeAssist failed at %s: %v", endpoint, err)
			continue
		}
		if projectID != "" {
			return projectID, nil
		}
		lastResponse = data
		break
	}

	if lastResponse != nil {
		tierID := defaultTierID(lastResponse)
		if tierID == "" {
			tierID = "FREE"
		}
		projectID, err := OnboardUser(ctx, accessToken, tierID)
		if err == nil && projectID != "" {
			return projectID, nil
		}
	}

	return config.DefaultProjectID, nil
}

func tryDiscoverProject(ctx context.Context, accessToken, endpoint string) (string, map[string]interface{}, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:loadCodeAssist", strings.NewReader(string(reqBody)))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.LoadCodeAssistHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", nil, err
	}

	if projectID, ok := data["cloudaicompanionProject"].(string); ok && projectID != "" {
		return projectID, data, nil
	}
	if projectObj, ok := data["cloudaicompanionProject"].(map[string]interface{}); ok {
		if projectID, ok := projectObj["id"].(string); ok && projectID != "" {
			return projectID, data, nil
		}
	}
	return "", data, nil
}

func defaultTierID(data map[string]interface{}) string {
	allowedTiers, ok := data["allowedTiers"].([]interface{})
	if !ok || len(allowedTiers) == 0 {
		return ""
	}
	for _, tier := range allowedTiers {
		tierMap, ok := tier.(map[string]interface{})
		if !ok {
			continue
		}
		if isDefault, _ := tierMap["isDefault"].(bool); isDefault {
			if id, ok := tierMap["id"].(string); ok {
				return id
			}
		}
	}
	if firstTier, ok := allowedTiers[0].(map[string]interface{}); ok {
		if id, ok := firstTier["id"].(string); ok {
			return id
		}
	}
	return ""
}

// OnboardUser provisions a project for accounts that authenticated but have
// no Cloud Code project yet (typical for brand-new free-tier accounts).
func OnboardUser(ctx context.Context, accessToken, tierID string) (string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"tierId": tierID,
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, endpoint := range config.OnboardUserEndpoints {
		projectID, err := tryOnboard(ctx, accessToken, endpoint, reqBody)
		if err != nil {
			lastErr = err
			continue
		}
		if projectID != "" {
			return projectID, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("onboarding did not return a project")
}

func tryOnboard(ctx context.Context, accessToken, endpoint string, reqBody []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:onboardUser", strings.NewReader(string(reqBody)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.LoadCodeAssistHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("onboardUser status %d", resp.StatusCode)
	}
	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if projectObj, ok := data["cloudaicompanionProject"].(map[string]interface{}); ok {
		if id, ok := projectObj["id"].(string); ok {
			return id, nil
		}
	}
	return "", nil
}

// OAuthFlowResult bundles everything gatewayctl needs after a PKCE login.
type OAuthFlowResult struct {
	Email        string
	RefreshToken string
	AccessToken  string
	ProjectID    string
}

func CompleteOAuthFlow(ctx context.Context, code, verifier, redirectURI string) (*OAuthFlowResult, error) {
	tokens, err := ExchangeCode(ctx, code, verifier, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	email, err := GetUserEmail(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch user email: %w", err)
	}
	projectID, _ := DiscoverProjectID(ctx, tokens.AccessToken)

	return &OAuthFlowResult{
		Email:        email,
		RefreshToken: tokens.RefreshToken,
		AccessToken:  tokens.AccessToken,
		ProjectID:    projectID,
	}, nil
}

func postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// CallbackTimeout is the default window to wait for the browser redirect.
const CallbackTimeout = 120 * time.Second
