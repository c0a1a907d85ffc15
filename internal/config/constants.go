package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Cloud Code v1internal endpoints, in fallback order.
const (
	AntigravityEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	AntigravityEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// AntigravityEndpointFallbacks is the generateContent endpoint fallback
// order (daily sandbox first, then prod).
var AntigravityEndpointFallbacks = []string{
	AntigravityEndpointDaily,
	AntigravityEndpointProd,
}

// LoadCodeAssistEndpoints is the endpoint order for loadCodeAssist calls;
// prod goes first since it behaves better for fresh/unprovisioned accounts.
var LoadCodeAssistEndpoints = []string{
	AntigravityEndpointProd,
	AntigravityEndpointDaily,
}

// OnboardUserEndpoints mirrors the generateContent fallback order.
var OnboardUserEndpoints = AntigravityEndpointFallbacks

// DefaultProjectID is used when project discovery comes back empty.
const DefaultProjectID = "rising-fact-p41fc"

// AntigravityHeaders are the headers the Cloud Code API expects to see on
// every request, identifying the client as an Antigravity-flavored IDE
// plugin rather than a browser or curl script.
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":         getPlatformUserAgent(),
		"X-Goog-Api-Client":  "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":    getClientMetadata(),
	}
}

// LoadCodeAssistHeaders reuses the same client identity for loadCodeAssist
// and onboardUser calls.
func LoadCodeAssistHeaders() map[string]string {
	return AntigravityHeaders()
}

// Exported OAuth constants, aliased from OAuthConfig for callers that don't
// want to reach through the struct.
var (
	OAuthClientID     = OAuthConfig.ClientID
	OAuthClientSecret = OAuthConfig.ClientSecret
	OAuthAuthURL      = OAuthConfig.AuthURL
	OAuthTokenURL     = OAuthConfig.TokenURL
	OAuthUserInfoURL  = OAuthConfig.UserInfoURL
	OAuthCallbackPort = OAuthConfig.CallbackPort
	OAuthScopes       = OAuthConfig.Scopes
)

func getPlatformUserAgent() string {
	return fmt.Sprintf("antigravity/1.16.5 %s/%s", runtime.GOOS, runtime.GOARCH)
}

// IDE type enum values as expected by
// google.internal.cloud.code.v1internal.ClientMetadata.IdeType.
const (
	IdeTypeAntigravity = 6
)

// Platform enum values as expected by
// google.internal.cloud.code.v1internal.ClientMetadata.Platform.
const (
	PlatformUnspecified = 0
	PlatformWindows     = 1
	PlatformLinux       = 2
	PlatformMacOS       = 3
)

// PluginTypeGemini identifies the client as a Gemini-family plugin.
const PluginTypeGemini = 2

func getPlatformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnspecified
	}
}

func getClientMetadata() string {
	metadata := map[string]int{
		"ideType":    IdeTypeAntigravity,
		"platform":   getPlatformEnum(),
		"pluginType": PluginTypeGemini,
	}
	data, _ := json.Marshal(metadata)
	return string(data)
}

// OAuthConfigType describes the fixed Google OAuth client used for the
// account-pool's PKCE flow.
type OAuthConfigType struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	CallbackPort int
	Scopes       []string
}

// OAuthConfig is the gateway's registered OAuth client.
var OAuthConfig = OAuthConfigType{
	ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
	ClientSecret: "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",
	AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:     "https://oauth2.googleapis.com/token",
	UserInfoURL:  "https://www.googleapis.com/oauth2/v1/userinfo",
	CallbackPort: getOAuthCallbackPort(),
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
		"https://www.googleapis.com/auth/cclog",
		"https://www.googleapis.com/auth/experimentsandconfigs",
	},
}

func getOAuthCallbackPort() int {
	if portStr := os.Getenv("OAUTH_CALLBACK_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			return port
		}
	}
	return 51121
}
