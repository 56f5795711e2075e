package llm

import "strings"

// NormalizeBaseURL canonicalizes a configured API base URL so the client
// can append the completions path itself. Users paste full endpoint URLs
// often enough that accidentally appended suffixes are stripped here:
//
//	https://x/v1                  -> https://x/v1
//	https://x/v1/                 -> https://x/v1
//	https://x/v1/chat/completions -> https://x/v1
//	https://x/v1/completions      -> https://x/v1
func NormalizeBaseURL(baseURL string) string {
	u := strings.TrimSpace(baseURL)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	u = strings.TrimSuffix(u, "/completions")
	return strings.TrimSuffix(u, "/")
}

// CompletionsURL returns the chat-completions endpoint for a base URL.
func CompletionsURL(baseURL string) string {
	return NormalizeBaseURL(baseURL) + "/chat/completions"
}
