package auth

import "strings"

// ClientIDSource tells where the OAuth client id came from.
type ClientIDSource string

const (
	SourceNone        ClientIDSource = ""
	SourceEnvironment ClientIDSource = "environment"
	SourceManual      ClientIDSource = "manual"
)

// ResolveClientID picks the build-time client id when present, otherwise the
// one the user entered manually.
func ResolveClientID(buildID, manualID string) (string, ClientIDSource) {
	if id := strings.TrimSpace(buildID); id != "" {
		return id, SourceEnvironment
	}
	if id := strings.TrimSpace(manualID); id != "" {
		return id, SourceManual
	}
	return "", SourceNone
}
