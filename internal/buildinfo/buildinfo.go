// Package buildinfo exposes values stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/dmitrijs2005/invoicekeeper/internal/buildinfo.OAuthClientID=..."
package buildinfo

import (
	"fmt"
	"io"
	"strings"
)

var (
	Version     = "N/A"
	BuildDate   = "N/A"
	Environment = "prod"

	// OAuthClientID is the build-time OAuth client identifier. When set it
	// takes precedence over any manually configured value.
	OAuthClientID = ""
)

// BuildClientID returns the stamped client id, ignoring unreplaced
// placeholders such as "__GOOGLE_OAUTH_CLIENT_ID__".
func BuildClientID() string {
	id := strings.TrimSpace(OAuthClientID)
	if strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return ""
	}
	return id
}

func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", Version)
	fmt.Fprintf(w, "Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "Build environment: %s\n", Environment)
}
