// Package domain contains the recorder's entities and the error taxonomy, no transport or lifecycle logic.
package domain

import (
	"net/url"
	"strings"
)

type (
	TabID     int
	ContextID string
	SessionID string
)

// Platform identifies a supported meeting site.
type Platform string

const (
	PlatformMeet  Platform = "gmeet"
	PlatformTeams Platform = "teams"
	PlatformZoom  Platform = "zoom"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformMeet, PlatformTeams, PlatformZoom}

var platformHosts = map[string]Platform{
	"meet.google.com":     PlatformMeet,
	"teams.microsoft.com": PlatformTeams,
	"teams.live.com":      PlatformTeams,
	"zoom.us":             PlatformZoom,
	"zoom.com":            PlatformZoom,
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformMeet, PlatformTeams, PlatformZoom:
		return true
	}
	return false
}

// PlatformFromURL resolves the platform a tab URL belongs to.
// Subdomains match their parent (us02web.zoom.us is zoom).
func PlatformFromURL(raw string) (Platform, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for suffix, p := range platformHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return p, true
		}
	}
	return "", false
}

// PermissionSet maps platforms to the user's auto-record grant.
type PermissionSet map[Platform]bool

func (ps PermissionSet) Allowed(p Platform) bool {
	return ps != nil && ps[p]
}

func (ps PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}
