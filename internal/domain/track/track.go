// Package track provides the track reference domain entity.
package track

import "strings"

// Ref identifies a requested song. All cooldown, duplicate and history
// lookups key on CanonicalID(), never on the raw URI, because the same
// track can arrive as a bare ID, a spotify: URI or a share URL.
type Ref struct {
	URI         string // Spotify URI (spotify:track:XYZ) or bare ID
	Name        string // Track name
	Artist      string // Artist display string (joined with ", ")
	AlbumArtURL string // Album art URL
}

// CanonicalID returns the stable lookup key for this track: the URI with
// any scheme prefix stripped.
func (r Ref) CanonicalID() string {
	return CanonicalID(r.URI)
}

// CanonicalID strips any scheme prefix from a track URI. The canonical id
// is the substring after the last ':'; inputs without a ':' are returned
// unchanged.
func CanonicalID(uri string) string {
	if i := strings.LastIndexByte(uri, ':'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// CanonicalIDs maps a list of URIs to their canonical ids, preserving order.
func CanonicalIDs(uris []string) []string {
	ids := make([]string, len(uris))
	for i, u := range uris {
		ids[i] = CanonicalID(u)
	}
	return ids
}

// NowPlaying is a snapshot of the provider's current playback state.
type NowPlaying struct {
	Track      Ref
	Playing    bool
	ProgressMs int
	DurationMs int
}

// TimeLeftMs returns the remaining play time, or 0 when unknown.
func (n NowPlaying) TimeLeftMs() int {
	if n.DurationMs <= 0 || n.ProgressMs <= 0 || n.ProgressMs > n.DurationMs {
		return 0
	}
	return n.DurationMs - n.ProgressMs
}
