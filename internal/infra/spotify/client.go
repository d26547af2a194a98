// Package spotify provides a client for the Spotify player API.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/sdisco/requestbox/internal/domain/track"
)

// ErrNoActiveDevice is returned when the provider reports that no playback
// device is active. Callers surface this as a distinct rejection.
var ErrNoActiveDevice = errors.New("no active playback device")

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
		),
	)

	// The oauth2 transport refreshes the access token as needed.
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}
	httpClient := auth.Client(ctx, token)
	client := spotify.New(httpClient)

	market := cfg.Market
	if market == "" {
		market = "AU"
	}

	return &Client{
		client:     client,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// VerifyAuth performs a cheap authenticated call to confirm the refresh
// token still yields a usable access token.
func (c *Client) VerifyAuth(ctx context.Context) error {
	_, err := c.client.CurrentUser(ctx)
	return errors.Wrap(err, "auth verification failed")
}

// Append appends a track to the tail of the player queue.
// There is no way to insert at any other position.
func (c *Client) Append(ctx context.Context, ref track.Ref) error {
	id := extractTrackID(ref.URI)
	err := c.retry(func() error {
		return c.client.QueueSong(ctx, spotify.ID(id))
	})
	if err != nil {
		if isNoActiveDevice(err) {
			return errors.Mark(errors.Wrap(err, "failed to queue track"), ErrNoActiveDevice)
		}
		return errors.Wrap(err, "failed to queue track")
	}
	return nil
}

// Queue returns the player's upcoming queue in playback order.
func (c *Client) Queue(ctx context.Context) ([]track.Ref, error) {
	var queue *spotify.Queue
	err := c.retry(func() error {
		q, err := c.client.GetQueue(ctx)
		if err != nil {
			return err
		}
		queue = q
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue")
	}

	refs := make([]track.Ref, 0, len(queue.Items))
	for i := range queue.Items {
		refs = append(refs, convertRef(&queue.Items[i]))
	}
	return refs, nil
}

// NowPlaying returns the currently playing track, or nil when nothing is
// playing.
func (c *Client) NowPlaying(ctx context.Context) (*track.NowPlaying, error) {
	var current *spotify.CurrentlyPlaying
	err := c.retry(func() error {
		cp, err := c.client.PlayerCurrentlyPlaying(ctx)
		if err != nil {
			return err
		}
		current = cp
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get currently playing")
	}

	if current == nil || current.Item == nil {
		return nil, nil
	}

	return &track.NowPlaying{
		Track:      convertRef(current.Item),
		Playing:    current.Playing,
		ProgressMs: int(current.Progress),
		DurationMs: int(current.Item.Duration),
	}, nil
}

// SearchTracks searches for tracks.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]track.Ref, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	var result *spotify.SearchResult
	err := c.retry(func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack,
			spotify.Limit(limit),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}

	if result.Tracks == nil {
		return nil, nil
	}

	refs := make([]track.Ref, 0, len(result.Tracks.Tracks))
	for i := range result.Tracks.Tracks {
		refs = append(refs, convertRef(&result.Tracks.Tracks[i]))
	}
	return refs, nil
}

// convertRef converts a Spotify FullTrack to a domain track ref.
func convertRef(t *spotify.FullTrack) track.Ref {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var albumArt string
	if len(t.Album.Images) > 0 {
		albumArt = t.Album.Images[0].URL
	}

	return track.Ref{
		URI:         string(t.URI),
		Name:        t.Name,
		Artist:      strings.Join(artists, ", "),
		AlbumArtURL: albumArt,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// isNoActiveDevice checks if a player error means no device is active.
func isNoActiveDevice(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no active device") ||
		strings.Contains(msg, "no_active_device")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
