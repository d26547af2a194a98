package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "spotify track URI",
			uri:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			want: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name: "bare ID",
			uri:  "4uLU6hMCjMI75M1A2tKUQC",
			want: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name: "local file URI keeps last segment",
			uri:  "spotify:local:artist:album:title",
			want: "title",
		},
		{
			name: "empty input",
			uri:  "",
			want: "",
		},
		{
			name: "trailing colon",
			uri:  "spotify:track:",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalID(tt.uri))
			assert.Equal(t, tt.want, Ref{URI: tt.uri}.CanonicalID())
		})
	}
}

func TestCanonicalIDs(t *testing.T) {
	got := CanonicalIDs([]string{"spotify:track:aaa", "bbb"})
	assert.Equal(t, []string{"aaa", "bbb"}, got)
}

func TestNowPlaying_TimeLeftMs(t *testing.T) {
	tests := []struct {
		name string
		np   NowPlaying
		want int
	}{
		{"normal", NowPlaying{DurationMs: 200000, ProgressMs: 50000}, 150000},
		{"no duration", NowPlaying{ProgressMs: 50000}, 0},
		{"no progress", NowPlaying{DurationMs: 200000}, 0},
		{"progress past duration", NowPlaying{DurationMs: 1000, ProgressMs: 2000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.np.TimeLeftMs())
		})
	}
}
