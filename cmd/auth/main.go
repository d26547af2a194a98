// Package main provides the Spotify authentication tool.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

var (
	app          = kingpin.New("requestbox-auth", "Spotify authentication tool for requestbox")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()

	auth  *spotifyauth.Authenticator
	ch    = make(chan *oauth2.Token)
	state = "requestbox-auth-state"
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	customRedirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", *port)

	auth = spotifyauth.New(
		spotifyauth.WithRedirectURL(customRedirectURI),
		spotifyauth.WithClientID(*clientID),
		spotifyauth.WithClientSecret(*clientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
		),
	)

	http.HandleFunc("/callback", completeAuth)

	serverAddr := fmt.Sprintf(":%d", *port)
	server := &http.Server{Addr: serverAddr}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	url := auth.AuthURL(state)
	fmt.Println("Open the following URL in your browser to authorize:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()

	token := <-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	fmt.Println("Authorization complete. Add this to your config or environment:")
	fmt.Println()
	fmt.Printf("  SPOTIFY_REFRESH_TOKEN=%s\n", token.RefreshToken)
}

func completeAuth(w http.ResponseWriter, r *http.Request) {
	token, err := auth.Token(r.Context(), state, r)
	if err != nil {
		http.Error(w, "Couldn't get token", http.StatusForbidden)
		log.Fatalf("Token exchange failed: %v", err)
	}
	if st := r.FormValue("state"); st != state {
		http.NotFound(w, r)
		log.Fatalf("State mismatch: %s != %s", st, state)
	}

	fmt.Fprintln(w, "Authorization complete. You can close this window.")
	ch <- token
}
