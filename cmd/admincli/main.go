// Package main provides the admin CLI entry point.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("requestbox-admincli", "requestbox admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// reset command
	resetCmd = app.Command("reset", "Reset the position counter and purge the managed queue")

	// queue command
	queueCmd = app.Command("queue", "Show the projected queue")

	// now-playing command
	nowPlayingCmd = app.Command("now-playing", "Show the currently playing track").Alias("np")

	// status command
	statusCmd = app.Command("status", "Show provider authentication status")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := &http.Client{Timeout: 10 * time.Second}

	var err error
	switch command {
	case resetCmd.FullCommand():
		err = doReset(client)
	case queueCmd.FullCommand():
		err = doQueue(client)
	case nowPlayingCmd.FullCommand():
		err = doNowPlaying(client)
	case statusCmd.FullCommand():
		err = doStatus(client)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func doReset(client *http.Client) error {
	if *token == "" {
		return fmt.Errorf("admin token is required (use --token or ADMIN_TOKEN env)")
	}

	req, err := http.NewRequest(http.MethodPost, *server+"/api/admin/reset", strings.NewReader("{}"))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+*token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset failed: %s", resp.Status)
	}
	fmt.Println("Reset complete: counter zeroed, managed queue purged.")
	return nil
}

func doQueue(client *http.Client) error {
	resp, err := client.Get(*server + "/api/spotify/queue")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Queue []struct {
			Name           string `json:"name"`
			Artist         string `json:"artist"`
			IsGuestRequest bool   `json:"is_guest_request"`
			Priority       bool   `json:"priority"`
		} `json:"queue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	if len(body.Queue) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}
	for i, t := range body.Queue {
		marker := " "
		if t.Priority {
			marker = "*"
		} else if t.IsGuestRequest {
			marker = "+"
		}
		fmt.Printf("%2d %s %s - %s\n", i+1, marker, t.Name, t.Artist)
	}
	return nil
}

func doStatus(client *http.Client) error {
	resp, err := client.Get(*server + "/api/spotify/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	if body.Authenticated {
		fmt.Println("Provider authenticated.")
	} else {
		fmt.Println("Provider not authenticated. Run requestbox-auth and update SPOTIFY_REFRESH_TOKEN.")
	}
	return nil
}

func doNowPlaying(client *http.Client) error {
	resp, err := client.Get(*server + "/api/spotify/now-playing")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		IsPlaying bool   `json:"is_playing"`
		SongName  string `json:"song_name"`
		Artist    string `json:"artist"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	if !body.IsPlaying {
		fmt.Println("Nothing is playing.")
		return nil
	}
	fmt.Printf("Now playing: %s - %s\n", body.SongName, body.Artist)
	return nil
}
