package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/r0xsh/spotizerr/api"
	"github.com/r0xsh/spotizerr/cmd"
	"github.com/r0xsh/spotizerr/config"
	"github.com/r0xsh/spotizerr/services"
	"github.com/r0xsh/spotizerr/types"
)

func main() {
	var (
		server bool
		port   int
		handle string
		kind   string
		name   string
		artist string
	)

	flag.BoolVar(&server, "server", false, "Start in web server mode")
	flag.IntVar(&port, "port", 0, "Port for web server mode (overrides SERVER_PORT)")
	flag.StringVar(&handle, "handle", "", "Progress handle of an existing backend job to track")
	flag.StringVar(&kind, "kind", "track", "Download kind: track, album, playlist or artist")
	flag.StringVar(&name, "name", "", "Display name for the tracked download")
	flag.StringVar(&artist, "artist", "", "Display artist for the tracked download")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if port != 0 {
		cfg.Port = port
	}

	// Server mode takes precedence
	if server {
		cmd.StartWebServer(cfg)
		return
	}

	if handle == "" {
		flag.Usage()
		return
	}

	if err := watchDownload(cfg, handle, types.JobKind(kind), name, artist); err != nil {
		log.Fatalf("Error: %s", err)
	}
}

// watchDownload attaches to one backend job and renders its progress
// until it reaches a terminal state
func watchDownload(cfg *config.Config, handle string, kind types.JobKind, name, artist string) error {
	store, err := services.NewQueueStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := api.NewClient(cfg.BackendURL, cfg.RequestTimeout)

	queue, err := services.NewQueueManager(cfg, store, client, nil)
	if err != nil {
		return err
	}
	defer queue.Shutdown()

	meta := types.DisplayMetadata{Name: name, Artist: artist}
	id, err := queue.AddDownload(meta, kind, handle, nil, true)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fmt.Sprintf("Tracking %s", handle)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	for {
		time.Sleep(500 * time.Millisecond)

		record, ok := queue.GetRecord(id)
		if !ok {
			return fmt.Errorf("record %s disappeared from the queue", id)
		}

		if record.Progress != nil {
			bar.Set(int(record.Progress.Percent))
			if record.Progress.Message != "" {
				bar.Describe(record.Progress.Message)
			}
		}

		if record.Status.IsTerminal() {
			fmt.Fprintln(os.Stderr)
			switch record.Status {
			case types.JobStatusComplete:
				log.Printf("Download complete: %s", record.Name)
				return nil
			case types.JobStatusCancelled:
				return fmt.Errorf("download was cancelled")
			default:
				return fmt.Errorf("download failed: %s", record.Error)
			}
		}
	}
}
