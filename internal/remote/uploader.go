// Package remote uploads finalized sessions to the wellness backend. As the
// session sink's delivery arm it owns retry policy: failed uploads stay
// pending in the local archive and are retried on the next sweep.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/wellness-at-work/blinkd/internal/session"
	"github.com/wellness-at-work/blinkd/internal/store"
)

// Config holds the backend endpoint settings.
type Config struct {
	// URL is the backend base URL. Empty disables uploading.
	URL string `yaml:"url"`
	// Token is the bearer token attached to every request.
	Token string `yaml:"token"`
	// SyncInterval is how often pending sessions are swept.
	SyncInterval time.Duration `yaml:"sync_interval"`
	// Timeout bounds each upload request.
	Timeout time.Duration `yaml:"timeout"`
}

// sessionPayload matches the backend's POST /sessions contract.
type sessionPayload struct {
	SessionStartTime string               `json:"session_start_time"`
	SessionEndTime   string               `json:"session_end_time"`
	TotalBlinks      int                  `json:"total_blinks"`
	BlinkEvents      []session.BlinkEvent `json:"blink_events,omitempty"`
}

type Uploader struct {
	cfg    Config
	store  *store.Store
	client *http.Client
}

func NewUploader(cfg Config, st *store.Store) *Uploader {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Uploader{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run sweeps pending sessions until ctx is cancelled, with a final sweep on
// shutdown so a session ended moments before exit still gets uploaded.
func (u *Uploader) Run(ctx context.Context) {
	if u.cfg.URL == "" {
		log.Printf("No backend URL configured, session upload disabled")
		return
	}

	ticker := time.NewTicker(u.cfg.SyncInterval)
	defer ticker.Stop()

	u.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			u.Sweep(context.Background())
			return
		case <-ticker.C:
			u.Sweep(ctx)
		}
	}
}

// Sweep uploads every pending session, marking each synced on success.
// Failures are logged and left pending for the next sweep.
func (u *Uploader) Sweep(ctx context.Context) {
	pending, err := u.store.PendingSync()
	if err != nil {
		log.Printf("Sync sweep: %v", err)
		return
	}

	for _, sess := range pending {
		if err := u.upload(ctx, sess); err != nil {
			log.Printf("Upload of session %s failed, will retry: %v", sess.ID, err)
			continue
		}
		if err := u.store.MarkSynced(sess.ID); err != nil {
			log.Printf("Marking session %s synced: %v", sess.ID, err)
			continue
		}
		log.Printf("Session %s uploaded (%d blinks)", sess.ID, sess.BlinkCount)
	}
}

func (u *Uploader) upload(ctx context.Context, sess *session.Session) error {
	payload := sessionPayload{
		SessionStartTime: sess.StartTime.UTC().Format(time.RFC3339Nano),
		SessionEndTime:   sess.EndTime.UTC().Format(time.RFC3339Nano),
		TotalBlinks:      sess.BlinkCount,
		BlinkEvents:      sess.BlinkEvents,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if u.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	return nil
}
