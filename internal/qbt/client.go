// Package qbt wraps the external torrent client API the rehome
// orchestrator pauses, relocates, and resumes torrents through
// (spec.md §6). It is a thin adapter over github.com/autobrr/go-qbittorrent,
// grounded on autobrr-qui's internal/qbittorrent/client.go wrapper style,
// adding bounded retries since rehome runs cannot afford to silently stall
// on a single flaky API call.
package qbt

import (
	"context"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/slyckmb/hashall/internal/errs"
)

// Client is a session-authenticated handle to one torrent client
// instance.
type Client struct {
	inner      *qbt.Client
	retries    uint
	retryDelay time.Duration
}

// Config holds the connection parameters for a torrent client instance.
type Config struct {
	URL      string
	Username string
	Password string
}

// New logs into the torrent client and returns a ready Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	inner := qbt.NewClient(qbt.Config{
		Host:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := inner.LoginCtx(ctx); err != nil {
		return nil, errs.Wrap(errs.ClientAPI, cfg.URL, err)
	}
	return &Client{inner: inner, retries: 3, retryDelay: 500 * time.Millisecond}, nil
}

func (c *Client) withRetry(ctx context.Context, subject string, fn func() error) error {
	err := retry.Do(fn,
		retry.Attempts(c.retries),
		retry.Delay(c.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Str("subject", subject).Uint("attempt", n).Msg("retrying torrent client call")
		}),
	)
	if err != nil {
		return errs.Wrap(errs.ClientAPI, subject, err)
	}
	return nil
}

// TorrentInfo is the subset of the client's torrent listing the
// catalog and rehome planner care about.
type TorrentInfo struct {
	InfoHash    string
	SavePath    string
	ContentPath string
	Category    string
	Tags        []string
	State       string
}

// ListTorrents returns every torrent currently known to the client.
func (c *Client) ListTorrents(ctx context.Context) ([]TorrentInfo, error) {
	var raw []qbt.Torrent
	err := c.withRetry(ctx, "list torrents", func() error {
		var innerErr error
		raw, innerErr = c.inner.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	out := make([]TorrentInfo, 0, len(raw))
	for _, t := range raw {
		out = append(out, TorrentInfo{
			InfoHash:    t.Hash,
			SavePath:    t.SavePath,
			ContentPath: t.ContentPath,
			Category:    t.Category,
			Tags:        splitTags(t.Tags),
			State:       string(t.State),
		})
	}
	return out, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// FileEntry is one file within a torrent's content, used to build the
// payload manifest for a torrent (spec.md §5).
type FileEntry struct {
	Name string
	Size int64
}

// FilesInformation returns the file list for a torrent.
func (c *Client) FilesInformation(ctx context.Context, infoHash string) ([]FileEntry, error) {
	var raw qbt.TorrentFiles
	err := c.withRetry(ctx, infoHash, func() error {
		var innerErr error
		raw, innerErr = c.inner.GetFilesInformationCtx(ctx, infoHash)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	out := make([]FileEntry, 0, len(raw))
	for _, f := range raw {
		out = append(out, FileEntry{Name: f.Name, Size: f.Size})
	}
	return out, nil
}

// Pause pauses a torrent so the rehome orchestrator can safely relocate
// its data.
func (c *Client) Pause(ctx context.Context, infoHash string) error {
	return c.withRetry(ctx, infoHash, func() error {
		return c.inner.PauseCtx(ctx, []string{infoHash})
	})
}

// Resume resumes a torrent after its data has been relocated.
func (c *Client) Resume(ctx context.Context, infoHash string) error {
	return c.withRetry(ctx, infoHash, func() error {
		return c.inner.ResumeCtx(ctx, []string{infoHash})
	})
}

// SetLocation updates a torrent's save path, used to point the client
// at data that has been moved or reused at a new home (spec.md §6
// REUSE/MOVE execution).
func (c *Client) SetLocation(ctx context.Context, infoHash, newPath string) error {
	return c.withRetry(ctx, infoHash, func() error {
		return c.inner.SetLocationCtx(ctx, []string{infoHash}, newPath)
	})
}
