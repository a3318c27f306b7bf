package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo contains vault and collection health information.
type StatusInfo struct {
	// Vault stats
	VaultPath   string    `json:"vault_path"`
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
	LastSync    time.Time `json:"last_sync"`

	// Store details
	Collection  string `json:"collection"`
	StoreSize   int64  `json:"store_size"`
	PersistPath string `json:"persist_path,omitempty"`

	// Component status
	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel  string `json:"embedder_model,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
	WatcherStatus  string `json:"watcher_status"` // "running", "stopped", "n/a"

	// Chat sessions persisted for this vault
	Sessions int `json:"sessions,omitempty"`
}

// StatusRenderer displays vault status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Vault Status: "+info.VaultPath))

	// Vault stats
	_, _ = fmt.Fprintf(r.out, "  Files:     %d\n", info.TotalFiles)
	_, _ = fmt.Fprintf(r.out, "  Chunks:    %d\n", info.TotalChunks)
	if !info.LastSync.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last sync: %s\n", humanize.Time(info.LastSync))
	}
	_, _ = fmt.Fprintln(r.out)

	// Store details
	_, _ = fmt.Fprintln(r.out, "  Store:")
	_, _ = fmt.Fprintf(r.out, "    Collection: %s\n", info.Collection)
	if info.StoreSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Size:       %s\n", humanize.Bytes(uint64(info.StoreSize)))
	}
	if info.PersistPath != "" {
		_, _ = fmt.Fprintf(r.out, "    Path:       %s\n", info.PersistPath)
	}
	_, _ = fmt.Fprintln(r.out)

	// Embedder status
	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Type:   %s\n", info.EmbedderType)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		if info.Dimensions > 0 {
			_, _ = fmt.Fprintf(r.out, "    Model:  %s (%d dims)\n", info.EmbedderModel, info.Dimensions)
		} else {
			_, _ = fmt.Fprintf(r.out, "    Model:  %s\n", info.EmbedderModel)
		}
	}
	_, _ = fmt.Fprintln(r.out)

	// Chat sessions
	if info.Sessions > 0 {
		_, _ = fmt.Fprintf(r.out, "  Sessions: %d\n", info.Sessions)
	}

	// Watcher status
	if info.WatcherStatus != "" && info.WatcherStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}
