// Package journal exports agent memory as a JSONL file: a header line
// followed by one event per line, oldest first within each agent.
package journal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/memory"
)

// SchemaVersion is written to every header.
const SchemaVersion = "1.0"

// Header is the first line of a journal file.
type Header struct {
	Journal       bool     `json:"_paperclip_journal"`
	SchemaVersion string   `json:"schema_version"`
	ExportedAt    int64    `json:"exported_at"`
	Agents        []string `json:"agents"`
}

// Output contains the result of Export.
type Output struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes the memory of each agent in agentIDs to path. The file is
// written to a temp name and renamed into place, so an existing journal
// survives a failed export.
func Export(ctx context.Context, log memory.Log, agentIDs []string, path string) (*Output, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("journal path is required")
	}
	now := time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create journal directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create journal file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	if err := enc.Encode(Header{
		Journal:       true,
		SchemaVersion: SchemaVersion,
		ExportedAt:    now.Unix(),
		Agents:        agentIDs,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	count := 0
	for _, id := range agentIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evs, err := log.Recent(ctx, id, memory.MaxEventsPerAgent)
		if err != nil {
			return nil, errors.NewCollaboratorUnavailable("memory", err)
		}
		slices.Reverse(evs)
		for _, e := range evs {
			if err := enc.Encode(e); err != nil {
				return nil, errors.NewInternal(err)
			}
			count++
		}
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close journal file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("journal path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("journal destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize journal: %w", err))
	}

	success = true
	return &Output{Path: path, Count: count, ExportedAt: now.Unix()}, nil
}
