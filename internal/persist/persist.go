// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package persist implements pluggable backup stores for the
// Broadcast Distribution Table, plus a file watcher that notices when
// an operator edits the backup out of band.
package persist

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/bacstack/bacstack/internal/bvll"
)

// bdtEntryJSON is the on-disk shape of a BDT row: `{"host", "port", "mask"}`.
type bdtEntryJSON struct {
	Host string  `json:"host"`
	Port uint16  `json:"port"`
	Mask [4]byte `json:"mask"`
}

// FileStore persists the BDT as a JSON array on disk. Writes are
// atomic: write to a temp file in the same directory, then rename.
type FileStore struct {
	Path string
}

// Load reads the BDT from Path. A missing file is not an error; it
// returns an empty table.
func (s *FileStore) Load() ([]bvll.BDTEntry, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []bdtEntryJSON
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}

	entries := make([]bvll.BDTEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, bvll.BDTEntry{
			Address: net.ParseIP(r.Host),
			Port:    r.Port,
			Mask:    net.IPMask(r.Mask[:]),
		})
	}
	return entries, nil
}

// Save writes entries to Path atomically.
func (s *FileStore) Save(entries []bvll.BDTEntry) error {
	rows := make([]bdtEntryJSON, 0, len(entries))
	for _, e := range entries {
		row := bdtEntryJSON{Host: e.Address.String(), Port: e.Port}
		mask := e.Mask
		if len(mask) == 0 {
			mask = net.CIDRMask(32, 32)
		}
		copy(row.Mask[:], mask)
		rows = append(rows, row)
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".bdt-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.Path)
}

// Watcher notifies a callback whenever the backup file changes on
// disk, so an operator hand-editing the BDT outside the application
// takes effect without a restart.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
}

// NewWatcher starts watching path's directory (fsnotify can't watch a
// single file across editors that replace it via rename) and invokes
// onChange whenever path itself is written or renamed into place.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{watcher: fw, path: path, onChange: onChange}, nil
}

// Run blocks, dispatching onChange until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.onChange()
			}
		case <-w.watcher.Errors:
			continue
		}
	}
}
