// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history implements the Task History Store (C10): a month-sharded
// on-disk journal of completed task runs, plus a small config-preset
// library. Every config read back out is round-tripped through the config
// versioner so older runs remain loadable after a schema change.
package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-engine/internal/configversion"
	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/pkg/types"
)

const (
	taskHistoryDir = "task_history"
	presetsDir     = "config_presets"
	presetsFile    = "user_presets.yaml"
)

// Store persists TaskRunRecords in month-sharded journal files under
// dataDir/task_history, and named config presets under
// dataDir/config_presets.
type Store struct {
	mu      sync.Mutex
	dataDir string
}

// NewStore creates the journal and presets directories if absent and
// returns a Store rooted at dataDir.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{dataDir: dataDir}
	if err := os.MkdirAll(filepath.Join(dataDir, taskHistoryDir), 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("creating task history dir: %w", err))
	}
	if err := os.MkdirAll(filepath.Join(dataDir, presetsDir), 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("creating config presets dir: %w", err))
	}
	return s, nil
}

// shard is the on-disk shape of one month's journal file.
type shard struct {
	Tasks []types.TaskRunRecord `yaml:"tasks"`
}

func (s *Store) shardPath(t time.Time) string {
	name := fmt.Sprintf("%04d_%02d_tasks.yaml", t.Year(), int(t.Month()))
	return filepath.Join(s.dataDir, taskHistoryDir, name)
}

func (s *Store) readShard(path string) (shard, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return shard{}, nil
	}
	if err != nil {
		return shard{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var sh shard
	if err := yaml.Unmarshal(data, &sh); err != nil {
		return shard{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return sh, nil
}

func (s *Store) writeShard(path string, sh shard) error {
	data, err := yaml.Marshal(&sh)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Append journals a completed run, keyed by its StartedAt month. Duplicate
// run_ids are rejected silently (mirrors the underlying task manager's
// "already exists, skip" behavior) rather than erroring, since a retried
// Append after a partially-failed write should not surface as a failure.
func (s *Store) Append(ctx context.Context, record types.TaskRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.shardPath(record.StartedAt)
	sh, err := s.readShard(path)
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}

	for _, existing := range sh.Tasks {
		if existing.RunID == record.RunID {
			return nil
		}
	}

	sh.Tasks = append(sh.Tasks, record)
	sort.Slice(sh.Tasks, func(i, j int) bool {
		return sh.Tasks[i].StartedAt.After(sh.Tasks[j].StartedAt)
	})

	if err := s.writeShard(path, sh); err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return nil
}

// ListFilter narrows List's results. A zero value matches everything.
type ListFilter struct {
	Limit     int
	Since     time.Time
	Until     time.Time
	TaskID    string
	Status    types.RunStatus
}

// List returns run records across all shards, newest first, honoring
// filter. Shards are visited newest-month-first and the scan stops once
// Limit results have been collected, matching the underlying journal's
// "most recent months first" traversal.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]types.TaskRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shardFiles, err := s.sortedShardFiles()
	if err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, err)
	}

	var out []types.TaskRunRecord
	for _, path := range shardFiles {
		sh, err := s.readShard(path)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.PersistFailed, err)
		}
		for _, record := range sh.Tasks {
			if !filter.Since.IsZero() && record.StartedAt.Before(filter.Since) {
				continue
			}
			if !filter.Until.IsZero() && record.StartedAt.After(filter.Until) {
				continue
			}
			if filter.TaskID != "" && record.TaskID != filter.TaskID {
				continue
			}
			if filter.Status != "" && record.Status != filter.Status {
				continue
			}
			record.Config = configversion.Upgrade(record.Config)
			out = append(out, record)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetConfig finds taskID's most recently journaled config and upgrades it
// through the config versioner before returning it, so callers never see a
// stale schema.
func (s *Store) GetConfig(ctx context.Context, taskID string) (types.TaskConfig, error) {
	records, err := s.List(ctx, ListFilter{TaskID: taskID})
	if err != nil {
		return types.TaskConfig{}, err
	}
	if len(records) == 0 {
		return types.TaskConfig{}, fmt.Errorf("no history found for task %s", taskID)
	}
	return configversion.Upgrade(records[0].Config), nil
}

// UpdateConfig rewrites the config field of every journaled run for taskID,
// leaving results and timestamps intact. Mirrors the underlying task
// manager's config-only update, which never touches execution results.
func (s *Store) UpdateConfig(ctx context.Context, taskID string, newConfig types.TaskConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shardFiles, err := s.sortedShardFiles()
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}

	found := false
	for _, path := range shardFiles {
		sh, err := s.readShard(path)
		if err != nil {
			return pipeline.Wrap(pipeline.PersistFailed, err)
		}
		changed := false
		for i := range sh.Tasks {
			if sh.Tasks[i].TaskID == taskID {
				sh.Tasks[i].Config = newConfig
				changed = true
				found = true
			}
		}
		if changed {
			if err := s.writeShard(path, sh); err != nil {
				return pipeline.Wrap(pipeline.PersistFailed, err)
			}
		}
	}
	if !found {
		return fmt.Errorf("no history found for task %s", taskID)
	}
	return nil
}

// Delete removes every journaled run for taskID. Not an error if taskID has
// no history.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shardFiles, err := s.sortedShardFiles()
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}

	for _, path := range shardFiles {
		sh, err := s.readShard(path)
		if err != nil {
			return pipeline.Wrap(pipeline.PersistFailed, err)
		}
		kept := sh.Tasks[:0]
		for _, record := range sh.Tasks {
			if record.TaskID != taskID {
				kept = append(kept, record)
			}
		}
		if len(kept) != len(sh.Tasks) {
			sh.Tasks = kept
			if err := s.writeShard(path, sh); err != nil {
				return pipeline.Wrap(pipeline.PersistFailed, err)
			}
		}
	}
	return nil
}

// Cleanup removes shard files older than keepMonths and returns how many
// were deleted.
func (s *Store) Cleanup(ctx context.Context, keepMonths int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, -keepMonths, 0)
	shardFiles, err := s.sortedShardFiles()
	if err != nil {
		return 0, pipeline.Wrap(pipeline.PersistFailed, err)
	}

	removed := 0
	for _, path := range shardFiles {
		var year, month int
		if _, err := fmt.Sscanf(filepath.Base(path), "%d_%d_tasks.yaml", &year, &month); err != nil {
			continue
		}
		shardDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		if shardDate.Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return removed, pipeline.Wrap(pipeline.PersistFailed, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Statistics summarizes the journal for a status/health view.
type Statistics struct {
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	TotalPresets   int
	ShardFiles     int
}

// Stats computes Statistics by scanning every shard and the presets file.
func (s *Store) Stats(ctx context.Context) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shardFiles, err := s.sortedShardFiles()
	if err != nil {
		return Statistics{}, pipeline.Wrap(pipeline.PersistFailed, err)
	}

	var stats Statistics
	stats.ShardFiles = len(shardFiles)
	for _, path := range shardFiles {
		sh, err := s.readShard(path)
		if err != nil {
			return Statistics{}, pipeline.Wrap(pipeline.PersistFailed, err)
		}
		stats.TotalTasks += len(sh.Tasks)
		for _, record := range sh.Tasks {
			switch record.Status {
			case types.RunCompleted:
				stats.CompletedTasks++
			case types.RunFailed:
				stats.FailedTasks++
			}
		}
	}

	presets, err := s.loadPresetsLocked()
	if err != nil {
		return Statistics{}, err
	}
	stats.TotalPresets = len(presets)
	return stats, nil
}

// Preset is a named, saved task config.
type Preset struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Config      types.TaskConfig `yaml:"config"`
	CreatedAt   time.Time        `yaml:"created_at"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

func (s *Store) presetsPath() string {
	return filepath.Join(s.dataDir, presetsDir, presetsFile)
}

func (s *Store) loadPresetsLocked() ([]Preset, error) {
	data, err := os.ReadFile(s.presetsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("reading presets: %w", err))
	}
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("parsing presets: %w", err))
	}
	return pf.Presets, nil
}

func (s *Store) writePresetsLocked(presets []Preset) error {
	data, err := yaml.Marshal(&presetFile{Presets: presets})
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("marshaling presets: %w", err))
	}
	if err := os.WriteFile(s.presetsPath(), data, 0o644); err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("writing presets: %w", err))
	}
	return nil
}

// SavePreset stores or overwrites (by name) a named config preset.
func (s *Store) SavePreset(ctx context.Context, name, description string, cfg types.TaskConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, err := s.loadPresetsLocked()
	if err != nil {
		return "", err
	}

	filtered := presets[:0]
	for _, p := range presets {
		if p.Name != name {
			filtered = append(filtered, p)
		}
	}

	preset := Preset{
		ID:          generateID(),
		Name:        name,
		Description: description,
		Config:      cfg,
		CreatedAt:   time.Now(),
	}
	filtered = append(filtered, preset)
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })

	if err := s.writePresetsLocked(filtered); err != nil {
		return "", err
	}
	return preset.ID, nil
}

// ListPresets returns every saved preset, each config upgraded through the
// config versioner.
func (s *Store) ListPresets(ctx context.Context) ([]Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, err := s.loadPresetsLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Preset, len(presets))
	for i, p := range presets {
		p.Config = configversion.Upgrade(p.Config)
		out[i] = p
	}
	return out, nil
}

// DeletePreset removes a preset by ID, returning false if it wasn't found.
func (s *Store) DeletePreset(ctx context.Context, presetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, err := s.loadPresetsLocked()
	if err != nil {
		return false, err
	}
	kept := presets[:0]
	for _, p := range presets {
		if p.ID != presetID {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(presets) {
		return false, nil
	}
	if err := s.writePresetsLocked(kept); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) sortedShardFiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, taskHistoryDir))
	if err != nil {
		return nil, fmt.Errorf("listing task history dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(s.dataDir, taskHistoryDir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
