// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package configversion implements the Config Versioner (C11): upgrades a
// TaskConfig loaded from the history store (which may predate the current
// schema) to the current version by filling in missing fields with their
// version-introduced defaults, then validates the result.
package configversion

import (
	"fmt"

	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/pkg/types"
)

// CurrentVersion is the schema version new configs are stamped with and the
// target of Upgrade.
const CurrentVersion = "1.2.0"

// versionOrder is the linear upgrade path. Unrecognized versions are treated
// as older than every version listed here, so the full defaults chain is
// applied rather than the config being rejected outright.
var versionOrder = []string{"1.0.0", "1.1.0", "1.2.0"}

// defaultsByVersion holds the fields introduced at each version, applied in
// order to any config older than that version. Mirrors the staged rollout of
// fields in the task config schema: 1.0.0 is the base scoring/search config,
// 1.1.0 added the search-mode tagged variant, 1.2.0 split the single
// "llm_model_name" into per-stage model selectors and added the deep-analysis
// toggle and OCR char limit.
var defaultsByVersion = map[string]types.TaskConfig{
	"1.0.0": {
		IntervalSeconds:  3600,
		SearchQuery:      "machine learning",
		MaxHitsPerSearch: 20,
		RequirementsText: "find recent papers relevant to the configured research interests",
		PersistThreshold: 0.7,
		DeepThreshold:    0.8,
	},
	"1.1.0": {
		SearchMode: types.NewLatestMode(),
	},
	"1.2.0": {
		AbstractAnalysisModel:  "claude-default",
		FullPaperAnalysisModel: "claude-default",
		DeepAnalysisModel:      "claude-default",
		EnableDeepAnalysis:     true,
		OCRCharLimit:           10000,
	},
}

// upgradePath returns the versions strictly after from, up to and including
// to. An unrecognized "from" is treated as older than every known version,
// so the full defaults chain is applied.
func upgradePath(from, to string) []string {
	toIdx := indexOf(to)
	if toIdx < 0 {
		return nil
	}
	fromIdx := indexOf(from)
	if fromIdx < 0 {
		return versionOrder[:toIdx+1]
	}
	if fromIdx >= toIdx {
		return nil
	}
	return versionOrder[fromIdx+1 : toIdx+1]
}

func indexOf(version string) int {
	for i, v := range versionOrder {
		if v == version {
			return i
		}
	}
	return -1
}

// Upgrade fills every field a version newer than cfg.Version introduced, if
// that field is still at its zero value, and stamps the result to
// CurrentVersion. It does not mutate cfg.
func Upgrade(cfg types.TaskConfig) types.TaskConfig {
	upgraded := cfg
	for _, version := range upgradePath(cfg.Version, CurrentVersion) {
		applyDefaults(&upgraded, defaultsByVersion[version])
	}
	if upgraded.SearchMode.Kind == "" {
		upgraded.SearchMode = types.NewLatestMode()
	}
	upgraded.Version = CurrentVersion
	return upgraded
}

// applyDefaults sets every non-zero field of defaults onto cfg wherever cfg
// still holds the corresponding zero value. Hand-rolled per field rather
// than reflection: the config is small and fixed, and this keeps the
// "only fill if absent" rule for search_mode (a struct, not a scalar)
// explicit instead of relying on reflect.DeepEqual against a zero value.
func applyDefaults(cfg *types.TaskConfig, defaults types.TaskConfig) {
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = defaults.IntervalSeconds
	}
	if cfg.SearchQuery == "" {
		cfg.SearchQuery = defaults.SearchQuery
	}
	if cfg.MaxHitsPerSearch == 0 {
		cfg.MaxHitsPerSearch = defaults.MaxHitsPerSearch
	}
	if cfg.RequirementsText == "" {
		cfg.RequirementsText = defaults.RequirementsText
	}
	if cfg.PersistThreshold == 0 {
		cfg.PersistThreshold = defaults.PersistThreshold
	}
	if cfg.DeepThreshold == 0 {
		cfg.DeepThreshold = defaults.DeepThreshold
	}
	if cfg.SearchMode.Kind == "" && defaults.SearchMode.Kind != "" {
		cfg.SearchMode = defaults.SearchMode
	}
	if cfg.AbstractAnalysisModel == "" {
		cfg.AbstractAnalysisModel = defaults.AbstractAnalysisModel
	}
	if cfg.FullPaperAnalysisModel == "" {
		cfg.FullPaperAnalysisModel = defaults.FullPaperAnalysisModel
	}
	if cfg.DeepAnalysisModel == "" {
		cfg.DeepAnalysisModel = defaults.DeepAnalysisModel
	}
	if !cfg.EnableDeepAnalysis {
		cfg.EnableDeepAnalysis = defaults.EnableDeepAnalysis
	}
	if cfg.OCRCharLimit == 0 {
		cfg.OCRCharLimit = defaults.OCRCharLimit
	}
}

// UpgradeAndValidate upgrades cfg and rejects it with pipeline.InvalidConfig
// if required fields are still missing afterward (a config with a field the
// versioner has no default for, e.g. an empty search_query on an already
// current-version config).
func UpgradeAndValidate(cfg types.TaskConfig) (types.TaskConfig, error) {
	upgraded := Upgrade(cfg)
	if err := upgraded.Validate(); err != nil {
		return upgraded, pipeline.Wrap(pipeline.InvalidConfig, fmt.Errorf("config version %s: %w", cfg.Version, err))
	}
	return upgraded, nil
}
