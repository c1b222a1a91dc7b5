// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ocr implements the Text Extractor (C4): two modes of turning raw
// PDF bytes into text. Fast mode shells out to local poppler-utils binaries
// (pdfinfo/pdftotext). Structured mode shells out to a
// container image via internal/container, reusing that abstraction
// directly, and unpacks a small tar contract of markdown + images.
package ocr

import (
	"fmt"
	"strings"
)

// Mode is the closed set of extraction modes.
type Mode string

const (
	ModeFast       Mode = "fast"
	ModeStructured Mode = "structured"
)

// DefaultMaxPages is the fast-mode page cap (spec §4.3).
const DefaultMaxPages = 25

// StatusInfo describes how an extraction run went, independent of mode.
type StatusInfo struct {
	TotalPages     int
	ProcessedPages int
	IsOversized    bool
	CharCount      int
	Mode           Mode
}

// normalizeWhitespace collapses runs of whitespace the way fast-mode page
// text is normalized before concatenation.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func charCountOf(s string) int { return len([]rune(s)) }

func statusInfo(mode Mode, totalPages, processedPages int, text string) StatusInfo {
	return StatusInfo{
		TotalPages:     totalPages,
		ProcessedPages: processedPages,
		IsOversized:    totalPages > DefaultMaxPages,
		CharCount:      charCountOf(text),
		Mode:           mode,
	}
}

func errZeroPages(mode Mode) error {
	return fmt.Errorf("%s mode: zero pages processed", mode)
}
