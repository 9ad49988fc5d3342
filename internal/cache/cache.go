// Package cache persists the merged expectations document: one JSON file
// holding the latest analysis per chat. Writes go through a temp file and an
// atomic rename so readers only ever see a fully-old or fully-new document.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/models"
)

// Stats summarizes one pipeline run.
type Stats struct {
	ActiveChats int `json:"active_chats"`
	Analyzed    int `json:"analyzed"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed,omitempty"`
}

// Document is the full cache file shape.
type Document struct {
	UpdatedAt *time.Time                    `json:"updated_at"`
	Stats     Stats                         `json:"stats"`
	Chats     map[string]*models.CacheEntry `json:"chats"`
}

// NewDocument returns an empty, valid document.
func NewDocument() *Document {
	return &Document{Chats: make(map[string]*models.CacheEntry)}
}

// Load reads the document at path. A missing or corrupt file yields an empty
// default: the cache is a best-effort analytics artifact, availability beats
// strict consistency here.
func Load(path string, logger *zap.Logger) *Document {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read expectations cache", zap.Error(err))
		}
		return NewDocument()
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("expectations cache is corrupt, starting empty",
			zap.String("path", path),
			zap.Error(err))
		return NewDocument()
	}
	if doc.Chats == nil {
		doc.Chats = make(map[string]*models.CacheEntry)
	}
	return &doc
}

// Write serializes the document to a temp file next to path and renames it
// over the original. A crash between the two steps leaves the previous
// document intact.
func Write(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating cache directory: %v", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding cache: %v", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing cache temp file: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("error replacing cache file: %v", err)
	}
	return nil
}
