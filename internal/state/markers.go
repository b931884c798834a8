package state

import (
	"fmt"
	"strings"

	"github.com/agentic-research/cominavi/api"
)

const (
	downloadedPrefix = "downloaded-digest/"
	extractedPrefix  = "images-extracted/"
)

// Markers is the typed view over Store used by the pipeline.
//
// Keys:
//
//	downloaded-digest/{instance}/{kind} -> digest
//	images-extracted/{instance}/{imageryDigest} -> "1"
type Markers struct {
	kv Store
}

func NewMarkers(kv Store) *Markers {
	return &Markers{kv: kv}
}

func downloadedKey(instanceID string, kind api.FileKind) string {
	return downloadedPrefix + instanceID + "/" + string(kind)
}

func extractedKey(instanceID, imageryDigest string) string {
	return extractedPrefix + instanceID + "/" + strings.ToLower(imageryDigest)
}

// DownloadedDigest returns the digest last applied for (instance, kind), or "".
func (m *Markers) DownloadedDigest(instanceID string, kind api.FileKind) (string, error) {
	v, _, err := m.kv.Get(downloadedKey(instanceID, kind))
	if err != nil {
		return "", fmt.Errorf("read downloaded digest: %w", err)
	}
	return v, nil
}

// SetDownloadedDigest records a fully successful download of one file.
func (m *Markers) SetDownloadedDigest(instanceID string, kind api.FileKind, digest string) error {
	if err := m.kv.Set(downloadedKey(instanceID, kind), strings.ToLower(digest)); err != nil {
		return fmt.Errorf("write downloaded digest: %w", err)
	}
	return nil
}

// ImagesExtracted reports whether extraction completed for the imagery digest.
func (m *Markers) ImagesExtracted(instanceID, imageryDigest string) (bool, error) {
	v, ok, err := m.kv.Get(extractedKey(instanceID, imageryDigest))
	if err != nil {
		return false, fmt.Errorf("read extraction marker: %w", err)
	}
	return ok && v == "1", nil
}

func (m *Markers) SetImagesExtracted(instanceID, imageryDigest string) error {
	if err := m.kv.Set(extractedKey(instanceID, imageryDigest), "1"); err != nil {
		return fmt.Errorf("write extraction marker: %w", err)
	}
	return nil
}

// ClearInstance drops every marker recorded for the instance, forcing a full
// re-sync on the next run.
func (m *Markers) ClearInstance(instanceID string) error {
	for _, prefix := range []string{downloadedPrefix, extractedPrefix} {
		if err := m.kv.DeletePrefix(prefix + instanceID + "/"); err != nil {
			return fmt.Errorf("clear markers: %w", err)
		}
	}
	return nil
}
