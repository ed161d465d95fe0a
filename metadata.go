package modcache

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/depcache/modcache/store"
)

// Metadata is the sidecar document stored beside a content file, carrying
// the exact response headers observed when the entry was written plus the
// original request URL.
type Metadata struct {
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	Destination *Destination      `json:"destination,omitempty"`
}

// MetadataStore derives and persists the ".metadata.json" sidecar next to
// a content path.
type MetadataStore struct {
	backend store.Backend
}

func NewMetadataStore(b store.Backend) *MetadataStore {
	return &MetadataStore{backend: b}
}

// SidecarPath replaces contentPath's final extension (if any) with
// ".metadata.json", or appends that suffix when there is none.
func SidecarPath(contentPath string) string {
	slash := strings.LastIndexByte(contentPath, '/')
	dir, base := "", contentPath
	if slash >= 0 {
		dir, base = contentPath[:slash+1], contentPath[slash+1:]
	}
	if dot := strings.LastIndexByte(base, '.'); dot > 0 {
		base = base[:dot]
	}
	return dir + base + ".metadata.json"
}

func (m *MetadataStore) Read(ctx context.Context, contentPath string) (*Metadata, error) {
	raw, err := m.backend.Read(ctx, SidecarPath(contentPath))
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, &ParseError{Path: SidecarPath(contentPath), Err: err}
	}
	return &md, nil
}

func (m *MetadataStore) Write(ctx context.Context, contentPath string, md *Metadata) error {
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return m.backend.Write(ctx, SidecarPath(contentPath), raw, 0o644)
}

func (m *MetadataStore) Exists(ctx context.Context, contentPath string) (bool, error) {
	return m.backend.Exists(ctx, SidecarPath(contentPath))
}

// lowercaseHeaders returns a copy of h with lowercased keys, matching the
// "all response header names are lowercased before storage and comparison"
// rule.
func lowercaseHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}
