// Package catalog indexes the firmware images published for a project and
// caches that index in memory with a TTL. The platform only needs to be
// asked for the catalog when the cached copy has aged out, and even then a
// failed refresh degrades to serving the previous copy instead of failing
// the caller outright.
package catalog

import (
	"context"
	"fmt"
	"sort"
)

// Image is one published firmware build.
type Image struct {
	// Target names the component the build is for (e.g. "notecard", "host").
	Target string `json:"target"`

	// Version is the build's version string as published.
	Version string `json:"version"`

	// Filename identifies the build when requesting an update.
	Filename string `json:"filename"`
}

// Catalog is an immutable index of published images, keyed by target and
// version. Build one with NewCatalog; lookups are safe for concurrent use.
type Catalog struct {
	byTarget map[string]map[string]Image
	size     int
}

// NewCatalog indexes the given images. Later entries win when two images
// claim the same target and version, mirroring how the platform lists
// republished builds. Entries without a target, version or filename are
// dropped: they can never be requested, so indexing them only hides bugs.
func NewCatalog(images []Image) *Catalog {
	byTarget := make(map[string]map[string]Image)
	size := 0

	for _, img := range images {
		if img.Target == "" || img.Version == "" || img.Filename == "" {
			continue
		}

		versions, ok := byTarget[img.Target]
		if !ok {
			versions = make(map[string]Image)
			byTarget[img.Target] = versions
		}
		if _, exists := versions[img.Version]; !exists {
			size++
		}
		versions[img.Version] = img
	}

	return &Catalog{byTarget: byTarget, size: size}
}

// Filename returns the filename to request for the given target and
// version. The error names both so a failed update decision can be traced
// to the missing publication.
func (c *Catalog) Filename(target, version string) (string, error) {
	img, ok := c.byTarget[target][version]
	if !ok {
		return "", fmt.Errorf("no firmware image for target %q version %q", target, version)
	}
	return img.Filename, nil
}

// Has reports whether an image is published for the target and version.
func (c *Catalog) Has(target, version string) bool {
	_, ok := c.byTarget[target][version]
	return ok
}

// Versions returns the published versions for a target, sorted
// lexicographically. An unknown target yields an empty slice.
func (c *Catalog) Versions(target string) []string {
	versions := make([]string, 0, len(c.byTarget[target]))
	for version := range c.byTarget[target] {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// Images returns every indexed image, ordered by target then version.
// The order is stable so serialized snapshots compare equal across runs.
func (c *Catalog) Images() []Image {
	targets := make([]string, 0, len(c.byTarget))
	for target := range c.byTarget {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	images := make([]Image, 0, c.size)
	for _, target := range targets {
		for _, version := range c.Versions(target) {
			images = append(images, c.byTarget[target][version])
		}
	}
	return images
}

// Len returns the number of indexed images.
func (c *Catalog) Len() int {
	return c.size
}

// FetchFunc loads the published catalog for a project from upstream.
// The platform client provides the production implementation.
type FetchFunc func(ctx context.Context, projectUID string) (*Catalog, error)
