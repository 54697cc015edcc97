// Package scope resolves the folder subtree a caller may touch and checks
// item paths against it. Every access check is a prefix containment test
// on canonical drive paths, run against live item metadata.
package scope

import (
	"fmt"
	"path"
	"strings"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/driveid"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
)

// Area selects one of the two working folders of a scope.
type Area int

const (
	// Input holds transcripts.
	Input Area = iota
	// Output receives rendered minutes.
	Output
)

func (a Area) String() string {
	if a == Output {
		return "output"
	}

	return "input"
}

// Scope is the resolved storage subtree for one caller. Prefixes are
// canonical drive paths ("/A/B", no trailing slash), not IDs.
type Scope struct {
	SiteID         string
	DriveID        driveid.ID
	InputFolderID  string
	OutputFolderID string
	BasePrefix     string
	UserPrefix     string
	InputPrefix    string
	OutputPrefix   string
	UserKey        string
}

// Contains reports whether p equals prefix or lies beneath it. A sibling
// that merely shares leading characters ("/a/bob" vs "/a/b") is outside.
func Contains(p, prefix string) bool {
	if p == "" || prefix == "" {
		return false
	}

	p = cleanPath(p)
	prefix = cleanPath(prefix)

	if prefix == "/" {
		return true
	}

	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

// Validate checks the nesting invariant: input and output under the user
// prefix, the user prefix under the base prefix. A violation means the
// deployment is misconfigured and is never tolerated.
func (s *Scope) Validate() error {
	if s.DriveID.IsZero() {
		return apperr.Internal("scope_invalid", "scope has no drive", nil)
	}

	if s.InputFolderID == "" || s.OutputFolderID == "" {
		return apperr.Internal("scope_invalid", "scope is missing a folder reference", nil)
	}

	checks := []struct {
		child, parent, name string
	}{
		{s.UserPrefix, s.BasePrefix, "user"},
		{s.InputPrefix, s.UserPrefix, "input"},
		{s.OutputPrefix, s.UserPrefix, "output"},
	}

	for _, c := range checks {
		if !Contains(c.child, c.parent) {
			return apperr.Internal("scope_invalid", "scope folders are not nested", nil).
				WithDetail("folder", c.name)
		}
	}

	return nil
}

// FolderID returns the folder ID backing area.
func (s *Scope) FolderID(a Area) string {
	if a == Output {
		return s.OutputFolderID
	}

	return s.InputFolderID
}

// Prefix returns the canonical path of area.
func (s *Scope) Prefix(a Area) string {
	if a == Output {
		return s.OutputPrefix
	}

	return s.InputPrefix
}

// CheckItem verifies that item lives on the scope's drive under area. It
// must be called with freshly fetched metadata on every access, even for
// IDs the caller received from an earlier listing.
func (s *Scope) CheckItem(item *graph.Item, a Area) error {
	if item == nil {
		return apperr.NotFound("", "item not found", nil)
	}

	if !item.DriveID.IsZero() && !item.DriveID.Equal(s.DriveID) {
		return outsideScope(item, a)
	}

	if item.Path == "" || !Contains(item.Path, s.Prefix(a)) {
		return outsideScope(item, a)
	}

	return nil
}

func outsideScope(item *graph.Item, a Area) error {
	return apperr.Forbidden("outside_scope",
		fmt.Sprintf("item is outside the caller's %s folder", a), nil).
		WithDetail("itemId", item.ID)
}

// clone returns a copy bound to userKey.
func (s *Scope) clone(userKey string) *Scope {
	cp := *s
	cp.UserKey = userKey

	return &cp
}
