package scope

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
)

// fakeDrive is an in-memory drive keyed by lower-cased path.
type fakeDrive struct {
	mu      sync.Mutex
	driveID driveid.ID
	siteID  string
	byPath  map[string]*graph.Item
	byID    map[string]*graph.Item
	nextID  int
	creates int

	// hidden makes the next n GetItemByPath calls for a path report
	// NotFound, simulating a creator that raced ahead between lookup and
	// create.
	hidden map[string]int
}

func newFakeDrive(id string) *fakeDrive {
	d := &fakeDrive{
		driveID: driveid.New(id),
		siteID:  "site-1",
		byPath:  make(map[string]*graph.Item),
		byID:    make(map[string]*graph.Item),
		hidden:  make(map[string]int),
	}

	root := &graph.Item{ID: "root-id", Name: "root", IsFolder: true, IsRoot: true, Path: "/"}
	d.byPath["/"] = root
	d.byID["root-id"] = root
	d.byID["root"] = root

	return d
}

func (d *fakeDrive) add(p string, folder bool) *graph.Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.addLocked(p, folder)
}

func (d *fakeDrive) addLocked(p string, folder bool) *graph.Item {
	d.nextID++
	p = cleanPath(p)
	parent := d.byPath[strings.ToLower(path.Dir(p))]

	item := &graph.Item{
		ID:       fmt.Sprintf("id-%d", d.nextID),
		Name:     path.Base(p),
		DriveID:  d.driveID,
		Path:     p,
		IsFolder: folder,
	}

	if parent != nil {
		item.ParentID = parent.ID
	}

	d.byPath[strings.ToLower(p)] = item
	d.byID[item.ID] = item

	return item
}

func (d *fakeDrive) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.byPath) - 1
}

func notFound() error {
	return &graph.GraphError{StatusCode: http.StatusNotFound, Message: "itemNotFound", Err: graph.ErrNotFound}
}

func (d *fakeDrive) GetItem(_ context.Context, driveID driveid.ID, itemID string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !driveID.Equal(d.driveID) {
		return nil, notFound()
	}

	item, ok := d.byID[itemID]
	if !ok {
		return nil, notFound()
	}

	cp := *item

	return &cp, nil
}

func (d *fakeDrive) GetItemByPath(_ context.Context, driveID driveid.ID, remotePath string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(cleanPath(remotePath))

	if d.hidden[key] > 0 {
		d.hidden[key]--
		return nil, notFound()
	}

	item, ok := d.byPath[key]
	if !ok || !driveID.Equal(d.driveID) {
		return nil, notFound()
	}

	cp := *item

	return &cp, nil
}

func (d *fakeDrive) CreateFolder(_ context.Context, driveID driveid.ID, parentID, name string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.creates++

	parent, ok := d.byID[parentID]
	if !ok || !driveID.Equal(d.driveID) {
		return nil, notFound()
	}

	p := cleanPath(parent.Path + "/" + name)
	if _, exists := d.byPath[strings.ToLower(p)]; exists {
		return nil, &graph.GraphError{StatusCode: http.StatusConflict, Message: "nameAlreadyExists", Err: graph.ErrConflict}
	}

	cp := *d.addLocked(p, true)

	return &cp, nil
}

func (d *fakeDrive) SiteDrive(_ context.Context, siteID string, driveID driveid.ID) (*graph.Drive, error) {
	if siteID != d.siteID || !driveID.Equal(d.driveID) {
		return nil, notFound()
	}

	return &graph.Drive{ID: d.driveID, SiteID: siteID}, nil
}
