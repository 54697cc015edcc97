package graph

import (
	"time"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
)

// Item represents a drive item (file or folder).
// Fields are normalized from the Graph API response; callers never see raw API data.
type Item struct {
	ID       string
	Name     string
	DriveID  driveid.ID
	ParentID string
	// Path is the canonical item path relative to the drive root, always
	// starting with "/". Empty when the response carried no parent path.
	Path        string
	Size        int64
	ETag        string
	IsFolder    bool
	IsRoot      bool
	MimeType    string
	WebURL      string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	DownloadURL string // pre-authenticated, ephemeral; NEVER log
}

// Page is one page of a children listing. NextLink is the raw
// @odata.nextLink, empty on the last page.
type Page struct {
	Items    []Item
	NextLink string
}

// Drive represents a document library.
type Drive struct {
	ID        driveid.ID
	Name      string
	DriveType string
	SiteID    string
	WebURL    string
}
