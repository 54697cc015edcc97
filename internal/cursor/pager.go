package cursor

import (
	"context"
	"log/slog"
	"time"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
)

// Page size bounds for client listings.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Lister is the slice of the document API listings need.
// *graph.Client satisfies it.
type Lister interface {
	ChildrenURL(driveID driveid.ID, folderID string, top int) string
	ListChildrenPage(ctx context.Context, pageURL string) (*graph.Page, error)
}

// Request asks for one page of a folder listing.
type Request struct {
	Binding
	Cursor   string
	PageSize int

	// Match filters upstream items; nil keeps everything. It must depend
	// only on the item and Binding.Filter.
	Match func(*graph.Item) bool
}

// Result is one page of a listing. NextCursor is empty on the last page.
type Result struct {
	Items      []Entry `json:"items"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// List returns up to req.PageSize entries. Buffered entries from the
// cursor are served first; further upstream pages are fetched only as
// needed and any overflow is carried in the next cursor. Every
// continuation link is checked before it is followed or re-issued.
func (c *Codec) List(ctx context.Context, api Lister, req Request, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	size := req.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	size = min(size, MaxPageSize)

	var (
		buffer []Entry
		next   string
	)

	if req.Cursor != "" {
		cur, err := c.Decode(req.Cursor, req.Binding)
		if err != nil {
			return nil, err
		}

		buffer, next = cur.Buffer, cur.Next
	} else {
		next = api.ChildrenURL(req.DriveID, req.FolderID, size)
	}

	take := min(size, len(buffer))
	out := append(make([]Entry, 0, size), buffer[:take]...)
	buffer = buffer[take:]

	fetched := 0

	for len(out) < size && next != "" {
		page, err := api.ListChildrenPage(ctx, next)
		if err != nil {
			return nil, graph.ToAppError(err)
		}

		fetched++

		if page.NextLink != "" {
			if err := c.links.Check(page.NextLink, req.DriveID, req.FolderID); err != nil {
				logger.Warn("upstream returned a continuation link outside the listing",
					slog.String("folder_id", req.FolderID),
				)

				return nil, err
			}
		}

		next = page.NextLink

		for i := range page.Items {
			item := &page.Items[i]
			if req.Match != nil && !req.Match(item) {
				continue
			}

			if len(out) < size {
				out = append(out, ToEntry(item))
			} else {
				buffer = append(buffer, ToEntry(item))
			}
		}
	}

	logger.Debug("listed folder page",
		slog.String("folder_id", req.FolderID),
		slog.Int("returned", len(out)),
		slog.Int("buffered", len(buffer)),
		slog.Int("upstream_pages", fetched),
	)

	res := &Result{Items: out}

	if len(buffer) > 0 || next != "" {
		if len(buffer) == 0 {
			buffer = nil
		}

		tok, err := c.Encode(c.New(req.Binding, next, buffer))
		if err != nil {
			return nil, err
		}

		res.NextCursor = tok
	}

	return res, nil
}

// ToEntry converts item metadata to its client form. Download URLs are
// never carried over.
func ToEntry(item *graph.Item) Entry {
	e := Entry{
		ID:       item.ID,
		Name:     item.Name,
		Path:     item.Path,
		Size:     item.Size,
		MimeType: item.MimeType,
		IsFolder: item.IsFolder,
	}

	if !item.ModifiedAt.IsZero() {
		e.Modified = item.ModifiedAt.UTC().Format(time.RFC3339)
	}

	return e
}
