package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
)

// MaxPageSize is the largest $top value Graph accepts for drive item collections.
const MaxPageSize = 200

// Timestamp validation bounds: timestamps outside this range are replaced
// with the zero time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into Graph API URLs.
func encodePathSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// escapeID encodes a caller-supplied identifier as a single path segment,
// so an ID like "../x" cannot address a different resource. "!" is kept
// literal because business drive IDs start with "b!".
func escapeID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), "%21", "!")
}

// driveItemResponse mirrors the Graph API driveItem JSON exactly.
// Unexported: callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	WebURL               string           `json:"webUrl"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Root                 *json.RawMessage `json:"root"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

// toItem normalizes a Graph API driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		WebURL:      d.WebURL,
		IsFolder:    d.Folder != nil || d.Root != nil,
		IsRoot:      d.Root != nil,
		DownloadURL: d.DownloadURL,
	}

	if d.ParentReference != nil {
		item.DriveID = driveid.New(d.ParentReference.DriveID)
		item.ParentID = d.ParentReference.ID
	}

	switch {
	case item.IsRoot:
		item.Path = "/"
	case d.ParentReference != nil && d.ParentReference.Path != "":
		item.Path = canonicalPath(d.ParentReference.Path, d.Name)
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// canonicalPath turns a parentReference.path ("/drive/root:/A/B" or
// "/drives/{id}/root:/A/B") plus the item name into "/A/B/name".
func canonicalPath(parentPath, name string) string {
	rel := parentPath
	if i := strings.Index(rel, "root:"); i >= 0 {
		rel = rel[i+len("root:"):]
	}

	return CleanPath(rel + "/" + name)
}

// CleanPath normalizes a drive-relative path: leading "/", no trailing
// "/", no "." or ".." elements.
func CleanPath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps yield the zero time and are logged.
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Time{}
	}

	return t
}

// fetchItem fetches a single drive item from the given API path and decodes it.
// Shared by GetItem (ID-based) and GetItemByPath (path-based) to avoid duplication.
func (c *Client) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding item response: %w", err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// GetItem retrieves a single drive item by ID.
func (c *Client) GetItem(ctx context.Context, driveID driveid.ID, itemID string) (*Item, error) {
	c.logger.Debug("getting item",
		slog.String("drive_id", driveID.String()),
		slog.String("item_id", itemID),
	)

	return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/items/%s", escapeID(driveID.String()), escapeID(itemID)))
}

// GetItemByPath retrieves a drive item by its path relative to the drive root.
// Leading and trailing slashes are ignored; an empty path is the root.
func (c *Client) GetItemByPath(ctx context.Context, driveID driveid.ID, remotePath string) (*Item, error) {
	remotePath = strings.Trim(remotePath, "/")

	c.logger.Debug("getting item by path",
		slog.String("drive_id", driveID.String()),
		slog.String("path", remotePath),
	)

	if remotePath == "" {
		return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/root", escapeID(driveID.String())))
	}

	return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/root:/%s:", escapeID(driveID.String()), encodePathSegments(remotePath)))
}

// ItemExistsByPath reports whether an item exists at remotePath.
func (c *Client) ItemExistsByPath(ctx context.Context, driveID driveid.ID, remotePath string) (bool, error) {
	_, err := c.GetItemByPath(ctx, driveID, remotePath)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return false, err
}

// ChildrenURL returns the absolute URL of the first children page of a
// folder. Later pages come from the response's nextLink.
func (c *Client) ChildrenURL(driveID driveid.ID, folderID string, top int) string {
	if top <= 0 || top > MaxPageSize {
		top = MaxPageSize
	}

	return fmt.Sprintf("%s/drives/%s/items/%s/children?$top=%d",
		c.baseURL, escapeID(driveID.String()), escapeID(folderID), top)
}

// ListChildrenPage fetches one page of children from an absolute page URL,
// either ChildrenURL or a nextLink the caller has already validated.
func (c *Client) ListChildrenPage(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := c.DoURL(ctx, http.MethodGet, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, fmt.Errorf("graph: decoding children response: %w", err)
	}

	page := &Page{
		Items:    make([]Item, 0, len(lcr.Value)),
		NextLink: lcr.NextLink,
	}

	for i := range lcr.Value {
		page.Items = append(page.Items, lcr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.Int("count", len(page.Items)),
		slog.Bool("more", page.NextLink != ""),
	)

	return page, nil
}

// CreateFolder creates a new folder under the given parent.
// Uses conflictBehavior "fail" and returns ErrConflict (409) on name collision.
func (c *Client) CreateFolder(ctx context.Context, driveID driveid.ID, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("drive_id", driveID.String()),
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	apiPath := fmt.Sprintf("/drives/%s/items/%s/children", escapeID(driveID.String()), escapeID(parentID))

	bodyBytes, err := json.Marshal(createFolderRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "fail",
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, apiPath, bodyBytes)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding create folder response: %w", err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}
