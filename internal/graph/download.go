package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
)

// ErrNoDownloadURL is returned when a drive item has no pre-authenticated download URL.
// This can happen for folders or zero-byte files.
var ErrNoDownloadURL = errors.New("graph: item has no download URL")

// DownloadContent reads an item's content into memory, refusing anything
// larger than maxBytes. It fetches the item metadata for the
// pre-authenticated download URL, then reads directly from that URL.
// The returned item is the metadata the content was read through.
func (c *Client) DownloadContent(
	ctx context.Context, driveID driveid.ID, itemID string, maxBytes int64,
) ([]byte, *Item, error) {
	item, err := c.GetItem(ctx, driveID, itemID)
	if err != nil {
		return nil, nil, err
	}

	data, err := c.ReadContent(ctx, item, maxBytes)
	if err != nil {
		return nil, item, err
	}

	return data, item, nil
}

// ReadContent reads the content of an item whose metadata the caller has
// already fetched and checked. The download URL in item must be fresh.
func (c *Client) ReadContent(ctx context.Context, item *Item, maxBytes int64) ([]byte, error) {
	c.logger.Info("downloading item",
		slog.String("drive_id", item.DriveID.String()),
		slog.String("item_id", item.ID),
	)

	if item.IsFolder {
		return nil, fmt.Errorf("graph: item %s is a folder: %w", item.ID, ErrNoDownloadURL)
	}

	if maxBytes > 0 && item.Size > maxBytes {
		return nil, fmt.Errorf("graph: item is %d bytes, limit %d: %w", item.Size, maxBytes, ErrTooLarge)
	}

	if item.DownloadURL == "" {
		if item.Size == 0 {
			return []byte{}, nil
		}

		c.logger.Warn("item has no download URL",
			slog.String("drive_id", item.DriveID.String()),
			slog.String("item_id", item.ID),
		)

		return nil, ErrNoDownloadURL
	}

	data, err := c.downloadFromURL(ctx, item.DownloadURL, maxBytes)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("download complete",
		slog.String("drive_id", item.DriveID.String()),
		slog.String("item_id", item.ID),
		slog.Int("bytes", len(data)),
	)

	return data, nil
}

// downloadFromURL reads content from a pre-authenticated URL.
// The URL is pre-authenticated by the Graph API, so no Authorization header is needed.
// The URL itself is never logged because it contains embedded auth tokens.
func (c *Client) downloadFromURL(ctx context.Context, downloadURL string, maxBytes int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, downloadURL, nil, nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("graph: reading download content: %w", err)
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("graph: content exceeds %d bytes: %w", maxBytes, ErrTooLarge)
	}

	return data, nil
}
