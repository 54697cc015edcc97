package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// uploadChunkSize is the session chunk size: 10 × 320 KiB.
const uploadChunkSize = 10 * chunkAlignment

// simpleUploadMaxSize is the maximum file size for simple (single-request) upload (4 MB).
// Larger content goes through a resumable upload session.
const simpleUploadMaxSize = 4 * 1024 * 1024

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// conflictBehavior maps the overwrite flag onto Graph's annotation value.
func conflictBehavior(overwrite bool) string {
	if overwrite {
		return "replace"
	}

	return "fail"
}

// UploadByPath writes content as parentID/name. Without overwrite an
// existing item fails with ErrConflict. content is held in memory so
// throttled attempts resend the identical bytes.
func (c *Client) UploadByPath(
	ctx context.Context, driveID driveid.ID, parentID, name string, content []byte, contentType string, overwrite bool,
) (*Item, error) {
	c.logger.Info("uploading content",
		slog.String("drive_id", driveID.String()),
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int("size", len(content)),
	)

	if len(content) > simpleUploadMaxSize {
		return c.uploadSession(ctx, driveID, parentID, name, content, overwrite)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	apiPath := fmt.Sprintf("/drives/%s/items/%s:/%s:/content?@microsoft.graph.conflictBehavior=%s",
		escapeID(driveID.String()), escapeID(parentID), url.PathEscape(name), conflictBehavior(overwrite))

	resp, err := c.do(ctx, http.MethodPut, c.baseURL+apiPath, content,
		map[string]string{"Content-Type": contentType}, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload response: %w", decErr)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// uploadSession uploads content through a resumable session in aligned
// chunks. The session URL is pre-authenticated, so chunk requests carry
// no Authorization header.
func (c *Client) uploadSession(
	ctx context.Context, driveID driveid.ID, parentID, name string, content []byte, overwrite bool,
) (*Item, error) {
	apiPath := fmt.Sprintf("/drives/%s/items/%s:/%s:/createUploadSession",
		escapeID(driveID.String()), escapeID(parentID), url.PathEscape(name))

	bodyBytes, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: conflictBehavior(overwrite)},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, apiPath, bodyBytes)
	if err != nil {
		return nil, err
	}

	var usr uploadSessionResponse

	decErr := json.NewDecoder(resp.Body).Decode(&usr)
	resp.Body.Close()

	if decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	if usr.UploadURL == "" {
		return nil, fmt.Errorf("graph: upload session response has no uploadUrl")
	}

	total := len(content)

	for offset := 0; offset < total; offset += uploadChunkSize {
		end := min(offset+uploadChunkSize, total)

		c.logger.Debug("uploading chunk",
			slog.Int("offset", offset),
			slog.Int("length", end-offset),
			slog.Int("total", total),
		)

		chunkResp, chunkErr := c.do(ctx, http.MethodPut, usr.UploadURL, content[offset:end], map[string]string{
			"Content-Type":  "application/octet-stream",
			"Content-Range": fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total),
		}, false)
		if chunkErr != nil {
			return nil, fmt.Errorf("graph: uploading chunk at offset %d: %w", offset, chunkErr)
		}

		if chunkResp.StatusCode == http.StatusAccepted {
			chunkResp.Body.Close()
			continue
		}

		// 200/201: upload complete, response carries the item.
		var dir driveItemResponse

		decErr := json.NewDecoder(chunkResp.Body).Decode(&dir)
		chunkResp.Body.Close()

		if decErr != nil {
			return nil, fmt.Errorf("graph: decoding final chunk response: %w", decErr)
		}

		item := dir.toItem(c.logger)

		return &item, nil
	}

	return nil, fmt.Errorf("graph: upload session ended without a completed item")
}
