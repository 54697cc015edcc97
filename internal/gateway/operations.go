package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/cursor"
	"github.com/tonimelisma/minutes-gateway/internal/delivery"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
	"github.com/tonimelisma/minutes-gateway/internal/minutes"
	"github.com/tonimelisma/minutes-gateway/internal/scope"
)

// invalidNameChars are refused in output file names by the document store.
const invalidNameChars = `"*:<>?|/\`

// ListParams selects one page of a folder listing.
type ListParams struct {
	Cursor     string
	PageSize   int
	NameFilter string
}

func (p ListParams) check() error {
	if p.PageSize < 0 || p.PageSize > cursor.MaxPageSize {
		return apperr.Validation("invalid_page_size", "page size must be between 1 and 100", nil).
			WithDetail("pageSize", p.PageSize)
	}

	return nil
}

// ListTranscripts lists files in the input folder. A name filter matches
// a case-insensitive substring and is bound into the cursor.
func (g *Gateway) ListTranscripts(ctx context.Context, s *Session, p ListParams) (*cursor.Result, error) {
	return g.list(ctx, s, scope.Input, p)
}

// ListMinutes lists files in the output folder.
func (g *Gateway) ListMinutes(ctx context.Context, s *Session, p ListParams) (*cursor.Result, error) {
	return g.list(ctx, s, scope.Output, p)
}

func (g *Gateway) list(ctx context.Context, s *Session, area scope.Area, p ListParams) (*cursor.Result, error) {
	if err := p.check(); err != nil {
		return nil, err
	}

	filter := strings.ToLower(strings.TrimSpace(p.NameFilter))

	req := cursor.Request{
		Binding: cursor.Binding{
			DriveID:  s.Scope.DriveID,
			FolderID: s.Scope.FolderID(area),
			Filter:   filter,
		},
		Cursor:   p.Cursor,
		PageSize: p.PageSize,
		Match: func(item *graph.Item) bool {
			if item.IsFolder {
				return false
			}

			if filter != "" && !strings.Contains(strings.ToLower(item.Name), filter) {
				return false
			}

			if err := s.Scope.CheckItem(item, area); err != nil {
				g.logger.Warn("listed item outside scope",
					slog.String("request_id", apperr.RequestID(ctx)),
					slog.String("item_id", item.ID),
					slog.String("area", area.String()),
				)

				return false
			}

			return true
		},
	}

	return g.cfg.Cursors.List(ctx, s.api, req, g.logger)
}

// Transcript is the text of one input file.
type Transcript struct {
	ItemID   string    `json:"itemId"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	MimeType string    `json:"mimeType,omitempty"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Content  string    `json:"content"`
}

// GetTranscript reads a transcript. Containment is checked against the
// item's live metadata before any content is read.
func (g *Gateway) GetTranscript(ctx context.Context, s *Session, itemID string) (*Transcript, error) {
	item, err := g.scopedFile(ctx, s, itemID, scope.Input)
	if err != nil {
		return nil, err
	}

	data, err := s.api.ReadContent(ctx, item, MaxTranscriptSize)
	if err != nil {
		return nil, graph.ToAppError(err)
	}

	if !utf8.Valid(data) {
		return nil, apperr.Validation("not_text", "transcript is not UTF-8 text", nil).
			WithDetail("itemId", item.ID)
	}

	return &Transcript{
		ItemID:   item.ID,
		Name:     item.Name,
		Path:     item.Path,
		MimeType: item.MimeType,
		Size:     item.Size,
		Modified: item.ModifiedAt.UTC(),
		Content:  string(data),
	}, nil
}

// scopedFile fetches a file and checks it lies inside area.
func (g *Gateway) scopedFile(ctx context.Context, s *Session, itemID string, area scope.Area) (*graph.Item, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, apperr.Validation("missing_item_id", "item id is required", nil)
	}

	item, err := s.api.GetItem(ctx, s.Scope.DriveID, itemID)
	if err != nil {
		return nil, graph.ToAppError(err)
	}

	if err := s.Scope.CheckItem(item, area); err != nil {
		g.logger.Warn("item access outside scope",
			slog.String("request_id", apperr.RequestID(ctx)),
			slog.String("user_key", s.Scope.UserKey),
			slog.String("item_id", itemID),
			slog.String("area", area.String()),
		)

		return nil, err
	}

	if item.IsFolder {
		return nil, apperr.Validation("not_a_file", "item is a folder", nil).WithDetail("itemId", itemID)
	}

	return item, nil
}

// RenderParams is a render request.
type RenderParams struct {
	Minutes json.RawMessage
	// FileName overrides the name derived from the minutes. The renderer's
	// extension is appended when missing.
	FileName     string
	Overwrite    bool
	SourceItemID string
}

// Delivered is the result of delivering an output file.
type Delivered struct {
	ItemID      string    `json:"itemId"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RenderMinutes validates and renders minutes, uploads the document to
// the output folder and delivers it. Without overwrite an existing file
// of the same name is a conflict.
func (g *Gateway) RenderMinutes(ctx context.Context, s *Session, p RenderParams) (*Delivered, error) {
	m, err := minutes.Parse(p.Minutes)
	if err != nil {
		return nil, err
	}

	trace := minutes.TraceInfo{UserKey: s.Scope.UserKey}

	if p.SourceItemID != "" {
		src, err := g.scopedFile(ctx, s, p.SourceItemID, scope.Input)
		if err != nil {
			return nil, err
		}

		trace.SourceItemID = src.ID
		trace.SourceName = src.Name
	}

	name, err := g.outputName(p.FileName, m)
	if err != nil {
		return nil, err
	}

	content, err := g.cfg.Renderer.Render(ctx, m, trace)
	if err != nil {
		return nil, apperr.Internal("render_failed", "minutes could not be rendered", err)
	}

	target := path.Join(s.Scope.OutputPrefix, name)

	if !p.Overwrite {
		exists, err := s.api.ItemExistsByPath(ctx, s.Scope.DriveID, target)
		if err != nil {
			return nil, graph.ToAppError(err)
		}

		if exists {
			return nil, alreadyExists(name, nil)
		}
	}

	item, err := s.api.UploadByPath(ctx, s.Scope.DriveID, s.Scope.OutputFolderID, name, content,
		g.cfg.Renderer.MimeType(), p.Overwrite)
	if err != nil {
		if errors.Is(err, graph.ErrConflict) {
			return nil, alreadyExists(name, err)
		}

		return nil, graph.ToAppError(err)
	}

	if item.Path == "" {
		if item, err = s.api.GetItem(ctx, s.Scope.DriveID, item.ID); err != nil {
			return nil, graph.ToAppError(err)
		}
	}

	if err := s.Scope.CheckItem(item, scope.Output); err != nil {
		return nil, err
	}

	g.logger.Info("minutes uploaded",
		slog.String("request_id", apperr.RequestID(ctx)),
		slog.String("user_key", s.Scope.UserKey),
		slog.String("item_id", item.ID),
		slog.Int("bytes", len(content)),
	)

	return g.deliver(ctx, s, item, content, g.cfg.Renderer.MimeType())
}

// DownloadMinutes delivers an existing output file.
func (g *Gateway) DownloadMinutes(ctx context.Context, s *Session, itemID string) (*Delivered, error) {
	item, err := g.scopedFile(ctx, s, itemID, scope.Output)
	if err != nil {
		return nil, err
	}

	data, err := s.api.ReadContent(ctx, item, MaxDownloadSize)
	if err != nil {
		return nil, graph.ToAppError(err)
	}

	return g.deliver(ctx, s, item, data, item.MimeType)
}

func (g *Gateway) deliver(ctx context.Context, s *Session, item *graph.Item, content []byte, mimeType string) (*Delivered, error) {
	h, err := g.cfg.Store.Put(ctx, delivery.PutRequest{
		FileName: item.Name,
		Content:  content,
		MimeType: mimeType,
		Owner:    s.Principal.Subject(),
		TTL:      g.cfg.ArtifactTTL,
	})
	if err != nil {
		return nil, err
	}

	return &Delivered{
		ItemID:      item.ID,
		Name:        item.Name,
		Path:        item.Path,
		Size:        int64(len(content)),
		DownloadURL: h.URL,
		ExpiresAt:   h.ExpiresAt.UTC(),
	}, nil
}

// outputName picks the output file name and appends the renderer's
// extension when missing. Caller-supplied names must be a single plain
// path segment.
func (g *Gateway) outputName(requested string, m *minutes.Minutes) (string, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = m.FileName()
	}

	if name == "." || name == ".." || strings.ContainsAny(name, invalidNameChars) ||
		delivery.SanitizeFileName(name) != name {
		return "", apperr.Validation("invalid_file_name", "file name must be a plain name without path separators", nil).
			WithDetail("fileName", requested)
	}

	ext := g.cfg.Renderer.Extension()
	if !strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name += ext
	}

	return name, nil
}

func alreadyExists(name string, cause error) error {
	return apperr.Conflict("already_exists", "an output file with this name already exists", cause).
		WithDetail("fileName", name)
}
