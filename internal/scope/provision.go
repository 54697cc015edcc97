package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/driveid"
	"github.com/tonimelisma/minutes-gateway/internal/graph"
)

// Folder names under a user's folder.
const (
	InputFolderName  = "input"
	OutputFolderName = "output"

	// DefaultBaseFolder is the per-user mode base path under the drive root.
	DefaultBaseFolder = "MinutesGateway"

	// rootItemID addresses the drive root as a parent.
	rootItemID = "root"
)

// Folders is the slice of the document API the provisioners need.
// *graph.Client satisfies it.
type Folders interface {
	GetItem(ctx context.Context, driveID driveid.ID, itemID string) (*graph.Item, error)
	GetItemByPath(ctx context.Context, driveID driveid.ID, remotePath string) (*graph.Item, error)
	CreateFolder(ctx context.Context, driveID driveid.ID, parentID, name string) (*graph.Item, error)
	SiteDrive(ctx context.Context, siteID string, driveID driveid.ID) (*graph.Drive, error)
}

// Provisioner resolves the scope for a user key. api carries the caller's
// delegated credential.
type Provisioner interface {
	Resolve(ctx context.Context, api Folders, userKey string) (*Scope, error)
}

// FixedConfig names the operator-configured folders of fixed mode.
type FixedConfig struct {
	SiteID         string
	DriveID        driveid.ID
	InputFolderID  string
	OutputFolderID string
}

// Fixed serves one scope, loaded and validated once at startup.
type Fixed struct {
	scope *Scope
}

// LoadFixed validates the configured folders with api (normally holding
// the service's own app token) and computes their paths. Any failure is
// fatal to startup.
func LoadFixed(ctx context.Context, api Folders, cfg FixedConfig, logger *slog.Logger) (*Fixed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.DriveID.IsZero() || cfg.InputFolderID == "" || cfg.OutputFolderID == "" {
		return nil, apperr.Internal("scope_misconfigured", "fixed scope needs a drive and both folder IDs", nil)
	}

	if cfg.SiteID != "" {
		if _, err := api.SiteDrive(ctx, cfg.SiteID, cfg.DriveID); err != nil {
			return nil, apperr.Internal("scope_misconfigured", "drive does not belong to the configured site", err)
		}
	}

	input, err := loadFixedFolder(ctx, api, cfg.DriveID, cfg.InputFolderID, "input")
	if err != nil {
		return nil, err
	}

	output, err := loadFixedFolder(ctx, api, cfg.DriveID, cfg.OutputFolderID, "output")
	if err != nil {
		return nil, err
	}

	base := commonAncestor(input.Path, output.Path)

	s := &Scope{
		SiteID:         cfg.SiteID,
		DriveID:        cfg.DriveID,
		InputFolderID:  input.ID,
		OutputFolderID: output.ID,
		BasePrefix:     base,
		UserPrefix:     base,
		InputPrefix:    input.Path,
		OutputPrefix:   output.Path,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	logger.Info("fixed scope loaded",
		slog.String("drive_id", cfg.DriveID.String()),
		slog.String("input", s.InputPrefix),
		slog.String("output", s.OutputPrefix),
	)

	return &Fixed{scope: s}, nil
}

func loadFixedFolder(ctx context.Context, api Folders, driveID driveid.ID, id, role string) (*graph.Item, error) {
	item, err := api.GetItem(ctx, driveID, id)
	if err != nil {
		return nil, apperr.Internal("scope_misconfigured",
			fmt.Sprintf("configured %s folder cannot be loaded", role), err)
	}

	if !item.IsFolder {
		return nil, apperr.Internal("scope_misconfigured",
			fmt.Sprintf("configured %s folder is not a folder", role), nil)
	}

	if !item.IsRoot && !item.DriveID.Equal(driveID) {
		return nil, apperr.Internal("scope_misconfigured",
			fmt.Sprintf("configured %s folder belongs to another drive", role), nil)
	}

	if item.Path == "" {
		return nil, apperr.Internal("scope_misconfigured",
			fmt.Sprintf("configured %s folder has no path", role), nil)
	}

	return item, nil
}

// commonAncestor returns the deepest path containing both a and b.
func commonAncestor(a, b string) string {
	as := strings.Split(strings.Trim(a, "/"), "/")
	bs := strings.Split(strings.Trim(b, "/"), "/")

	var common []string

	for i := 0; i < len(as) && i < len(bs) && as[i] == bs[i] && as[i] != ""; i++ {
		common = append(common, as[i])
	}

	return "/" + strings.Join(common, "/")
}

// Resolve implements Provisioner. The scope is the same for every caller;
// only the user key differs.
func (f *Fixed) Resolve(_ context.Context, _ Folders, userKey string) (*Scope, error) {
	return f.scope.clone(userKey), nil
}

// PerUser provisions <base>/<userKey>/{input,output} on demand.
type PerUser struct {
	siteID     string
	driveID    driveid.ID
	baseFolder string
	logger     *slog.Logger
}

// NewPerUser creates a per-user provisioner. baseFolder is a path under
// the drive root; empty means DefaultBaseFolder.
func NewPerUser(siteID string, driveID driveid.ID, baseFolder string, logger *slog.Logger) (*PerUser, error) {
	if driveID.IsZero() {
		return nil, apperr.Internal("scope_misconfigured", "per-user scope needs a drive", nil)
	}

	base := strings.Trim(baseFolder, "/")
	if base == "" {
		base = DefaultBaseFolder
	}

	if path.Clean(base) != base || strings.HasPrefix(base, "..") {
		return nil, apperr.Internal("scope_misconfigured", "base folder must be a clean relative path", nil).
			WithDetail("baseFolder", baseFolder)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PerUser{siteID: siteID, driveID: driveID, baseFolder: base, logger: logger}, nil
}

// Resolve implements Provisioner. Concurrent calls for the same user
// converge on one folder set: an existing folder is reused and a creation
// conflict is followed by a re-fetch.
func (p *PerUser) Resolve(ctx context.Context, api Folders, userKey string) (*Scope, error) {
	if userKey == "" || strings.ContainsAny(userKey, "/\\") || userKey == "." || userKey == ".." {
		return nil, apperr.Internal("scope_invalid", "user key is not a safe folder name", nil)
	}

	userPath := p.baseFolder + "/" + userKey
	inputPath := userPath + "/" + InputFolderName
	outputPath := userPath + "/" + OutputFolderName

	// Fast path: both working folders already exist.
	input, inErr := p.existingFolder(ctx, api, inputPath)
	output, outErr := p.existingFolder(ctx, api, outputPath)

	if inErr != nil || outErr != nil || input == nil || output == nil {
		if err := firstHardError(inErr, outErr); err != nil {
			return nil, err
		}

		var err error

		input, output, err = p.provision(ctx, api, userKey)
		if err != nil {
			return nil, err
		}
	}

	// Prefixes come from live metadata so they carry the drive's own
	// casing; the drive matches paths case-insensitively.
	inputPrefix := pathOr(input.Path, inputPath)
	userPrefix := path.Dir(inputPrefix)

	s := &Scope{
		SiteID:         p.siteID,
		DriveID:        p.driveID,
		InputFolderID:  input.ID,
		OutputFolderID: output.ID,
		BasePrefix:     path.Dir(userPrefix),
		UserPrefix:     userPrefix,
		InputPrefix:    inputPrefix,
		OutputPrefix:   pathOr(output.Path, outputPath),
		UserKey:        userKey,
	}

	err := s.Validate()
	if err == nil && !strings.EqualFold(userPrefix, cleanPath(userPath)) {
		err = apperr.Internal("scope_invalid", "user folder resolved to an unexpected path", nil)
	}

	if err != nil {
		p.logger.Error("provisioned scope failed validation",
			slog.String("user_key", userKey),
			slog.String("input", s.InputPrefix),
			slog.String("output", s.OutputPrefix),
		)

		return nil, err
	}

	return s, nil
}

// existingFolder returns the folder at remotePath, or nil when absent.
func (p *PerUser) existingFolder(ctx context.Context, api Folders, remotePath string) (*graph.Item, error) {
	item, err := api.GetItemByPath(ctx, p.driveID, remotePath)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, graph.ToAppError(err)
	}

	if !item.IsFolder {
		return nil, notAFolder(remotePath)
	}

	return item, nil
}

func firstHardError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// provision walks base, user, input and output, creating what is missing.
func (p *PerUser) provision(ctx context.Context, api Folders, userKey string) (input, output *graph.Item, err error) {
	segments := append(strings.Split(p.baseFolder, "/"), userKey)

	parentID := rootItemID
	built := ""

	for _, seg := range segments {
		built = strings.TrimPrefix(built+"/"+seg, "/")

		folder, ensureErr := p.ensureFolder(ctx, api, parentID, built, seg)
		if ensureErr != nil {
			return nil, nil, ensureErr
		}

		parentID = folder.ID
	}

	input, err = p.ensureFolder(ctx, api, parentID, built+"/"+InputFolderName, InputFolderName)
	if err != nil {
		return nil, nil, err
	}

	output, err = p.ensureFolder(ctx, api, parentID, built+"/"+OutputFolderName, OutputFolderName)
	if err != nil {
		return nil, nil, err
	}

	p.logger.Info("user folders provisioned",
		slog.String("user_key", userKey),
		slog.String("drive_id", p.driveID.String()),
	)

	return input, output, nil
}

// ensureFolder gets or creates name under parentID. A conflict on create
// means a concurrent creator won; the winner's folder is used.
func (p *PerUser) ensureFolder(
	ctx context.Context, api Folders, parentID, remotePath, name string,
) (*graph.Item, error) {
	item, err := p.existingFolder(ctx, api, remotePath)
	if err != nil || item != nil {
		return item, err
	}

	created, createErr := api.CreateFolder(ctx, p.driveID, parentID, name)
	if createErr == nil {
		if !created.IsFolder {
			return nil, notAFolder(remotePath)
		}

		return created, nil
	}

	if !errors.Is(createErr, graph.ErrConflict) {
		return nil, graph.ToAppError(createErr)
	}

	p.logger.Debug("folder created concurrently, re-fetching", slog.String("path", remotePath))

	item, err = api.GetItemByPath(ctx, p.driveID, remotePath)
	if err != nil {
		return nil, graph.ToAppError(err)
	}

	if !item.IsFolder {
		return nil, notAFolder(remotePath)
	}

	return item, nil
}

func notAFolder(remotePath string) error {
	return apperr.Conflict("not_a_folder", "a non-folder item occupies a required folder path", graph.ErrNotAFolder).
		WithDetail("path", cleanPath(remotePath))
}

func pathOr(p, fallback string) string {
	if p != "" {
		return p
	}

	return cleanPath(fallback)
}
