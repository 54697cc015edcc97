package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/minutes-gateway/internal/driveid"
)

// driveResponse mirrors the Graph API drive JSON response.
// Unexported: callers use Drive via toDrive() normalization.
type driveResponse struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	DriveType     string         `json:"driveType"`
	WebURL        string         `json:"webUrl"`
	SharePointIDs *sharePointIDs `json:"sharePointIds"`
}

type sharePointIDs struct {
	SiteID string `json:"siteId"`
}

// toDrive normalizes a Graph API drive response into our Drive type.
func (d *driveResponse) toDrive() Drive {
	drive := Drive{
		ID:        driveid.New(d.ID),
		Name:      d.Name,
		DriveType: d.DriveType,
		WebURL:    d.WebURL,
	}

	if d.SharePointIDs != nil {
		drive.SiteID = d.SharePointIDs.SiteID
	}

	return drive
}

func (c *Client) fetchDrive(ctx context.Context, apiPath string) (*Drive, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding drive response: %w", err)
	}

	drive := dr.toDrive()

	c.logger.Debug("fetched drive",
		slog.String("id", drive.ID.String()),
		slog.String("name", drive.Name),
		slog.String("drive_type", drive.DriveType),
	)

	return &drive, nil
}

// Drive returns a specific drive by ID.
func (c *Client) Drive(ctx context.Context, driveID driveid.ID) (*Drive, error) {
	c.logger.Info("fetching drive",
		slog.String("drive_id", driveID.String()),
	)

	return c.fetchDrive(ctx, fmt.Sprintf("/drives/%s", escapeID(driveID.String())))
}

// SiteDrive returns a drive addressed through its site. A drive that does
// not belong to the site fails with ErrNotFound, which is how membership
// is proven.
func (c *Client) SiteDrive(ctx context.Context, siteID string, driveID driveid.ID) (*Drive, error) {
	c.logger.Info("fetching site drive",
		slog.String("site_id", siteID),
		slog.String("drive_id", driveID.String()),
	)

	drive, err := c.fetchDrive(ctx, fmt.Sprintf("/sites/%s/drives/%s", escapeID(siteID), escapeID(driveID.String())))
	if err != nil {
		return nil, err
	}

	if !drive.ID.Equal(driveID) {
		return nil, fmt.Errorf("graph: site %s returned drive %s for %s: %w", siteID, drive.ID, driveID, ErrNotFound)
	}

	if drive.SiteID == "" {
		drive.SiteID = siteID
	}

	return drive, nil
}
