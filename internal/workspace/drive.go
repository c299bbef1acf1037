package workspace

import (
	"context"
	"fmt"
	"time"

	drive "google.golang.org/api/drive/v3"
)

// File is a Drive file's metadata.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	ModifiedTime time.Time `json:"modifiedTime,omitempty"`
	WebViewLink  string    `json:"webViewLink,omitempty"`
	Shared       bool      `json:"shared,omitempty"`
}

// ShareOptions describes a permission to grant.
type ShareOptions struct {
	// Type is one of user, group, domain or anyone.
	Type string
	// Role is one of reader, commenter or writer.
	Role         string
	EmailAddress string
	Domain       string
	Notify       bool
	Message      string
}

// Permission is a granted Drive permission.
type Permission struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Domain       string `json:"domain,omitempty"`
}

// ListFiles lists non-trashed files, optionally filtered by a Drive query.
func (c *Client) ListFiles(ctx context.Context, query string, limit int64) ([]File, error) {
	q := "trashed=false"
	if query != "" {
		q = "(" + query + ") and trashed=false"
	}

	call := c.drive.Files.List().
		Q(q).
		Fields("files(id, name, mimeType, modifiedTime, webViewLink, shared)").
		Context(ctx)
	if limit > 0 {
		call = call.PageSize(limit)
	}

	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	out := make([]File, 0, len(list.Files))
	for _, f := range list.Files {
		file := File{
			ID:          f.Id,
			Name:        f.Name,
			MimeType:    f.MimeType,
			WebViewLink: f.WebViewLink,
			Shared:      f.Shared,
		}
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			file.ModifiedTime = t
		}
		out = append(out, file)
	}
	return out, nil
}

// ShareFile grants a permission on a file.
func (c *Client) ShareFile(ctx context.Context, fileID string, opts ShareOptions) (*Permission, error) {
	if fileID == "" {
		return nil, fmt.Errorf("file id is required")
	}
	if opts.Type == "" {
		return nil, fmt.Errorf("permission type is required")
	}
	if opts.Role == "" {
		return nil, fmt.Errorf("permission role is required")
	}

	call := c.drive.Permissions.Create(fileID, &drive.Permission{
		Type:         opts.Type,
		Role:         opts.Role,
		EmailAddress: opts.EmailAddress,
		Domain:       opts.Domain,
	}).Fields("id, type, role, emailAddress, domain").Context(ctx)
	call = call.SendNotificationEmail(opts.Notify)
	if opts.Notify && opts.Message != "" {
		call = call.EmailMessage(opts.Message)
	}

	p, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to share file %s: %w", fileID, err)
	}
	return &Permission{
		ID:           p.Id,
		Type:         p.Type,
		Role:         p.Role,
		EmailAddress: p.EmailAddress,
		Domain:       p.Domain,
	}, nil
}
