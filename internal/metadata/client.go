// Package metadata is the generic request/response client for the remote
// engine's metadata API, plus a typed view of exported metadata documents.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/metasync/metasync/internal/transport"
)

const Path = "/v1/metadata"

// Request is the {type, args} envelope of a metadata operation.
type Request struct {
	Type    string `json:"type"`
	Args    any    `json:"args"`
	Version int    `json:"version,omitempty"`
}

// Response carries either the raw success body or a logical failure.
type Response struct {
	Raw json.RawMessage
	Err *transport.ServiceError
}

// OK reports whether the operation succeeded.
func (r *Response) OK() bool {
	return r != nil && r.Err == nil
}

// Decode unmarshals the success body into out.
func (r *Response) Decode(out any) error {
	if r.Err != nil {
		return fmt.Errorf("decoding failed response: %s", r.Err)
	}
	if len(r.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.Raw, out)
}

// Runner issues metadata operations. Managers depend on this interface.
type Runner interface {
	V1(ctx context.Context, req Request) (*Response, error)
	Bulk(ctx context.Context, reqs ...Request) (*Response, error)
}

// Poster is the part of the transport the client needs.
type Poster interface {
	Post(ctx context.Context, path string, body, out any) (*transport.ServiceError, error)
}

// Client implements Runner over the transport.
type Client struct {
	client Poster
	logger *slog.Logger
}

// New creates a metadata Client.
func New(client Poster, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{client: client, logger: logger}
}

// V1 sends a single metadata operation. Only transport failures are
// returned as errors.
func (c *Client) V1(ctx context.Context, req Request) (*Response, error) {
	if req.Args == nil {
		req.Args = struct{}{}
	}

	var raw json.RawMessage
	svc, err := c.client.Post(ctx, Path, req, &raw)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", req.Type, err)
	}
	if svc != nil {
		c.logger.Debug("metadata rejected", "type", req.Type, "code", svc.Code, "error", svc.Message)
		return &Response{Err: svc}, nil
	}
	return &Response{Raw: raw}, nil
}

// Bulk sends reqs as one bulk operation; the engine applies them in order
// and commits the resulting metadata only if every step succeeds.
func (c *Client) Bulk(ctx context.Context, reqs ...Request) (*Response, error) {
	for i := range reqs {
		if reqs[i].Args == nil {
			reqs[i].Args = struct{}{}
		}
	}
	return c.V1(ctx, Request{Type: OpBulk, Args: reqs})
}

// ExportError is returned by Export when the service rejects the export.
// Callers that report outcomes unwrap Err instead of failing.
type ExportError struct {
	Err *transport.ServiceError
}

func (e *ExportError) Error() string {
	return "exporting metadata: " + e.Err.String()
}

// Export fetches the current metadata document. A rejected export is
// returned as an *ExportError.
func Export(ctx context.Context, r Runner) (*Document, error) {
	resp, err := r.V1(ctx, Request{Type: OpExportMetadata})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, &ExportError{Err: resp.Err}
	}
	doc := &Document{}
	if err := resp.Decode(doc); err != nil {
		return nil, fmt.Errorf("parsing exported metadata: %w", err)
	}
	return doc, nil
}
