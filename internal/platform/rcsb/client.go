// Package rcsb downloads structure files from the RCSB Protein Data Bank
// (or any mirror exposing the same /<id>.pdb download layout).
package rcsb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/phrazzld/plip-api/internal/config"
)

var (
	// ErrInvalidPDBID is returned for identifiers that are not four-character PDB codes.
	ErrInvalidPDBID = errors.New("invalid PDB ID")

	// ErrStructureNotFound is returned when the repository has no entry for the ID.
	ErrStructureNotFound = errors.New("structure not found")

	// ErrEmptyStructure is returned when the repository answers with an empty file.
	ErrEmptyStructure = errors.New("empty structure file")
)

// maxStructureBytes caps the size of a downloaded structure.
const maxStructureBytes = 256 << 20

var pdbIDRe = regexp.MustCompile(`^[0-9][A-Za-z0-9]{3}$`)

// Client fetches PDB-format structure files over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Client using a pooled HTTP client with the configured timeout.
func NewClient(cfg config.FetchConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logger.With("component", "rcsb_client"),
	}
}

// NormalizeID validates a PDB identifier and returns it in lower case.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !pdbIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPDBID, id)
	}
	return strings.ToLower(id), nil
}

// FetchStructure downloads the PDB file for id.
func (c *Client) FetchStructure(ctx context.Context, id string) ([]byte, error) {
	pdbID, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s.pdb", c.baseURL, pdbID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", pdbID, err)
	}

	c.logger.DebugContext(ctx, "fetching structure", "pdb_id", pdbID, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch structure %s: %w", pdbID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrStructureNotFound, pdbID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch structure %s: unexpected status %d", pdbID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStructureBytes))
	if err != nil {
		return nil, fmt.Errorf("read structure %s: %w", pdbID, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyStructure, pdbID)
	}

	c.logger.InfoContext(ctx, "structure fetched", "pdb_id", pdbID, "bytes", len(data))
	return data, nil
}
