// Package registry adapts the Spanish Catastro services to the pipeline's
// fetch contract: parcel lookup, INSPIRE GML geometry and document
// downloads (descriptive PDF, WMS plan, PNOA orthophoto).
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Config captures the endpoints and limits of the registry adapter.
type Config struct {
	// BaseURL is the OVC host serving the callejero, INSPIRE WFS and WMS
	// services.
	BaseURL string `mapstructure:"base_url"`
	// SedeURL is the electronic-office host serving the official
	// descriptive PDF.
	SedeURL string `mapstructure:"sede_url"`
	// OrthophotoURL is the IGN PNOA WMS endpoint.
	OrthophotoURL string `mapstructure:"orthophoto_url"`
	UserAgent     string `mapstructure:"user_agent"`
	// MapSizePx is the width and height requested from WMS services.
	MapSizePx int `mapstructure:"map_size_px"`
	// BufferMeters is the half-width of the bounding box drawn around the
	// parcel centroid for map requests.
	BufferMeters float64 `mapstructure:"buffer_meters"`
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://ovc.catastro.meh.es"
	}
	if c.SedeURL == "" {
		c.SedeURL = "https://www1.sedecatastro.gob.es"
	}
	if c.OrthophotoURL == "" {
		c.OrthophotoURL = "https://www.ign.es/wms-inspire/pnoa-ma"
	}
	if c.MapSizePx <= 0 {
		c.MapSizePx = 1600
	}
	if c.BufferMeters <= 0 {
		c.BufferMeters = 200
	}
}

// Client implements report.RegistryClient over HTTP. Each method performs
// a single attempt; retry and per-attempt timeouts belong to the caller's
// retry policy so behavior stays uniform across sources.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New constructs a Client. The http.Client carries no timeout of its own;
// callers bound every attempt through the context.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// FetchParcel resolves a normalized cadastral reference into a payload
// with centroid, boundary ring and raw GML. Coordinates are resolved
// through a fallback ladder: REST JSON, then the parcel GML positions,
// then the legacy XML locator. The building GML is fetched
// opportunistically; its absence is not an error.
func (c *Client) FetchParcel(ctx context.Context, reference string) (report.RegistryPayload, error) {
	delegation, municipality := report.ReferenceCodes(reference)
	payload := report.RegistryPayload{
		Reference:        reference,
		DelegationCode:   delegation,
		MunicipalityCode: municipality,
	}

	parcelGML, gmlErr := c.fetchFeatureGML(ctx, reference, "GetParcel")
	if gmlErr == nil {
		payload.ParcelGML = parcelGML
		payload.Boundary = boundaryFromGML(parcelGML)
	} else {
		c.logger.Warn("parcel GML unavailable",
			zap.String("reference", reference), zap.Error(gmlErr))
	}

	centroid, err := c.fetchCentroidJSON(ctx, reference)
	if err != nil {
		c.logger.Debug("centroid JSON lookup failed, trying GML positions",
			zap.String("reference", reference), zap.Error(err))
		centroid, err = centroidFromGML(payload.ParcelGML)
	}
	if err != nil {
		centroid, err = c.fetchCentroidLegacyXML(ctx, reference)
	}
	if err != nil {
		return report.RegistryPayload{}, fmt.Errorf("resolve coordinates for %s: %w", reference, err)
	}
	payload.Centroid = centroid

	if building, err := c.fetchFeatureGML(ctx, reference, "GetBuilding"); err == nil {
		payload.BuildingGML = building
	}

	return payload, nil
}

// fetchFeatureGML runs an INSPIRE WFS stored query and returns the raw
// GML bytes. The service answers HTTP 200 with an XML ExceptionReport
// when the feature does not exist.
func (c *Client) fetchFeatureGML(ctx context.Context, reference, storedQuery string) ([]byte, error) {
	params := url.Values{
		"service":        {"wfs"},
		"version":        {"2.0.0"},
		"request":        {"GetFeature"},
		"STOREDQUERY_ID": {storedQuery},
		"refcat":         {reference},
		"srsname":        {"EPSG:4326"},
	}
	body, err := c.get(ctx, c.cfg.BaseURL+"/INSPIRE/wfsCP.aspx?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if isGMLException(body) {
		return nil, fmt.Errorf("stored query %s for %s: %w", storedQuery, reference, report.ErrNotFound)
	}
	return body, nil
}

// get issues one GET bounded by the caller's context and returns the body.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry responded %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry response: %w", err)
	}
	return body, nil
}

// attemptTimeout is a guard for direct calls made outside the
// orchestrator's per-attempt contexts.
const attemptTimeout = 30 * time.Second

func withAttemptTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, attemptTimeout)
}
