package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Minimum plausible byte sizes for WMS imagery. The services answer HTTP
// 200 with tiny XML exception documents for empty areas.
const (
	minPlanBytes  = 1000
	minOrthoBytes = 5000
)

// FetchDocument streams one registry document for the parcel. The center
// coordinate positions the map window for WMS kinds and is ignored for
// the descriptive PDF.
func (c *Client) FetchDocument(ctx context.Context, reference string, kind report.DocumentKind, center report.Coordinate) ([]byte, error) {
	ctx, cancel := withAttemptTimeout(ctx)
	defer cancel()

	switch kind {
	case report.DocumentDescriptive:
		return c.fetchDescriptivePDF(ctx, reference)
	case report.DocumentPlan:
		return c.fetchPlan(ctx, center)
	case report.DocumentOrthophoto:
		return c.fetchOrthophoto(ctx, center)
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
}

// fetchDescriptivePDF downloads the official descriptive record from the
// electronic office.
func (c *Client) fetchDescriptivePDF(ctx context.Context, reference string) ([]byte, error) {
	delegation, municipality := report.ReferenceCodes(reference)
	params := url.Values{
		"del":    {delegation},
		"mun":    {municipality},
		"refcat": {reference},
	}
	body, err := c.get(ctx, c.cfg.SedeURL+"/CYCBienInmueble/SECImprimirCroquisYDatos.aspx?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		return nil, fmt.Errorf("descriptive document is not a PDF")
	}
	return body, nil
}

// fetchPlan requests the cadastral plan layer from the registry WMS
// (protocol 1.1.1, lon-first axis order).
func (c *Client) fetchPlan(ctx context.Context, center report.Coordinate) ([]byte, error) {
	bbox := boundingBox(center, c.cfg.BufferMeters)
	size := strconv.Itoa(c.cfg.MapSizePx)
	params := url.Values{
		"SERVICE":     {"WMS"},
		"VERSION":     {"1.1.1"},
		"REQUEST":     {"GetMap"},
		"LAYERS":      {"Catastro"},
		"STYLES":      {""},
		"SRS":         {"EPSG:4326"},
		"BBOX":        {bbox.String()},
		"WIDTH":       {size},
		"HEIGHT":      {size},
		"FORMAT":      {"image/png"},
		"TRANSPARENT": {"FALSE"},
	}
	body, err := c.get(ctx, c.cfg.BaseURL+"/Cartografia/WMS/ServidorWMS.aspx?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if err := checkImage(body, minPlanBytes); err != nil {
		return nil, fmt.Errorf("cadastral plan: %w", err)
	}
	return body, nil
}

// fetchOrthophoto requests PNOA imagery (WMS 1.3.0, lat-first axis
// order), falling back to the registry's own orthophoto layer.
func (c *Client) fetchOrthophoto(ctx context.Context, center report.Coordinate) ([]byte, error) {
	bbox := boundingBox(center, c.cfg.BufferMeters)
	size := strconv.Itoa(c.cfg.MapSizePx)

	params := url.Values{
		"SERVICE": {"WMS"},
		"VERSION": {"1.3.0"},
		"REQUEST": {"GetMap"},
		"LAYERS":  {"OI.OrthoimageCoverage"},
		"STYLES":  {""},
		"CRS":     {"EPSG:4326"},
		"BBOX":    {bbox.LatFirst()},
		"WIDTH":   {size},
		"HEIGHT":  {size},
		"FORMAT":  {"image/jpeg"},
	}
	body, err := c.get(ctx, c.cfg.OrthophotoURL+"?"+params.Encode())
	if err == nil {
		if imgErr := checkImage(body, minOrthoBytes); imgErr == nil {
			return body, nil
		}
	}

	fallback := url.Values{
		"SERVICE":     {"WMS"},
		"VERSION":     {"1.1.1"},
		"REQUEST":     {"GetMap"},
		"LAYERS":      {"ORTOFOTOS"},
		"STYLES":      {""},
		"SRS":         {"EPSG:4326"},
		"BBOX":        {bbox.String()},
		"WIDTH":       {size},
		"HEIGHT":      {size},
		"FORMAT":      {"image/jpeg"},
		"TRANSPARENT": {"FALSE"},
	}
	body, err = c.get(ctx, c.cfg.BaseURL+"/Cartografia/WMS/ServidorWMS.aspx?"+fallback.Encode())
	if err != nil {
		return nil, err
	}
	if err := checkImage(body, minOrthoBytes); err != nil {
		return nil, fmt.Errorf("orthophoto: %w", err)
	}
	return body, nil
}

// checkImage rejects bodies that are not plausible PNG/JPEG imagery.
func checkImage(body []byte, minBytes int) error {
	if len(body) < minBytes {
		return fmt.Errorf("response too small (%d bytes): %w", len(body), report.ErrNotFound)
	}
	head := body
	if len(head) > 100 {
		head = head[:100]
	}
	if !bytes.Contains(head, []byte("PNG")) && !bytes.Contains(head, []byte("JFIF")) && !bytes.HasPrefix(body, []byte{0xFF, 0xD8}) {
		return fmt.Errorf("response is not imagery: %w", report.ErrNotFound)
	}
	return nil
}
