package registry

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/geoinforme/parcelreport/internal/report"
)

// The registry emits positions in inconsistent axis order across its
// services. Points inside the Iberian envelope disambiguate themselves.
const (
	iberianLatMin = 36
	iberianLatMax = 44
	iberianLonMin = -10
	iberianLonMax = 5
)

// orientCoordinate maps a raw (v1, v2) pair to (lon, lat) using the
// Iberian envelope heuristic. Pairs outside the envelope are assumed to
// be (lat, lon), matching the WFS default.
func orientCoordinate(v1, v2 float64) report.Coordinate {
	if v1 >= iberianLatMin && v1 <= iberianLatMax && v2 >= iberianLonMin && v2 <= iberianLonMax {
		return report.Coordinate{Lon: v2, Lat: v1}
	}
	if v2 >= iberianLatMin && v2 <= iberianLatMax && v1 >= iberianLonMin && v1 <= iberianLonMax {
		return report.Coordinate{Lon: v1, Lat: v2}
	}
	return report.Coordinate{Lon: v2, Lat: v1}
}

// fetchCentroidJSON queries the REST coordinate service. Response shape:
// {"geo": {"xcen": <lon>, "ycen": <lat>}}.
func (c *Client) fetchCentroidJSON(ctx context.Context, reference string) (report.Coordinate, error) {
	rawURL := fmt.Sprintf(
		"%s/OVCServWeb/OVCWcfCallejero/COVCCallejero.svc/json/Geo_RCToWGS84/%s",
		c.cfg.BaseURL, url.PathEscape(reference),
	)
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return report.Coordinate{}, err
	}

	var parsed struct {
		Geo struct {
			XCen *float64 `json:"xcen"`
			YCen *float64 `json:"ycen"`
		} `json:"geo"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return report.Coordinate{}, fmt.Errorf("decode coordinate response: %w", err)
	}
	if parsed.Geo.XCen == nil || parsed.Geo.YCen == nil {
		return report.Coordinate{}, fmt.Errorf("coordinate service returned no geo block: %w", report.ErrNotFound)
	}
	return report.Coordinate{Lon: *parsed.Geo.XCen, Lat: *parsed.Geo.YCen}, nil
}

// fetchCentroidLegacyXML queries the legacy SOAP-era locator as the last
// rung of the coordinate ladder.
func (c *Client) fetchCentroidLegacyXML(ctx context.Context, reference string) (report.Coordinate, error) {
	params := url.Values{
		"SRS": {"EPSG:4326"},
		"RC":  {reference},
	}
	rawURL := c.cfg.BaseURL + "/ovcservweb/ovcswlocalizacionrc/ovccoordenadas.asmx/Consulta_RCCOOR?" + params.Encode()
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return report.Coordinate{}, err
	}

	coord, err := parseLegacyCentroid(body)
	if err != nil {
		return report.Coordinate{}, err
	}
	return coord, nil
}

// parseLegacyCentroid walks the legacy XML for the first xcen/ycen pair.
// A token walk avoids committing to the exact envelope nesting, which has
// drifted across service revisions.
func parseLegacyCentroid(body []byte) (report.Coordinate, error) {
	dec := xml.NewDecoder(newByteReader(body))
	var lon, lat *float64
	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			switch current {
			case "xcen":
				if v, ok := parseFloat(string(t)); ok {
					lon = &v
				}
			case "ycen":
				if v, ok := parseFloat(string(t)); ok {
					lat = &v
				}
			}
		case xml.EndElement:
			current = ""
		}
		if lon != nil && lat != nil {
			return report.Coordinate{Lon: *lon, Lat: *lat}, nil
		}
	}
	return report.Coordinate{}, fmt.Errorf("legacy locator returned no coordinates: %w", report.ErrNotFound)
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// String renders the lon-first order used by WMS 1.1.1 SRS requests.
func (b BBox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// LatFirst renders the axis order mandated by WMS 1.3.0 CRS:84 requests.
func (b BBox) LatFirst() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// boundingBox buffers the centroid by the configured distance. Rough
// conversion: one degree of longitude ~85km, of latitude ~111km at
// Iberian latitudes.
func boundingBox(center report.Coordinate, bufferMeters float64) BBox {
	bufferLon := bufferMeters / 85000
	bufferLat := bufferMeters / 111000
	return BBox{
		MinLon: center.Lon - bufferLon,
		MinLat: center.Lat - bufferLat,
		MaxLon: center.Lon + bufferLon,
		MaxLat: center.Lat + bufferLat,
	}
}
