package registry

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/geoinforme/parcelreport/internal/report"
)

const gml32Namespace = "http://www.opengis.net/gml/3.2"

// isGMLException detects the ExceptionReport documents the INSPIRE
// services return with HTTP 200 when a feature is missing.
func isGMLException(body []byte) bool {
	return bytes.Contains(body, []byte("ExceptionReport")) || bytes.Contains(body, []byte("<Exception"))
}

// boundaryFromGML extracts the parcel ring from gml:posList elements,
// falling back to individual gml:pos points. Returns nil when the
// document carries no usable geometry.
func boundaryFromGML(gml []byte) []report.Coordinate {
	if len(gml) == 0 {
		return nil
	}
	pairs := collectPositions(gml, "posList")
	if len(pairs) == 0 {
		pairs = collectPositions(gml, "pos")
	}
	if len(pairs) == 0 {
		return nil
	}
	ring := make([]report.Coordinate, 0, len(pairs))
	for _, p := range pairs {
		ring = append(ring, orientCoordinate(p[0], p[1]))
	}
	return ring
}

// centroidFromGML averages the ring positions, used as the second rung of
// the coordinate ladder when the REST service misses.
func centroidFromGML(gml []byte) (report.Coordinate, error) {
	ring := boundaryFromGML(gml)
	if len(ring) == 0 {
		return report.Coordinate{}, fmt.Errorf("parcel GML carries no positions: %w", report.ErrNotFound)
	}
	var sumLon, sumLat float64
	for _, c := range ring {
		sumLon += c.Lon
		sumLat += c.Lat
	}
	n := float64(len(ring))
	return report.Coordinate{Lon: sumLon / n, Lat: sumLat / n}, nil
}

// collectPositions gathers coordinate pairs from every matching GML
// element in document order.
func collectPositions(gml []byte, element string) [][2]float64 {
	dec := xml.NewDecoder(newByteReader(gml))
	var pairs [][2]float64
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != element || start.Name.Space != gml32Namespace {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			continue
		}
		fields := strings.Fields(text)
		for i := 0; i+1 < len(fields); i += 2 {
			v1, ok1 := parseFloat(fields[i])
			v2, ok2 := parseFloat(fields[i+1])
			if ok1 && ok2 {
				pairs = append(pairs, [2]float64{v1, v2})
			}
		}
	}
	return pairs
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
