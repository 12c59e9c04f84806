package generate

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

const kmlNamespace = "http://www.opengis.net/kml/2.2"

type kmlDocument struct {
	XMLName   xml.Name       `xml:"kml"`
	Namespace string         `xml:"xmlns,attr"`
	Document  kmlDocumentTag `xml:"Document"`
}

type kmlDocumentTag struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name    string      `xml:"name"`
	Point   *kmlPoint   `xml:"Point,omitempty"`
	Polygon *kmlPolygon `xml:"Polygon,omitempty"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	OuterRing kmlOuterRing `xml:"outerBoundaryIs"`
}

type kmlOuterRing struct {
	Ring kmlLinearRing `xml:"LinearRing"`
}

type kmlLinearRing struct {
	Coordinates string `xml:"coordinates"`
}

// KMLGenerator emits a placemark document for the parcel: always the
// centroid point, plus the boundary polygon when the registry returned a
// usable ring.
type KMLGenerator struct {
	hasher report.Hasher
}

// NewKMLGenerator constructs a KMLGenerator.
func NewKMLGenerator(hasher report.Hasher) *KMLGenerator {
	return &KMLGenerator{hasher: hasher}
}

// Format implements Generator.
func (g *KMLGenerator) Format() report.ArtifactFormat {
	return report.FormatKML
}

// Generate implements Generator. It refuses to emit a document without
// geometry rather than produce an empty placemark file.
func (g *KMLGenerator) Generate(_ context.Context, ws *bundle.Workspace, set report.FetchSet) (report.Artifact, error) {
	parcel := set.Registry
	if parcel == nil {
		return report.Artifact{}, fmt.Errorf("kml: no registry data for query")
	}
	if parcel.Centroid == (report.Coordinate{}) && !parcel.HasBoundary() {
		return report.Artifact{}, fmt.Errorf("kml: parcel %s has no geometry", parcel.Reference)
	}

	doc := kmlDocument{
		Namespace: kmlNamespace,
		Document: kmlDocumentTag{
			Name: fmt.Sprintf("Parcela %s", parcel.Reference),
			Placemarks: []kmlPlacemark{{
				Name:  parcel.Reference,
				Point: &kmlPoint{Coordinates: kmlCoordinate(parcel.Centroid)},
			}},
		},
	}
	if parcel.HasBoundary() {
		doc.Document.Placemarks = append(doc.Document.Placemarks, kmlPlacemark{
			Name: fmt.Sprintf("Límite %s", parcel.Reference),
			Polygon: &kmlPolygon{
				OuterRing: kmlOuterRing{Ring: kmlLinearRing{
					Coordinates: kmlRing(parcel.Boundary),
				}},
			},
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return report.Artifact{}, fmt.Errorf("kml: encode: %w", err)
	}
	buf.WriteByte('\n')

	return writeArtifact(ws, report.FormatKML, parcel.Reference, buf.Bytes(), g.hasher)
}

func kmlCoordinate(c report.Coordinate) string {
	return fmt.Sprintf("%f,%f,0", c.Lon, c.Lat)
}

// kmlRing serializes the boundary, closing the ring when the source left
// it open.
func kmlRing(boundary []report.Coordinate) string {
	coords := make([]string, 0, len(boundary)+1)
	for _, c := range boundary {
		coords = append(coords, kmlCoordinate(c))
	}
	if boundary[0] != boundary[len(boundary)-1] {
		coords = append(coords, kmlCoordinate(boundary[0]))
	}
	return strings.Join(coords, " ")
}
