package generate

import (
	"context"
	"fmt"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

// GMLGenerator passes through the INSPIRE parcel feature exactly as the
// registry served it. Consumers of the GML member expect the official
// bytes, so no reserialization happens here.
type GMLGenerator struct {
	hasher report.Hasher
}

// NewGMLGenerator constructs a GMLGenerator.
func NewGMLGenerator(hasher report.Hasher) *GMLGenerator {
	return &GMLGenerator{hasher: hasher}
}

// Format implements Generator.
func (g *GMLGenerator) Format() report.ArtifactFormat {
	return report.FormatGML
}

// Generate implements Generator.
func (g *GMLGenerator) Generate(_ context.Context, ws *bundle.Workspace, set report.FetchSet) (report.Artifact, error) {
	parcel := set.Registry
	if parcel == nil {
		return report.Artifact{}, fmt.Errorf("gml: no registry data for query")
	}
	if len(parcel.ParcelGML) == 0 {
		return report.Artifact{}, fmt.Errorf("gml: parcel %s has no feature document", parcel.Reference)
	}
	return writeArtifact(ws, report.FormatGML, parcel.Reference, parcel.ParcelGML, g.hasher)
}
