// Package generate renders the merged fetch data into the output
// artifacts. Generators are pure transforms to files on disk; they never
// touch query state and report outcomes back as an Artifact or an error.
package generate

import (
	"context"
	"fmt"
	"os"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

// Generator produces one artifact format from the merged fetch data.
type Generator interface {
	Format() report.ArtifactFormat
	Generate(ctx context.Context, ws *bundle.Workspace, set report.FetchSet) (report.Artifact, error)
}

// ArtifactFileName returns the deterministic member name for a format,
// so repeated downloads of the same reference are reproducible.
func ArtifactFileName(reference string, format report.ArtifactFormat) string {
	return fmt.Sprintf("%s_%s.%s", reference, format, artifactExt(format))
}

func artifactExt(format report.ArtifactFormat) string {
	switch format {
	case report.FormatPDF:
		return "pdf"
	case report.FormatKML:
		return "kml"
	case report.FormatGML:
		return "gml"
	case report.FormatPlan:
		return "png"
	case report.FormatOrthophoto:
		return "jpg"
	default:
		return "bin"
	}
}

// writeArtifact persists the bytes into the workspace and returns the
// checksummed artifact record.
func writeArtifact(ws *bundle.Workspace, format report.ArtifactFormat, reference string, data []byte, hasher report.Hasher) (report.Artifact, error) {
	path := ws.Path(ArtifactFileName(reference, format))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return report.Artifact{}, fmt.Errorf("write %s artifact: %w", format, err)
	}
	checksum, err := hasher.Hash(data)
	if err != nil {
		return report.Artifact{}, fmt.Errorf("checksum %s artifact: %w", format, err)
	}
	return report.Artifact{
		Format:   format,
		Path:     path,
		Size:     int64(len(data)),
		Checksum: checksum,
	}, nil
}
