package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

// geolocation is the machine-readable companion file bundled next to the
// report, pointing readers at the parcel in the public viewers.
type geolocation struct {
	Reference   string            `json:"referencia_catastral"`
	Centroid    report.Coordinate `json:"centroide"`
	Boundary    []report.Coordinate `json:"limite,omitempty"`
	GoogleMaps  string            `json:"google_maps"`
	CatastroURL string            `json:"visor_catastro"`
	GeneratedAt time.Time         `json:"generado"`
}

// ExtrasWriter adds the supplementary archive members that ride along
// with the tracked artifacts: the geolocation JSON, the building GML when
// the registry returned one, and the official descriptive document.
// Everything here is best effort except the geolocation file.
type ExtrasWriter struct {
	registry report.RegistryClient
	policy   report.RetryPolicy
	clock    report.Clock
	logger   *zap.Logger
}

// NewExtrasWriter constructs an ExtrasWriter.
func NewExtrasWriter(registry report.RegistryClient, policy report.RetryPolicy, clock report.Clock, logger *zap.Logger) *ExtrasWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtrasWriter{registry: registry, policy: policy, clock: clock, logger: logger}
}

// Write persists the extra members into the workspace and returns their
// paths for bundling.
func (w *ExtrasWriter) Write(ctx context.Context, ws *bundle.Workspace, set report.FetchSet) ([]string, error) {
	parcel := set.Registry
	if parcel == nil {
		return nil, fmt.Errorf("extras: no registry data for query")
	}

	var paths []string

	geoPath, err := w.writeGeolocation(ws, parcel)
	if err != nil {
		return nil, err
	}
	paths = append(paths, geoPath)

	if len(parcel.BuildingGML) > 0 {
		p := ws.Path(fmt.Sprintf("%s_edificio.gml", parcel.Reference))
		if err := os.WriteFile(p, parcel.BuildingGML, 0o600); err != nil {
			return nil, fmt.Errorf("extras: write building gml: %w", err)
		}
		paths = append(paths, p)
	}

	if p, ok := w.writeDescriptive(ctx, ws, parcel); ok {
		paths = append(paths, p)
	}
	return paths, nil
}

func (w *ExtrasWriter) writeGeolocation(ws *bundle.Workspace, parcel *report.RegistryPayload) (string, error) {
	geo := geolocation{
		Reference: parcel.Reference,
		Centroid:  parcel.Centroid,
		Boundary:  parcel.Boundary,
		GoogleMaps: fmt.Sprintf("https://www.google.com/maps?q=%f,%f",
			parcel.Centroid.Lat, parcel.Centroid.Lon),
		CatastroURL: fmt.Sprintf(
			"https://www1.sedecatastro.gob.es/CYCBienInmueble/OVCListaBienes.aspx?rc1=%s&rc2=%s",
			parcel.Reference[:7], parcel.Reference[7:14]),
		GeneratedAt: w.clock.Now(),
	}
	data, err := json.MarshalIndent(geo, "", "  ")
	if err != nil {
		return "", fmt.Errorf("extras: marshal geolocation: %w", err)
	}
	p := ws.Path(fmt.Sprintf("%s_geolocalizacion.json", parcel.Reference))
	if err := os.WriteFile(p, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("extras: write geolocation: %w", err)
	}
	return p, nil
}

// writeDescriptive downloads the official descriptive document. It is
// served by the same portal as the plan images and can be flaky, so a
// miss only logs.
func (w *ExtrasWriter) writeDescriptive(ctx context.Context, ws *bundle.Workspace, parcel *report.RegistryPayload) (string, bool) {
	var data []byte
	attempts := 0
	for {
		attempts++
		var err error
		data, err = w.registry.FetchDocument(ctx, parcel.Reference, report.DocumentDescriptive, parcel.Centroid)
		if err == nil {
			break
		}
		if ctx.Err() != nil || !w.policy.ShouldRetry(err, attempts) {
			w.logger.Warn("descriptive document unavailable",
				zap.String("reference", parcel.Reference),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return "", false
		}
		if !sleepBackoff(ctx, w.policy.Backoff(attempts-1)) {
			return "", false
		}
	}

	p := ws.Path(fmt.Sprintf("%s_consulta_descriptiva.pdf", parcel.Reference))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		w.logger.Warn("descriptive document write failed",
			zap.String("reference", parcel.Reference), zap.Error(err))
		return "", false
	}
	return p, true
}
