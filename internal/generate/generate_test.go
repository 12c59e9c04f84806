package generate

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/hash/sha256"
	"github.com/geoinforme/parcelreport/internal/report"
	"github.com/geoinforme/parcelreport/internal/storage/memory"
)

const testReference = "9872023VH5797S0001WX"

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// passthroughRenderer returns the HTML bytes untouched so tests can
// inspect what would have been rasterized.
type passthroughRenderer struct{}

func (passthroughRenderer) RenderPDF(_ context.Context, html []byte) ([]byte, error) {
	return html, nil
}

type fakeDocumentRegistry struct {
	mu       sync.Mutex
	attempts map[report.DocumentKind]int
	fails    map[report.DocumentKind]int
	docs     map[report.DocumentKind][]byte
}

func (f *fakeDocumentRegistry) FetchParcel(context.Context, string) (report.RegistryPayload, error) {
	return report.RegistryPayload{}, errors.New("not used")
}

func (f *fakeDocumentRegistry) FetchDocument(_ context.Context, _ string, kind report.DocumentKind, _ report.Coordinate) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[report.DocumentKind]int)
	}
	f.attempts[kind]++
	if f.attempts[kind] <= f.fails[kind] {
		return nil, errors.New("portal transient error")
	}
	doc, ok := f.docs[kind]
	if !ok {
		return nil, report.ErrNotFound
	}
	return doc, nil
}

func newWorkspace(t *testing.T) *bundle.Workspace {
	t.Helper()
	b, err := bundle.New(t.TempDir(), memory.NewBlobStore(), nil)
	require.NoError(t, err)
	ws, err := b.NewWorkspace("query-1")
	require.NoError(t, err)
	t.Cleanup(func() { b.Cleanup(ws) })
	return ws
}

func registrySet() report.FetchSet {
	return report.FetchSet{
		Registry: &report.RegistryPayload{
			Reference:        testReference,
			DelegationCode:   "98",
			MunicipalityCode: "720",
			Centroid:         report.Coordinate{Lon: -0.37, Lat: 39.47},
			Boundary: []report.Coordinate{
				{Lon: -0.371, Lat: 39.469},
				{Lon: -0.369, Lat: 39.469},
				{Lon: -0.369, Lat: 39.471},
			},
			ParcelGML: []byte(`<gml:FeatureCollection xmlns:gml="http://www.opengis.net/gml/3.2"/>`),
		},
		Results: map[string]report.FetchResult{
			report.SourceRegistry: {Source: report.SourceRegistry, Status: report.FetchOK},
		},
	}
}

func testPolicy() report.RetryPolicy {
	return report.NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
}

func TestArtifactFileNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, testReference+"_pdf.pdf", ArtifactFileName(testReference, report.FormatPDF))
	require.Equal(t, testReference+"_kml.kml", ArtifactFileName(testReference, report.FormatKML))
	require.Equal(t, testReference+"_gml.gml", ArtifactFileName(testReference, report.FormatGML))
	require.Equal(t, testReference+"_plan.png", ArtifactFileName(testReference, report.FormatPlan))
	require.Equal(t, testReference+"_orthophoto.jpg", ArtifactFileName(testReference, report.FormatOrthophoto))
}

func TestKMLGeneratorEmitsPointAndPolygon(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	art, err := NewKMLGenerator(sha256.New()).Generate(context.Background(), ws, registrySet())
	require.NoError(t, err)
	require.Equal(t, report.FormatKML, art.Format)
	require.NotEmpty(t, art.Checksum)
	require.Positive(t, art.Size)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	doc := string(data)
	require.Contains(t, doc, "<Point>")
	require.Contains(t, doc, "<Polygon>")
	require.Contains(t, doc, "-0.370000,39.470000,0")
	// Ring closure: first boundary vertex repeated at the end.
	require.Equal(t, 2, strings.Count(doc, "-0.371000,39.469000,0"))
}

func TestKMLGeneratorSkipsPolygonWithoutBoundary(t *testing.T) {
	t.Parallel()

	set := registrySet()
	set.Registry.Boundary = nil

	ws := newWorkspace(t)
	art, err := NewKMLGenerator(sha256.New()).Generate(context.Background(), ws, set)
	require.NoError(t, err)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "<Point>")
	require.NotContains(t, string(data), "<Polygon>")
}

func TestKMLGeneratorRejectsMissingGeometry(t *testing.T) {
	t.Parallel()

	set := registrySet()
	set.Registry.Boundary = nil
	set.Registry.Centroid = report.Coordinate{}

	_, err := NewKMLGenerator(sha256.New()).Generate(context.Background(), newWorkspace(t), set)
	require.Error(t, err)
}

func TestGMLGeneratorPassesThroughFeature(t *testing.T) {
	t.Parallel()

	set := registrySet()
	ws := newWorkspace(t)
	art, err := NewGMLGenerator(sha256.New()).Generate(context.Background(), ws, set)
	require.NoError(t, err)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Equal(t, set.Registry.ParcelGML, data)
}

func TestGMLGeneratorRejectsMissingFeature(t *testing.T) {
	t.Parallel()

	set := registrySet()
	set.Registry.ParcelGML = nil

	_, err := NewGMLGenerator(sha256.New()).Generate(context.Background(), newWorkspace(t), set)
	require.Error(t, err)
}

func TestPDFGeneratorIncludesWeatherSection(t *testing.T) {
	t.Parallel()

	set := registrySet()
	set.Weather = &report.WeatherPayload{
		Station:      "VALENCIA",
		TemperatureC: 24.3,
		HumidityPct:  61,
		WindSpeedKmh: 12.6,
		ObservedAt:   time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC),
	}

	clock := fixedClock{at: time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)}
	gen := NewPDFGenerator(passthroughRenderer{}, sha256.New(), clock)
	art, err := gen.Generate(context.Background(), newWorkspace(t), set)
	require.NoError(t, err)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	doc := string(data)
	require.Contains(t, doc, testReference)
	require.Contains(t, doc, "VALENCIA")
	require.Contains(t, doc, "24.3")
	require.NotContains(t, doc, WeatherUnavailableMarker)
	// Exactly one generation timestamp, from the injected clock.
	require.Equal(t, 1, strings.Count(doc, "Informe generado el"))
	require.Contains(t, doc, "25/08/2026 12:30:00")
}

func TestPDFGeneratorMarksMissingWeather(t *testing.T) {
	t.Parallel()

	set := registrySet()
	set.Weather = nil

	gen := NewPDFGenerator(passthroughRenderer{}, sha256.New(), fixedClock{at: time.Now()})
	art, err := gen.Generate(context.Background(), newWorkspace(t), set)
	require.NoError(t, err)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), WeatherUnavailableMarker)
}

func TestDocumentGeneratorRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	reg := &fakeDocumentRegistry{
		fails: map[report.DocumentKind]int{report.DocumentPlan: 2},
		docs:  map[report.DocumentKind][]byte{report.DocumentPlan: []byte("png-bytes")},
	}
	gen := NewPlanGenerator(reg, testPolicy(), sha256.New(), nil)

	art, err := gen.Generate(context.Background(), newWorkspace(t), registrySet())
	require.NoError(t, err)
	require.Equal(t, report.FormatPlan, art.Format)
	require.Equal(t, 3, reg.attempts[report.DocumentPlan])
}

func TestDocumentGeneratorStopsOnNotFound(t *testing.T) {
	t.Parallel()

	reg := &fakeDocumentRegistry{}
	gen := NewOrthophotoGenerator(reg, testPolicy(), sha256.New(), nil)

	_, err := gen.Generate(context.Background(), newWorkspace(t), registrySet())
	require.ErrorIs(t, err, report.ErrNotFound)
	// ErrNotFound is permanent: no second attempt.
	require.Equal(t, 1, reg.attempts[report.DocumentOrthophoto])
}

func TestExtrasWriterProducesGeolocationAndBuilding(t *testing.T) {
	t.Parallel()

	set := registrySet()
	set.Registry.BuildingGML = []byte(`<gml:FeatureCollection xmlns:gml="http://www.opengis.net/gml/3.2"/>`)

	reg := &fakeDocumentRegistry{
		docs: map[report.DocumentKind][]byte{report.DocumentDescriptive: []byte("%PDF-1.4")},
	}
	w := NewExtrasWriter(reg, testPolicy(), fixedClock{at: time.Now()}, nil)

	paths, err := w.Write(context.Background(), newWorkspace(t), set)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	geo, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Contains(t, string(geo), testReference)
	require.Contains(t, string(geo), "google.com/maps")
	require.Contains(t, string(geo), "sedecatastro.gob.es")

	require.Contains(t, paths[1], "_edificio.gml")
	require.Contains(t, paths[2], "_consulta_descriptiva.pdf")
}

func TestExtrasWriterToleratesMissingDescriptive(t *testing.T) {
	t.Parallel()

	reg := &fakeDocumentRegistry{}
	w := NewExtrasWriter(reg, testPolicy(), fixedClock{at: time.Now()}, nil)

	paths, err := w.Write(context.Background(), newWorkspace(t), registrySet())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Contains(t, paths[0], "_geolocalizacion.json")
}
