package generate

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

// WeatherUnavailableMarker is printed in the report when the weather
// source degraded, so readers never mistake absence for calm conditions.
const WeatherUnavailableMarker = "Datos meteorológicos no disponibles"

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html []byte) ([]byte, error)
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>Informe catastral {{.Reference}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; border-bottom: 2px solid #444; padding-bottom: 0.3em; }
h2 { font-size: 1.1em; margin-top: 1.5em; }
table { border-collapse: collapse; margin-top: 0.5em; }
td, th { border: 1px solid #999; padding: 0.3em 0.8em; text-align: left; }
.generated { color: #666; font-size: 0.85em; margin-top: 2em; }
.unavailable { color: #a33; font-style: italic; }
</style>
</head>
<body>
<h1>Informe de análisis espacial</h1>

<h2>Datos descriptivos</h2>
<table>
<tr><th>Referencia catastral</th><td>{{.Reference}}</td></tr>
<tr><th>Delegación</th><td>{{.Delegation}}</td></tr>
<tr><th>Municipio</th><td>{{.Municipality}}</td></tr>
<tr><th>Longitud</th><td>{{printf "%.6f" .Centroid.Lon}}</td></tr>
<tr><th>Latitud</th><td>{{printf "%.6f" .Centroid.Lat}}</td></tr>
<tr><th>Geometría de parcela</th><td>{{if .HasBoundary}}{{.BoundaryPoints}} vértices{{else}}No disponible{{end}}</td></tr>
</table>

<h2>Condiciones meteorológicas</h2>
{{if .Weather}}
<table>
<tr><th>Estación</th><td>{{.Weather.Station}}</td></tr>
<tr><th>Temperatura</th><td>{{printf "%.1f" .Weather.TemperatureC}} °C</td></tr>
<tr><th>Humedad relativa</th><td>{{printf "%.0f" .Weather.HumidityPct}} %</td></tr>
<tr><th>Viento</th><td>{{printf "%.1f" .Weather.WindSpeedKmh}} km/h</td></tr>
<tr><th>Precipitación</th><td>{{printf "%.1f" .Weather.PrecipitationMM}} mm</td></tr>
<tr><th>Observado</th><td>{{.Weather.ObservedAt.Format "02/01/2006 15:04"}}</td></tr>
</table>
{{else}}
<p class="unavailable">{{.UnavailableMarker}}</p>
{{end}}

<p class="generated">Informe generado el {{.GeneratedAt.Format "02/01/2006 15:04:05 MST"}}</p>
</body>
</html>
`))

type reportData struct {
	Reference         string
	Delegation        string
	Municipality      string
	Centroid          report.Coordinate
	HasBoundary       bool
	BoundaryPoints    int
	Weather           *report.WeatherPayload
	UnavailableMarker string
	GeneratedAt       time.Time
}

// PDFGenerator produces the descriptive report document. The HTML is
// composed here; rasterization is delegated to the Renderer.
type PDFGenerator struct {
	renderer Renderer
	hasher   report.Hasher
	clock    report.Clock
}

// NewPDFGenerator constructs a PDFGenerator.
func NewPDFGenerator(renderer Renderer, hasher report.Hasher, clock report.Clock) *PDFGenerator {
	return &PDFGenerator{renderer: renderer, hasher: hasher, clock: clock}
}

// Format implements Generator.
func (g *PDFGenerator) Format() report.ArtifactFormat {
	return report.FormatPDF
}

// Generate implements Generator.
func (g *PDFGenerator) Generate(ctx context.Context, ws *bundle.Workspace, set report.FetchSet) (report.Artifact, error) {
	parcel := set.Registry
	if parcel == nil {
		return report.Artifact{}, fmt.Errorf("pdf: no registry data for query")
	}

	data := reportData{
		Reference:         parcel.Reference,
		Delegation:        parcel.DelegationCode,
		Municipality:      parcel.MunicipalityCode,
		Centroid:          parcel.Centroid,
		HasBoundary:       parcel.HasBoundary(),
		BoundaryPoints:    len(parcel.Boundary),
		Weather:           set.Weather,
		UnavailableMarker: WeatherUnavailableMarker,
		GeneratedAt:       g.clock.Now(),
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return report.Artifact{}, fmt.Errorf("pdf: compose report: %w", err)
	}

	pdf, err := g.renderer.RenderPDF(ctx, buf.Bytes())
	if err != nil {
		return report.Artifact{}, fmt.Errorf("pdf: render: %w", err)
	}
	return writeArtifact(ws, report.FormatPDF, parcel.Reference, pdf, g.hasher)
}
