// Package report defines core types shared across the fulfillment pipeline.
package report

import "time"

// PlanTier identifies a subscription plan.
type PlanTier string

// Plan tiers known to the pipeline.
const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// UnlimitedQuota marks a plan whose queries are never counted.
const UnlimitedQuota = -1

// Plan is the per-tier configuration supplied by the billing layer.
// It is read-only to this subsystem.
type Plan struct {
	Tier   PlanTier      `json:"tier"`
	Quota  int           `json:"quota"`
	Period time.Duration `json:"period"`
}

// Unlimited reports whether the plan bypasses quota accounting.
func (p Plan) Unlimited() bool {
	return p.Tier == PlanEnterprise || p.Quota == UnlimitedQuota
}

// UsageCounter tracks chargeable queries per user and billing period.
type UsageCounter struct {
	UserID      string    `json:"user_id"`
	Consumed    int       `json:"consumed"`
	PeriodStart time.Time `json:"period_start"`
}

// QueryStatus represents the lifecycle state of a fulfillment query.
type QueryStatus string

// Query status values persisted in the query store.
const (
	StatusCreated       QueryStatus = "created"
	StatusAdmitted      QueryStatus = "admitted"
	StatusFetching      QueryStatus = "fetching"
	StatusGenerating    QueryStatus = "generating"
	StatusBundled       QueryStatus = "bundled"
	StatusCompleted     QueryStatus = "completed"
	StatusQuotaExceeded QueryStatus = "quota_exceeded"
	StatusFailed        QueryStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s QueryStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusQuotaExceeded, StatusFailed:
		return true
	}
	return false
}

// FailureReason classifies terminal failures surfaced to callers.
type FailureReason string

// Failure reasons. None of these outcomes is billed.
const (
	ReasonInvalidReference    FailureReason = "invalid_reference"
	ReasonQuotaExceeded       FailureReason = "quota_exceeded"
	ReasonSourceUnavailable   FailureReason = "source_unavailable"
	ReasonNoArtifactsProduced FailureReason = "no_artifacts_produced"
	ReasonBundleError         FailureReason = "bundle_error"
)

// Failure carries the structured cause of a failed query.
type Failure struct {
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// FetchStatus is the outcome of one external source within a query.
type FetchStatus string

// Fetch outcomes. Degradation is explicit, never inferred from absence.
const (
	FetchOK          FetchStatus = "ok"
	FetchDegraded    FetchStatus = "degraded"
	FetchUnavailable FetchStatus = "unavailable"
)

// Source names used as keys in Query.FetchResults.
const (
	SourceRegistry = "registry"
	SourceWeather  = "weather"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// RegistryPayload is the normalized record produced by the registry adapter.
type RegistryPayload struct {
	Reference        string       `json:"reference"`
	DelegationCode   string       `json:"delegation_code"`
	MunicipalityCode string       `json:"municipality_code"`
	Centroid         Coordinate   `json:"centroid"`
	Boundary         []Coordinate `json:"boundary,omitempty"`
	ParcelGML        []byte       `json:"-"`
	BuildingGML      []byte       `json:"-"`
}

// HasBoundary reports whether the payload carries a usable parcel ring.
func (p RegistryPayload) HasBoundary() bool {
	return len(p.Boundary) >= 3
}

// WeatherPayload is the normalized record produced by the weather adapter.
type WeatherPayload struct {
	Station         string    `json:"station"`
	TemperatureC    float64   `json:"temperature_c"`
	HumidityPct     float64   `json:"humidity_pct"`
	WindSpeedKmh    float64   `json:"wind_speed_kmh"`
	PrecipitationMM float64   `json:"precipitation_mm"`
	ObservedAt      time.Time `json:"observed_at"`
}

// FetchResult records the outcome of one external call for audit.
// It is immutable once produced by the orchestrator.
type FetchResult struct {
	Source      string      `json:"source"`
	Status      FetchStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	RetrievedAt time.Time   `json:"retrieved_at"`
	Error       string      `json:"error,omitempty"`
}

// FetchSet is the merged result of the orchestrated fan-out.
type FetchSet struct {
	Registry *RegistryPayload
	Weather  *WeatherPayload
	Results  map[string]FetchResult
}

// Degraded reports whether an optional source ended unavailable.
func (s FetchSet) Degraded() bool {
	for _, r := range s.Results {
		if r.Status == FetchDegraded || (r.Source != SourceRegistry && r.Status == FetchUnavailable) {
			return true
		}
	}
	return false
}

// ArtifactFormat names one of the output artifact kinds.
type ArtifactFormat string

// Artifact formats bundled into the final archive.
const (
	FormatPDF        ArtifactFormat = "pdf"
	FormatKML        ArtifactFormat = "kml"
	FormatGML        ArtifactFormat = "gml"
	FormatPlan       ArtifactFormat = "plan"
	FormatOrthophoto ArtifactFormat = "orthophoto"
)

// Artifact is one generated or fetched output file.
type Artifact struct {
	Format   ArtifactFormat `json:"format"`
	Path     string         `json:"path"`
	Size     int64          `json:"size"`
	Checksum string         `json:"checksum"`
}

// Transition is one timestamped status change recorded by the ledger.
type Transition struct {
	From QueryStatus `json:"from"`
	To   QueryStatus `json:"to"`
	At   time.Time   `json:"at"`
	Note string      `json:"note,omitempty"`
}

// Query is one fulfillment attempt. The ledger is the only writer of
// Status; every other component reports outcomes back to it.
type Query struct {
	ID               string                      `json:"id"`
	UserID           string                      `json:"user_id"`
	Reference        string                      `json:"reference"`
	Status           QueryStatus                 `json:"status"`
	CreatedAt        time.Time                   `json:"created_at"`
	CompletedAt      *time.Time                  `json:"completed_at,omitempty"`
	Degraded         bool                        `json:"degraded"`
	FetchResults     map[string]FetchResult      `json:"fetch_results,omitempty"`
	Artifacts        map[ArtifactFormat]Artifact `json:"artifacts,omitempty"`
	MissingArtifacts map[ArtifactFormat]string   `json:"missing_artifacts,omitempty"`
	ArchiveURI       string                      `json:"archive_uri,omitempty"`
	Failure          *Failure                    `json:"failure,omitempty"`
	Transitions      []Transition                `json:"transitions,omitempty"`
}

// DocumentKind selects a registry document download.
type DocumentKind string

// Registry document kinds.
const (
	DocumentDescriptive DocumentKind = "descriptive"
	DocumentPlan        DocumentKind = "plan"
	DocumentOrthophoto  DocumentKind = "orthophoto"
)

// CompletionEvent is published to collaborators after a terminal transition.
type CompletionEvent struct {
	QueryID          string                    `json:"query_id"`
	UserID           string                    `json:"user_id"`
	Reference        string                    `json:"reference"`
	Status           QueryStatus               `json:"status"`
	Degraded         bool                      `json:"degraded"`
	ArchiveURI       string                    `json:"archive_uri,omitempty"`
	MissingArtifacts map[ArtifactFormat]string `json:"missing_artifacts,omitempty"`
}
