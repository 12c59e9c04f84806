// Package weather adapts the AEMET open-data service to the pipeline's
// fetch contract. The service answers every query with a small envelope
// whose "datos" field points at the actual data document.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Config captures the weather adapter parameters.
type Config struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://opendata.aemet.es/opendata/api"
	}
}

// Client implements report.WeatherClient. Each call performs a single
// attempt; retries belong to the orchestrator's policy.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// envelope is the first-step response carrying the data document URL.
type envelope struct {
	Estado int    `json:"estado"`
	Datos  string `json:"datos"`
}

// observation mirrors one conventional-observation record.
type observation struct {
	Station       string  `json:"ubi"`
	Temperature   float64 `json:"ta"`
	Humidity      float64 `json:"hr"`
	WindSpeedMS   float64 `json:"vv"`
	Precipitation float64 `json:"prec"`
	ObservedAt    string  `json:"fint"`
}

// FetchConditions returns the latest observation near the location.
func (c *Client) FetchConditions(ctx context.Context, location report.Coordinate) (report.WeatherPayload, error) {
	params := url.Values{
		"lat":     {strconv.FormatFloat(location.Lat, 'f', 6, 64)},
		"lon":     {strconv.FormatFloat(location.Lon, 'f', 6, 64)},
		"api_key": {c.cfg.APIKey},
	}
	env, err := c.fetchEnvelope(ctx, c.cfg.BaseURL+"/observacion/convencional/cercana?"+params.Encode())
	if err != nil {
		return report.WeatherPayload{}, err
	}

	body, err := c.get(ctx, env.Datos)
	if err != nil {
		return report.WeatherPayload{}, fmt.Errorf("fetch observation data: %w", err)
	}

	var records []observation
	if err := json.Unmarshal(body, &records); err != nil {
		return report.WeatherPayload{}, fmt.Errorf("decode observations: %w", err)
	}
	if len(records) == 0 {
		return report.WeatherPayload{}, fmt.Errorf("no observations near %.4f,%.4f: %w", location.Lat, location.Lon, report.ErrNotFound)
	}

	latest := records[len(records)-1]
	observedAt, _ := time.Parse("2006-01-02T15:04:05", latest.ObservedAt)
	return report.WeatherPayload{
		Station:         latest.Station,
		TemperatureC:    latest.Temperature,
		HumidityPct:     latest.Humidity,
		WindSpeedKmh:    latest.WindSpeedMS * 3.6,
		PrecipitationMM: latest.Precipitation,
		ObservedAt:      observedAt.UTC(),
	}, nil
}

func (c *Client) fetchEnvelope(ctx context.Context, rawURL string) (envelope, error) {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return envelope{}, fmt.Errorf("fetch envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Estado != 0 && env.Estado != http.StatusOK {
		return envelope{}, fmt.Errorf("weather service estado %d", env.Estado)
	}
	if env.Datos == "" {
		return envelope{}, fmt.Errorf("envelope carries no data URL")
	}
	return env, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service responded %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}
	return body, nil
}
