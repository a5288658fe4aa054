// Package weather fetches current conditions for a farmer's location from Open-Meteo.
//
// Open-Meteo needs no API key: a location name is geocoded first, then the forecast
// for the resulting coordinates is requested. Snapshots are never cached.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BTreeMap/AgriAI/internal/models"
)

// Default endpoints and timeout.
const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultTimeout      = 10 * time.Second
)

var (
	// ErrLocationNotFound is returned when geocoding yields no results.
	ErrLocationNotFound = errors.New("location not found")
	// ErrEmptyLocation is returned for blank location strings.
	ErrEmptyLocation = errors.New("location cannot be empty")
)

// Provider looks up a weather snapshot for a free-text location.
type Provider interface {
	Current(ctx context.Context, location string) (*models.WeatherSnapshot, error)
}

// Client implements Provider using the Open-Meteo geocoding and forecast APIs.
type Client struct {
	httpClient   *http.Client
	geocodingURL string
	forecastURL  string
}

// Opts holds configuration options for the weather client.
type Opts struct {
	GeocodingURL string
	ForecastURL  string
	Timeout      time.Duration
}

// Option defines a configuration option for the weather client.
type Option func(*Opts)

// WithGeocodingURL overrides the geocoding endpoint.
func WithGeocodingURL(u string) Option {
	return func(o *Opts) { o.GeocodingURL = u }
}

// WithForecastURL overrides the forecast endpoint.
func WithForecastURL(u string) Option {
	return func(o *Opts) { o.ForecastURL = u }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient creates an Open-Meteo client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{
		GeocodingURL: DefaultGeocodingURL,
		ForecastURL:  DefaultForecastURL,
		Timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		geocodingURL: cfg.GeocodingURL,
		forecastURL:  cfg.ForecastURL,
	}
}

// Current geocodes the location and returns today's conditions there.
func (c *Client) Current(ctx context.Context, location string) (*models.WeatherSnapshot, error) {
	if location == "" {
		return nil, ErrEmptyLocation
	}

	lat, lon, err := c.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"latitude":        {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":       {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current_weather": {"true"},
		"daily":           {"temperature_2m_max,temperature_2m_min,precipitation_sum"},
		"timezone":        {"auto"},
	}
	var fr forecastResponse
	if err := c.getJSON(ctx, c.forecastURL+"?"+params.Encode(), "forecast", &fr); err != nil {
		return nil, err
	}

	snap := &models.WeatherSnapshot{
		Temperature:      fr.CurrentWeather.Temperature,
		WindSpeed:        fr.CurrentWeather.WindSpeed,
		TemperatureMax:   first(fr.Daily.TemperatureMax),
		TemperatureMin:   first(fr.Daily.TemperatureMin),
		PrecipitationSum: first(fr.Daily.PrecipitationSum),
	}
	slog.Debug("Weather.Current: snapshot fetched", "location", location, "temperature", snap.Temperature, "windspeed", snap.WindSpeed)
	return snap, nil
}

func (c *Client) geocode(ctx context.Context, location string) (float64, float64, error) {
	params := url.Values{
		"name":  {location},
		"count": {"1"},
	}
	var gr geocodingResponse
	if err := c.getJSON(ctx, c.geocodingURL+"?"+params.Encode(), "geocode", &gr); err != nil {
		return 0, 0, err
	}
	if len(gr.Results) == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrLocationNotFound, location)
	}
	return gr.Results[0].Latitude, gr.Results[0].Longitude, nil
}

func (c *Client) getJSON(ctx context.Context, fullURL, source string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("open-meteo %s error: status %d: %s", source, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", source, err)
	}
	return nil
}

func first(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// Open-Meteo API response types.

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
	} `json:"current_weather"`
	Daily struct {
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		TemperatureMin   []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}
