package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/dshills/tripgraph/graph/tool"
)

// Default service endpoints.
const (
	DefaultGeocodeURL  = "https://nominatim.openstreetmap.org/search"
	DefaultForecastURL = "https://api.openweathermap.org/data/2.5/forecast"
)

// defaultForecastDays matches the span of the free 5-day forecast.
const defaultForecastDays = 5

// ErrLocationNotFound is returned when geocoding finds no match.
var ErrLocationNotFound = errors.New("location not found")

// DailyForecast summarizes one day of the 3-hourly forecast.
type DailyForecast struct {
	Date    string  `json:"date"`
	Summary string  `json:"summary"`
	TempMax float64 `json:"temp_max"`
	TempMin float64 `json:"temp_min"`
	PopMax  float64 `json:"pop_max"`
}

// WeatherClient fetches daily forecasts for place names. It geocodes with a
// Nominatim-compatible endpoint and reads an OpenWeather-compatible 5-day
// forecast. Coordinates are cached for the life of the client.
type WeatherClient struct {
	http        tool.Tool
	apiKey      string
	geocodeURL  string
	forecastURL string
	days        int

	mu     sync.Mutex
	coords map[string][2]float64
}

// WeatherOption configures a WeatherClient.
type WeatherOption func(*WeatherClient)

// WithGeocodeURL overrides the geocoding endpoint.
func WithGeocodeURL(u string) WeatherOption {
	return func(c *WeatherClient) { c.geocodeURL = u }
}

// WithForecastURL overrides the forecast endpoint.
func WithForecastURL(u string) WeatherOption {
	return func(c *WeatherClient) { c.forecastURL = u }
}

// WithForecastDays limits how many days are returned.
func WithForecastDays(n int) WeatherOption {
	return func(c *WeatherClient) {
		if n > 0 {
			c.days = n
		}
	}
}

// NewWeatherClient creates a client that issues requests through h, usually
// a *tool.HTTPTool. An empty apiKey disables forecasts.
func NewWeatherClient(h tool.Tool, apiKey string, opts ...WeatherOption) *WeatherClient {
	c := &WeatherClient{
		http:        h,
		apiKey:      apiKey,
		geocodeURL:  DefaultGeocodeURL,
		forecastURL: DefaultForecastURL,
		days:        defaultForecastDays,
		coords:      make(map[string][2]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client has an API key.
func (c *WeatherClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Forecast returns the daily forecast for place, oldest day first. It
// returns an empty forecast when the client is disabled.
func (c *WeatherClient) Forecast(ctx context.Context, place string) ([]DailyForecast, error) {
	if !c.Enabled() {
		return []DailyForecast{}, nil
	}

	lat, lon, err := c.geocode(ctx, place)
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	err = tool.GetJSON(ctx, c.http, c.forecastURL, map[string]interface{}{
		"lat":   strconv.FormatFloat(lat, 'f', -1, 64),
		"lon":   strconv.FormatFloat(lon, 'f', -1, 64),
		"appid": c.apiKey,
		"units": "metric",
		"lang":  "en",
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", place, err)
	}

	return aggregateDaily(resp.List, c.days), nil
}

func (c *WeatherClient) geocode(ctx context.Context, place string) (float64, float64, error) {
	c.mu.Lock()
	cached, ok := c.coords[place]
	c.mu.Unlock()
	if ok {
		return cached[0], cached[1], nil
	}

	var matches []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	err := tool.GetJSON(ctx, c.http, c.geocodeURL, map[string]interface{}{
		"q":      place,
		"format": "json",
		"limit":  "1",
	}, &matches)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s: %w", place, err)
	}
	if len(matches) == 0 {
		return 0, 0, fmt.Errorf("geocode %s: %w", place, ErrLocationNotFound)
	}

	lat, err := strconv.ParseFloat(matches[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s: bad latitude %q", place, matches[0].Lat)
	}
	lon, err := strconv.ParseFloat(matches[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s: bad longitude %q", place, matches[0].Lon)
	}

	c.mu.Lock()
	c.coords[place] = [2]float64{lat, lon}
	c.mu.Unlock()
	return lat, lon, nil
}

type forecastResponse struct {
	List []forecastItem `json:"list"`
}

type forecastItem struct {
	DtTxt string `json:"dt_txt"`
	Main  struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Pop float64 `json:"pop"`
}

// aggregateDaily groups 3-hourly samples by calendar day. Each day reports
// its most frequent description (earliest wins a tie), its temperature
// range rounded to 0.1 degree and its highest precipitation probability
// rounded to 0.01.
func aggregateDaily(items []forecastItem, days int) []DailyForecast {
	type bucket struct {
		temps  []float64
		descs  []string
		counts map[string]int
		pops   []float64
	}
	byDate := make(map[string]*bucket)
	var dates []string

	for _, item := range items {
		if len(item.DtTxt) < 10 {
			continue
		}
		date := item.DtTxt[:10]
		b, ok := byDate[date]
		if !ok {
			b = &bucket{counts: make(map[string]int)}
			byDate[date] = b
			dates = append(dates, date)
		}
		b.temps = append(b.temps, item.Main.Temp)
		b.pops = append(b.pops, item.Pop)
		if len(item.Weather) > 0 {
			desc := item.Weather[0].Description
			if b.counts[desc] == 0 {
				b.descs = append(b.descs, desc)
			}
			b.counts[desc]++
		}
	}

	sort.Strings(dates)
	if len(dates) > days {
		dates = dates[:days]
	}

	out := make([]DailyForecast, 0, len(dates))
	for _, date := range dates {
		b := byDate[date]

		summary, best := "", 0
		for _, d := range b.descs {
			if b.counts[d] > best {
				summary, best = d, b.counts[d]
			}
		}

		out = append(out, DailyForecast{
			Date:    date,
			Summary: summary,
			TempMax: round(maxOf(b.temps), 1),
			TempMin: round(minOf(b.temps), 1),
			PopMax:  round(maxOf(b.pops), 2),
		})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func maxOf(vs []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vs {
		m = math.Max(m, v)
	}
	return m
}

func minOf(vs []float64) float64 {
	m := math.Inf(1)
	for _, v := range vs {
		m = math.Min(m, v)
	}
	return m
}
