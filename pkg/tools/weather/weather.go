// Package weather looks up current conditions for a city. Open-Meteo
// (geocoding plus forecast) is tried first and wttr.in second; both go
// through the bridge client so retries and error kinds are uniform.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
)

const (
	DefaultGeocodingBaseURL = "https://geocoding-api.open-meteo.com"
	DefaultForecastBaseURL  = "https://api.open-meteo.com"
	DefaultWttrBaseURL      = "https://wttr.in"

	userAgent = "friday_jarvis/1.0 (weather)"
)

var (
	ErrCityRequired = errors.New("weather: city is required")
	// ErrNotFound means geocoding succeeded but knew no such place. The
	// fallback provider is not consulted.
	ErrNotFound = errors.New("weather: location not found")
)

type Options struct {
	Client           *bridge.Client
	GeocodingBaseURL string
	ForecastBaseURL  string
	WttrBaseURL      string
	Logger           *slog.Logger
}

type Tool struct {
	client    *bridge.Client
	geocoding string
	forecast  string
	wttr      string
	logger    *slog.Logger
}

func New(opts Options) (*Tool, error) {
	if opts.Client == nil {
		return nil, errors.New("weather: bridge client is required")
	}
	t := &Tool{
		client:    opts.Client,
		geocoding: strings.TrimRight(or(opts.GeocodingBaseURL, DefaultGeocodingBaseURL), "/"),
		forecast:  strings.TrimRight(or(opts.ForecastBaseURL, DefaultForecastBaseURL), "/"),
		wttr:      strings.TrimRight(or(opts.WttrBaseURL, DefaultWttrBaseURL), "/"),
		logger:    opts.Logger,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

type Report struct {
	City        string   `json:"city"`
	Provider    string   `json:"provider"`
	Description string   `json:"description"`
	TempC       float64  `json:"temperature_c"`
	FeelsLikeC  *float64 `json:"feels_like_c,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	WindKph     float64  `json:"wind_kph"`
}

// Summary is the sentence spoken back to the user.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s, %s°C", r.City, r.Description, num(r.TempC))
	if r.FeelsLikeC != nil {
		fmt.Fprintf(&b, " (feels %s°C)", num(*r.FeelsLikeC))
	}
	if r.Humidity != nil {
		fmt.Fprintf(&b, ", humidity %s%%", num(*r.Humidity))
	}
	fmt.Fprintf(&b, ", wind %s km/h", num(r.WindKph))
	return b.String()
}

// Current returns conditions for city. When both providers fail the
// fallback's *bridge.Error is returned.
func (t *Tool) Current(ctx context.Context, city string) (Report, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Report{}, ErrCityRequired
	}

	rep, err := t.openMeteo(ctx, city)
	if err == nil || errors.Is(err, ErrNotFound) {
		return rep, err
	}
	if ctx.Err() != nil {
		return Report{}, err
	}
	t.logger.Warn("primary weather provider failed, falling back to wttr.in", "city", city, "err", err)

	rep, ferr := t.wttrIn(ctx, city)
	if ferr != nil {
		t.logger.Error("weather lookup failed", "city", city, "err", ferr)
		return Report{}, ferr
	}
	return rep, nil
}

func (t *Tool) get(ctx context.Context, op, target string, q url.Values, out any) error {
	resp, err := t.client.Call(ctx, bridge.Request{
		Method:  http.MethodGet,
		URL:     target,
		Query:   q,
		Op:      op,
		Headers: map[string]string{"User-Agent": userAgent},
	})
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return &bridge.Error{Kind: bridge.KindUnknown, Op: op, Method: http.MethodGet, URL: target, Status: resp.Status, Message: "decode response", Body: resp.Raw, Err: err}
	}
	return nil
}

func (t *Tool) openMeteo(ctx context.Context, city string) (Report, error) {
	var geo struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	err := t.get(ctx, "weather_geocode", t.geocoding+"/v1/search", url.Values{
		"name":     {city},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}, &geo)
	if err != nil {
		return Report{}, err
	}
	if len(geo.Results) == 0 {
		return Report{}, fmt.Errorf("%w: %q", ErrNotFound, city)
	}
	loc := geo.Results[0]

	var wx struct {
		Current struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	err = t.get(ctx, "weather_forecast", t.forecast+"/v1/forecast", url.Values{
		"latitude":        {fmt.Sprint(loc.Latitude)},
		"longitude":       {fmt.Sprint(loc.Longitude)},
		"current_weather": {"true"},
		"timezone":        {"auto"},
	}, &wx)
	if err != nil {
		return Report{}, err
	}
	return Report{
		City:        city,
		Provider:    "open-meteo",
		Description: describeWMO(wx.Current.WeatherCode),
		TempC:       wx.Current.Temperature,
		WindKph:     math.Round(wx.Current.WindSpeed*10) / 10,
	}, nil
}

func (t *Tool) wttrIn(ctx context.Context, city string) (Report, error) {
	var data struct {
		Current []struct {
			TempC       string `json:"temp_C"`
			FeelsLikeC  string `json:"FeelsLikeC"`
			Humidity    string `json:"humidity"`
			WindKph     string `json:"windspeedKmph"`
			WeatherDesc []struct {
				Value string `json:"value"`
			} `json:"weatherDesc"`
		} `json:"current_condition"`
	}
	target := t.wttr + "/" + url.PathEscape(city)
	if err := t.get(ctx, "weather_wttr", target, url.Values{"format": {"j1"}}, &data); err != nil {
		return Report{}, err
	}
	if len(data.Current) == 0 {
		return Report{}, &bridge.Error{Kind: bridge.KindUnknown, Op: "weather_wttr", Method: http.MethodGet, URL: target, Message: "no current_condition in response"}
	}
	cur := data.Current[0]
	desc := "N/A"
	if len(cur.WeatherDesc) > 0 && cur.WeatherDesc[0].Value != "" {
		desc = cur.WeatherDesc[0].Value
	}
	return Report{
		City:        city,
		Provider:    "wttr.in",
		Description: desc,
		TempC:       parseNum(cur.TempC),
		FeelsLikeC:  optNum(cur.FeelsLikeC),
		Humidity:    optNum(cur.Humidity),
		WindKph:     parseNum(cur.WindKph),
	}, nil
}

var wmoDescriptions = map[int]string{
	0: "clear sky", 1: "mainly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "rime fog",
	51: "light drizzle", 53: "drizzle", 55: "dense drizzle",
	61: "light rain", 63: "rain", 65: "heavy rain",
	71: "light snow", 73: "snow", 75: "heavy snow",
	80: "rain showers", 81: "heavy rain showers", 82: "violent rain showers",
	95: "thunderstorm", 96: "thunderstorm with hail", 99: "thunderstorm with heavy hail",
}

func describeWMO(code int) string {
	if d, ok := wmoDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("code %d", code)
}

func parseNum(s string) float64 {
	var f float64
	if _, err := fmt.Sscan(strings.TrimSpace(s), &f); err != nil {
		return 0
	}
	return f
}

func optNum(s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	f := parseNum(s)
	return &f
}

func num(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", f), "0"), ".")
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
