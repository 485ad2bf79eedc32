// Package weather implements the bot's temperature lookups against Open-Meteo.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"polybot/internal/observability"
)

const hourLayout = "2006-01-02T15:04"

type OpenMeteo struct {
	geocodeURL    string
	forecastURL   string
	favouriteCity string
	httpClient    *http.Client
	now           func() time.Time
	log           *observability.Logger
}

func NewOpenMeteo(geocodeURL, forecastURL, favouriteCity string, httpClient *http.Client) *OpenMeteo {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &OpenMeteo{
		geocodeURL:    geocodeURL,
		forecastURL:   forecastURL,
		favouriteCity: favouriteCity,
		httpClient:    httpClient,
		now:           time.Now,
		log:           observability.Component("weather"),
	}
}

func (o *OpenMeteo) FavouriteCity() string {
	return o.favouriteCity
}

// Temperature returns the forecast temperature for city at the current hour.
func (o *OpenMeteo) Temperature(ctx context.Context, city string) (float64, bool) {
	lat, lon, err := o.locate(ctx, city)
	if err != nil {
		o.log.Warn(ctx, "geocoding failed", "city", city, "error", err.Error())
		return 0, false
	}
	temp, err := o.currentTemperature(ctx, lat, lon)
	if err != nil {
		o.log.Warn(ctx, "forecast failed", "city", city, "error", err.Error())
		return 0, false
	}
	return temp, true
}

func (o *OpenMeteo) locate(ctx context.Context, city string) (float64, float64, error) {
	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var geo struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := o.getJSON(ctx, o.geocodeURL+"?"+q.Encode(), &geo); err != nil {
		return 0, 0, err
	}
	if len(geo.Results) == 0 {
		return 0, 0, fmt.Errorf("no such city: %s", city)
	}
	return geo.Results[0].Latitude, geo.Results[0].Longitude, nil
}

func (o *OpenMeteo) currentTemperature(ctx context.Context, lat, lon float64) (float64, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hourly", "temperature_2m")
	q.Set("forecast_days", "1")
	q.Set("timezone", "GMT")

	var forecast struct {
		Hourly struct {
			Time          []string  `json:"time"`
			Temperature2m []float64 `json:"temperature_2m"`
		} `json:"hourly"`
	}
	if err := o.getJSON(ctx, o.forecastURL+"?"+q.Encode(), &forecast); err != nil {
		return 0, err
	}

	hour := o.now().UTC().Truncate(time.Hour).Format(hourLayout)
	for i, t := range forecast.Hourly.Time {
		if t == hour && i < len(forecast.Hourly.Temperature2m) {
			return forecast.Hourly.Temperature2m[i], nil
		}
	}
	return 0, fmt.Errorf("no forecast for %s", hour)
}

func (o *OpenMeteo) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
