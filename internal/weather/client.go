// Package weather wraps the external current-conditions HTTP API used by
// the weather tool. API failure modes are mapped onto sentinel errors so
// the tool provider can classify them instead of leaking transport errors.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for the weather API's failure modes.
var (
	ErrUnknownLocation = errors.New("unknown location")
	ErrRateLimited     = errors.New("weather api rate limit exceeded")
	ErrBadCredentials  = errors.New("weather api rejected credentials")
	ErrUnavailable     = errors.New("weather api unreachable")
)

// DefaultBaseURL is the OpenWeatherMap API root.
const DefaultBaseURL = "https://api.openweathermap.org"

// Client calls the current-conditions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a weather client. baseURL may be empty to use the
// public API; tests point it at a local fake.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Conditions is the structured result of a current-conditions lookup.
type Conditions struct {
	Location    string  `json:"location"`
	Description string  `json:"description"`
	TempC       float64 `json:"tempC"`
	FeelsLikeC  float64 `json:"feelsLikeC"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Raining     bool    `json:"raining"`
}

// apiResponse maps the subset of the OpenWeatherMap payload we use.
type apiResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Message string `json:"message"`
}

// Current fetches the current conditions for a free-text location.
func (c *Client) Current(ctx context.Context, location string) (*Conditions, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	endpoint := c.baseURL + "/data/2.5/weather?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create weather request: %w", err)
	}

	c.logger.Debug("fetching current conditions", zap.String("location", location))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decoding below
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, location)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrBadCredentials
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}

	cond := &Conditions{
		Location:   payload.Name,
		TempC:      payload.Main.Temp,
		FeelsLikeC: payload.Main.FeelsLike,
		Humidity:   payload.Main.Humidity,
		WindSpeed:  payload.Wind.Speed,
	}
	if cond.Location == "" {
		cond.Location = location
	}
	if len(payload.Weather) > 0 {
		cond.Description = payload.Weather[0].Description
		switch payload.Weather[0].Main {
		case "Rain", "Drizzle", "Thunderstorm":
			cond.Raining = true
		}
	}

	c.logger.Debug("weather lookup completed",
		zap.String("location", cond.Location),
		zap.Float64("tempC", cond.TempC),
		zap.Bool("raining", cond.Raining),
	)

	return cond, nil
}
