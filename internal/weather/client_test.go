package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// fakeWeatherAPI serves canned OpenWeatherMap-style responses keyed by the
// "q" query parameter.
func fakeWeatherAPI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/2.5/weather" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("appid") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"cod":401,"message":"Invalid API key"}`)
			return
		}
		switch r.URL.Query().Get("q") {
		case "London":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{
				"name": "London",
				"weather": [{"main": "Rain", "description": "light rain"}],
				"main": {"temp": 14.2, "feels_like": 13.1, "humidity": 87},
				"wind": {"speed": 5.4}
			}`)
		case "Tatooine":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"cod":"404","message":"city not found"}`)
		case "Busyville":
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"cod":429,"message":"rate limited"}`)
		default:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{
				"name": "Elsewhere",
				"weather": [{"main": "Clear", "description": "clear sky"}],
				"main": {"temp": 25.0, "feels_like": 25.5, "humidity": 40},
				"wind": {"speed": 2.0}
			}`)
		}
	}))
}

func TestCurrent(t *testing.T) {
	srv := fakeWeatherAPI(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zap.NewNop())

	cond, err := c.Current(context.Background(), "London")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Location != "London" {
		t.Errorf("expected location London, got %s", cond.Location)
	}
	if !cond.Raining {
		t.Error("expected raining=true for light rain")
	}
	if cond.TempC != 14.2 {
		t.Errorf("expected temp 14.2, got %v", cond.TempC)
	}
	if cond.Humidity != 87 {
		t.Errorf("expected humidity 87, got %d", cond.Humidity)
	}
}

func TestCurrentClearSky(t *testing.T) {
	srv := fakeWeatherAPI(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zap.NewNop())

	cond, err := c.Current(context.Background(), "Elsewhere")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Raining {
		t.Error("expected raining=false for clear sky")
	}
	if cond.Description != "clear sky" {
		t.Errorf("expected description clear sky, got %s", cond.Description)
	}
}

func TestCurrentUnknownLocation(t *testing.T) {
	srv := fakeWeatherAPI(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zap.NewNop())

	_, err := c.Current(context.Background(), "Tatooine")
	if !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
}

func TestCurrentRateLimited(t *testing.T) {
	srv := fakeWeatherAPI(t)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zap.NewNop())

	_, err := c.Current(context.Background(), "Busyville")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCurrentBadCredentials(t *testing.T) {
	srv := fakeWeatherAPI(t)
	defer srv.Close()

	c := NewClient(srv.URL, "wrong-key", zap.NewNop())

	_, err := c.Current(context.Background(), "London")
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestCurrentUnreachable(t *testing.T) {
	// Point the client at a closed port.
	srv := fakeWeatherAPI(t)
	addr := srv.URL
	srv.Close()

	c := NewClient(addr, "test-key", zap.NewNop())

	_, err := c.Current(context.Background(), "London")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
