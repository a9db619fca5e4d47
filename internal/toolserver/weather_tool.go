package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/weather"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// WeatherToolName is the registry name of the weather lookup tool.
const WeatherToolName = "get_weather"

type weatherArgs struct {
	Location string `json:"location" validate:"required" jsonschema:"description=City or place name to look up,required"`
}

// WeatherTool answers current-conditions lookups by calling the external
// weather API and folding its failure modes into the tool error taxonomy.
type WeatherTool struct {
	client   *weather.Client
	validate *validator.Validate
	logger   *zap.Logger
}

// NewWeatherTool creates the weather lookup tool.
func NewWeatherTool(client *weather.Client, logger *zap.Logger) *WeatherTool {
	return &WeatherTool{
		client:   client,
		validate: validator.New(),
		logger:   logger,
	}
}

func (t *WeatherTool) Schema() v1alpha1.ToolSchema {
	return v1alpha1.ToolSchema{
		Name:        WeatherToolName,
		Description: "Get the current weather conditions (temperature, humidity, wind, precipitation) for a location.",
		Parameters:  reflectSchema(&weatherArgs{}),
	}
}

func (t *WeatherTool) Invoke(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args weatherArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ArgumentError{Detail: fmt.Sprintf("decoding arguments: %v", err)}
	}
	if err := t.validate.Struct(&args); err != nil {
		return nil, &ArgumentError{Detail: fmt.Sprintf("invalid arguments: %v", err)}
	}

	cond, err := t.client.Current(ctx, args.Location)
	if err != nil {
		// Every upstream failure mode becomes a runtime error with its own
		// detail; the transport taxonomy belongs to the tool client, not
		// to tools that executed.
		switch {
		case errors.Is(err, weather.ErrUnknownLocation):
			return nil, &RuntimeError{Detail: fmt.Sprintf("unknown location %q", args.Location)}
		case errors.Is(err, weather.ErrRateLimited):
			return nil, &RuntimeError{Detail: "weather service rate limit exceeded, try again later"}
		case errors.Is(err, weather.ErrBadCredentials):
			return nil, &RuntimeError{Detail: "weather service rejected the configured credentials"}
		default:
			return nil, &RuntimeError{Detail: fmt.Sprintf("weather service unavailable: %v", err)}
		}
	}

	t.logger.Debug("weather tool call completed",
		zap.String("location", cond.Location),
		zap.Bool("raining", cond.Raining),
	)

	return cond, nil
}
