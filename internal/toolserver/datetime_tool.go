package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/timeparse"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// DatetimeToolName is the registry name of the datetime resolution tool.
const DatetimeToolName = "resolve_datetime"

// timePoint is how the model expresses one endpoint: a mode plus calendar
// fields. In relative mode the fields are offsets from the reference
// instant (day=-1 is yesterday); in absolute mode they are literal values.
type timePoint struct {
	Mode   string `json:"mode" validate:"required,oneof=absolute relative now" jsonschema:"enum=absolute,enum=relative,enum=now,description=absolute for literal calendar values; relative for offsets from the current moment (yesterday is day -1); now for the current instant"`
	Year   *int   `json:"year,omitempty"`
	Month  *int   `json:"month,omitempty"`
	Day    *int   `json:"day,omitempty"`
	Hour   *int   `json:"hour,omitempty"`
	Minute *int   `json:"minute,omitempty"`
}

// datetimeArgs is the argument schema advertised to the model.
type datetimeArgs struct {
	Reasoning string     `json:"reasoning,omitempty" jsonschema:"description=Short reasoning for how the datetime was extracted from the utterance"`
	Start     *timePoint `json:"start,omitempty" validate:"omitempty" jsonschema:"description=Start (or single) point in time"`
	End       *timePoint `json:"end,omitempty" validate:"omitempty" jsonschema:"description=End point when the utterance describes a range"`
	Reference string     `json:"reference,omitempty" jsonschema:"description=Optional RFC3339 reference instant overriding the server clock"`
}

// DatetimeTool resolves structured datetime specifications against a
// reference clock. It is pure with respect to its inputs: the only ambient
// dependency is the clock, which the reference argument can override.
type DatetimeTool struct {
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewDatetimeTool creates the datetime resolution tool.
func NewDatetimeTool(logger *zap.Logger) *DatetimeTool {
	return &DatetimeTool{
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

func (t *DatetimeTool) Schema() v1alpha1.ToolSchema {
	return v1alpha1.ToolSchema{
		Name: DatetimeToolName,
		Description: "Extract datetime information from the user's utterance into concrete timestamps. " +
			"Express relative phrases as offsets: yesterday is day -1, tomorrow is day 1, last month is month -1. " +
			"Provide both start and end for ranges, start alone for a single point.",
		Parameters: reflectSchema(&datetimeArgs{}),
	}
}

func (t *DatetimeTool) Invoke(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args datetimeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ArgumentError{Detail: fmt.Sprintf("decoding arguments: %v", err)}
	}
	if err := t.validate.Struct(&args); err != nil {
		return nil, &ArgumentError{Detail: fmt.Sprintf("invalid arguments: %v", err)}
	}

	ref := t.now()
	if args.Reference != "" {
		parsed, err := time.Parse(time.RFC3339, args.Reference)
		if err != nil {
			return nil, &ArgumentError{Detail: fmt.Sprintf("invalid reference instant %q: %v", args.Reference, err)}
		}
		ref = parsed
	}

	input := buildInput(args.Start, args.End)
	result := timeparse.Resolve(input, ref)

	t.logger.Debug("resolved datetime",
		zap.Bool("parsable", result.Parsable),
		zap.String("reasoning", args.Reasoning),
	)

	return result, nil
}

// buildInput converts the model-facing start/end points into a timeparse
// payload: start alone is a single instant, start plus end is a range.
func buildInput(start, end *timePoint) timeparse.Input {
	if start != nil && end != nil {
		return timeparse.Input{Range: &timeparse.Range{
			Start: start.spec(),
			End:   end.spec(),
		}}
	}
	if start != nil {
		return timeparse.Input{Single: start.spec()}
	}
	return timeparse.Input{}
}

func (p *timePoint) spec() *timeparse.Spec {
	fields := &timeparse.Fields{
		Year:   p.Year,
		Month:  p.Month,
		Day:    p.Day,
		Hour:   p.Hour,
		Minute: p.Minute,
	}
	switch p.Mode {
	case "now":
		return &timeparse.Spec{Now: true}
	case "absolute":
		return &timeparse.Spec{Absolute: fields}
	default: // relative
		return &timeparse.Spec{Relative: fields}
	}
}
