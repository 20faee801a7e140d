package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/flightagent/internal/llm"
	"github.com/aixgo-dev/flightagent/internal/workflow"
	"github.com/aixgo-dev/flightagent/pkg/apperror"
)

// Tool names exposed to the models.
const (
	FlightPriceToolName = "check_flight_price"
	WorkflowToolName    = "query_flight_and_generate_chart"
)

// GetFlightPrice returns the fare between two locations.
func GetFlightPrice(departure, destination string) (*workflow.FlightPriceInfo, error) {
	departure = strings.TrimSpace(departure)
	destination = strings.TrimSpace(destination)
	if departure == "" {
		return nil, apperror.Tool("Departure location cannot be empty")
	}
	if destination == "" {
		return nil, apperror.Tool("Destination location cannot be empty")
	}

	airline, class := "Air China", "Economy"
	return &workflow.FlightPriceInfo{
		Departure:   departure,
		Destination: destination,
		Price:       350.0,
		Currency:    workflow.DefaultCurrency,
		Airline:     &airline,
		FlightClass: &class,
	}, nil
}

// FlightPriceTool exposes GetFlightPrice to the price extractor.
func FlightPriceTool() llm.Tool {
	return llm.Tool{
		Name:        FlightPriceToolName,
		Description: "Check flight ticket prices between two locations",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "departure": {"type": "string", "description": "The departure city or airport code"},
    "destination": {"type": "string", "description": "The destination city or airport code"}
  },
  "required": ["departure", "destination"]
}`),
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			departure, err := stringArg(args, "departure")
			if err != nil {
				return nil, err
			}
			destination, err := stringArg(args, "destination")
			if err != nil {
				return nil, err
			}
			return GetFlightPrice(departure, destination)
		},
	}
}

// Runner runs the flight workflow.
type Runner interface {
	Run(ctx context.Context, query string) (string, error)
}

// RunWorkflow executes the workflow for query. Typed failures keep their
// kind; anything else is reported as a workflow error.
func RunWorkflow(ctx context.Context, runner Runner, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", apperror.Workflow("Query content cannot be empty")
	}
	out, err := runner.Run(ctx, query)
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return "", err
		}
		return "", apperror.Wrap(apperror.KindWorkflow, err, fmt.Sprintf("Failed to execute workflow: %v", err))
	}
	if out == "" {
		return "", apperror.Workflow("Workflow returned no result")
	}
	return out, nil
}

// WorkflowTool exposes the workflow to the copilot.
func WorkflowTool(runner Runner) llm.Tool {
	return llm.Tool{
		Name:        WorkflowToolName,
		Description: "Query flight prices and automatically generate a chart. Call this tool when the user asks about flight prices.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The user's flight request, e.g. 'flights from Beijing to Tokyo'"}
  },
  "required": ["query"]
}`),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			return RunWorkflow(ctx, runner, query)
		},
	}
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apperror.Tool(fmt.Sprintf("Failed to query flight price: %s must be a string", name))
	}
	return s, nil
}
