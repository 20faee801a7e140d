package workflow

import "context"

// DefaultCurrency is applied when the extractor leaves Currency empty.
const DefaultCurrency = "USD"

// FlightPriceInfo is the structured result of the price stage.
type FlightPriceInfo struct {
	Departure   string  `json:"departure"`
	Destination string  `json:"destination"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Airline     *string `json:"airline"`
	FlightClass *string `json:"flight_class"`
}

// Extractor turns a free-text query into a price record. A nil record with a
// nil error means the query named no recognizable route.
type Extractor interface {
	ExtractFlightPrice(ctx context.Context, query string) (*FlightPriceInfo, error)
}

// ChartRenderer renders a price payload through a streaming chart capability.
type ChartRenderer interface {
	RenderStream(ctx context.Context, payload string) (FragmentStream, error)
}

// FragmentStream yields text fragments in order. Recv returns io.EOF after
// the last fragment.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}
