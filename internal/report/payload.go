package report

import (
	"encoding/json"
	"time"

	"arbwatch/internal/pricing"
)

type outcomePayload struct {
	Source    string  `json:"source"`
	Status    string  `json:"status"`
	Price     float64 `json:"price,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMS int64   `json:"latency_ms"`
}

type eventPayload struct {
	ID             string           `json:"id,omitempty"`
	Asset          string           `json:"asset"`
	At             time.Time        `json:"at"`
	Reason         Reason           `json:"reason"`
	CheapestSource string           `json:"cheapest_source,omitempty"`
	CheapestPrice  float64          `json:"cheapest_price,omitempty"`
	PriciestSource string           `json:"priciest_source,omitempty"`
	PriciestPrice  float64          `json:"priciest_price,omitempty"`
	Spread         float64          `json:"spread"`
	SpreadPct      float64          `json:"spread_pct"`
	Present        int              `json:"present"`
	Message        string           `json:"message,omitempty"`
	Error          string           `json:"error,omitempty"`
	Outcomes       []outcomePayload `json:"outcomes,omitempty"`
}

func newPayload(ev Event) eventPayload {
	p := eventPayload{
		Asset:  ev.Asset,
		At:     ev.At.UTC(),
		Reason: ev.Reason,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	if r := ev.Report; r != nil {
		p.ID = r.ID.String()
		p.CheapestSource = r.Cheapest.Source
		p.CheapestPrice = r.Cheapest.Price
		p.PriciestSource = r.Priciest.Source
		p.PriciestPrice = r.Priciest.Price
		p.Spread = r.Spread
		p.SpreadPct = r.SpreadPct
		p.Present = r.Present
		if r.Opportunity() {
			p.Message = r.String()
		}
	}
	for _, o := range ev.Outcomes {
		op := outcomePayload{
			Source:    o.Source,
			Status:    string(o.Status),
			LatencyMS: o.Latency.Milliseconds(),
		}
		// rejected quotes may be NaN or Inf, which JSON cannot carry
		if pricing.Finite(o.Price) {
			op.Price = o.Price
		}
		if o.Err != nil {
			op.Error = o.Err.Error()
		}
		p.Outcomes = append(p.Outcomes, op)
	}
	return p
}

// Encode renders an event as the JSON document published to Redis and Kafka.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(newPayload(ev))
}
