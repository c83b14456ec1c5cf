package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vbonduro/shelflife/internal/assistant"
	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/expiry"
	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/service"
)

type itemView struct {
	FoodName     string          `json:"food_name"`
	FoodType     string          `json:"food_type,omitempty"`
	DateOfEntry  string          `json:"date_of_entry,omitempty"`
	ExpiryDate   string          `json:"expiry_date,omitempty"`
	Quantity     float64         `json:"quantity"`
	QuantityUnit string          `json:"quantity_unit,omitempty"`
	Weight       float64         `json:"weight,omitempty"`
	WeightUnit   string          `json:"weight_unit,omitempty"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Brand        string          `json:"brand,omitempty"`
	CO2PerUnit   decimal.Decimal `json:"co2_per_unit"`
	CO2Estimated bool            `json:"co2_estimated,omitempty"`
	Remark       string          `json:"remark,omitempty"`
	Status       expiry.Status   `json:"status,omitempty"`
	DaysLeft     *int            `json:"days_left,omitempty"`
}

func newItemView(it domain.InventoryItem) itemView {
	return itemView{
		FoodName:     it.FoodName,
		FoodType:     it.FoodType,
		DateOfEntry:  record.FormatDate(it.DateOfEntry),
		ExpiryDate:   record.FormatDate(it.ExpiryDate),
		Quantity:     it.Quantity,
		QuantityUnit: it.QuantityUnit,
		Weight:       it.Weight,
		WeightUnit:   it.WeightUnit,
		PricePerUnit: it.PricePerUnit,
		Brand:        it.Brand,
		CO2PerUnit:   it.CO2PerUnit,
		CO2Estimated: it.CO2Estimated,
		Remark:       it.Remark,
	}
}

func classifiedViews(cs []expiry.Classified) []itemView {
	out := make([]itemView, len(cs))
	for i, c := range cs {
		v := newItemView(c.Item)
		v.Status = c.Status
		v.DaysLeft = c.DaysLeft
		out[i] = v
	}
	return out
}

type eventView struct {
	ID            string          `json:"id"`
	FoodName      string          `json:"food_name"`
	Timestamp     time.Time       `json:"timestamp"`
	DeltaQuantity float64         `json:"delta_quantity"`
	Action        domain.Action   `json:"action"`
	Remark        string          `json:"remark,omitempty"`
	CO2Impact     decimal.Decimal `json:"co2_impact"`
	CostImpact    decimal.Decimal `json:"cost_impact"`
}

func newEventView(ev domain.LedgerEvent) eventView {
	return eventView{
		ID:            ev.ID,
		FoodName:      ev.FoodName,
		Timestamp:     ev.Timestamp,
		DeltaQuantity: ev.DeltaQuantity,
		Action:        ev.Action,
		Remark:        ev.Remark,
		CO2Impact:     ev.CO2Impact,
		CostImpact:    ev.CostImpact,
	}
}

type clampView struct {
	Requested float64 `json:"requested"`
	Applied   float64 `json:"applied"`
}

type droppedView struct {
	TxID      string    `json:"tx_id"`
	Kind      string    `json:"kind"`
	Username  string    `json:"username"`
	FoodName  string    `json:"food_name"`
	Delta     float64   `json:"delta"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}

func newDroppedView(d domain.DroppedWrite) droppedView {
	return droppedView{
		TxID:      d.TxID,
		Kind:      d.Kind,
		Username:  d.Username,
		FoodName:  d.FoodName,
		Delta:     d.Delta,
		Reason:    d.Reason,
		DroppedAt: d.DroppedAt,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses. Unexpected errors
// are logged and hidden behind a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var drop *domain.DroppedWrite
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrMalformedRecord),
		errors.Is(err, assistant.ErrUnknownIntent),
		errors.Is(err, assistant.ErrEmptyQuestion):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &drop):
		s.logger.Error("PendingWriteDropped", "tx_id", drop.TxID, "reason", drop.Reason)
		s.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "dropped": newDroppedView(*drop)})
	case errors.Is(err, service.ErrAssistantUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
