package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/ledger"
	"github.com/vbonduro/shelflife/internal/record"
)

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Inventory(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": classifiedViews(items)})
}

func (s *Server) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	items, err := s.service.Expiring(r.Context(), r.PathValue("user"), days)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": classifiedViews(items)})
}

type addItemRequest struct {
	FoodName     string           `json:"food_name"`
	FoodType     string           `json:"food_type"`
	Quantity     float64          `json:"quantity"`
	QuantityUnit string           `json:"quantity_unit"`
	Weight       float64          `json:"weight"`
	WeightUnit   string           `json:"weight_unit"`
	PricePerUnit decimal.Decimal  `json:"price_per_unit"`
	Brand        string           `json:"brand"`
	ExpiryDate   string           `json:"expiry_date"`
	CO2PerUnit   *decimal.Decimal `json:"co2_per_unit"`
	Remark       string           `json:"remark"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !s.decode(w, r, &req) {
		return
	}

	var expires *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		expires = record.ParseDate(req.ExpiryDate)
		if expires == nil {
			s.writeError(w, http.StatusBadRequest, "expiry_date is not a recognised date")
			return
		}
	}

	res, err := s.service.AddItem(r.Context(), ledger.NewItem{
		Username:     r.PathValue("user"),
		FoodName:     req.FoodName,
		FoodType:     req.FoodType,
		Quantity:     req.Quantity,
		QuantityUnit: req.QuantityUnit,
		Weight:       req.Weight,
		WeightUnit:   req.WeightUnit,
		PricePerUnit: req.PricePerUnit,
		Brand:        req.Brand,
		ExpiryDate:   expires,
		CO2PerUnit:   req.CO2PerUnit,
		Remark:       req.Remark,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resultBody(res))
}

type actionRequest struct {
	Action string  `json:"action"`
	Amount float64 `json:"amount"`
	Remark string  `json:"remark"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.service.Apply(r.Context(), ledger.ActionRequest{
		Username: r.PathValue("user"),
		FoodName: r.PathValue("food"),
		Action:   domain.Action(req.Action),
		Amount:   req.Amount,
		Remark:   req.Remark,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resultBody(res))
}

func resultBody(res *ledger.Result) map[string]any {
	body := map[string]any{
		"item":   newItemView(res.Item),
		"event":  newEventView(res.Event),
		"queued": res.Queued,
	}
	if res.Clamp != nil {
		body["clamped"] = clampView{Requested: res.Clamp.Requested, Applied: res.Clamp.Applied}
	}
	return body
}

type importRequest struct {
	Rows []map[string]string `json:"rows"`
}

// handleImport accepts sheet-shaped rows. Malformed rows are skipped and
// reported back by index.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !s.decode(w, r, &req) {
		return
	}
	user := r.PathValue("user")

	items := make([]domain.InventoryItem, 0, len(req.Rows))
	skipped := make([]string, 0)
	for i, raw := range req.Rows {
		row := make(record.Row, len(raw)+1)
		for k, v := range raw {
			row[record.Canonical(k)] = strings.TrimSpace(v)
		}
		row[record.ColUsername] = user

		it, err := s.parser.ParseItem(row, i)
		if err != nil {
			s.logger.Warn("skipping malformed import row", "username", user, "row", i, "error", err)
			skipped = append(skipped, err.Error())
			continue
		}
		items = append(items, it)
	}

	imported, err := s.service.Import(r.Context(), user, items)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"imported": len(items),
		"skipped":  skipped,
		"items":    classifiedViews(imported),
	})
}
