package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/usecase"
)

type statusView struct {
	Status        string               `json:"status"`
	DefaultMode   string               `json:"default_mode"`
	OpenPositions int                  `json:"open_positions"`
	Safety        *domain.SafetyStatus `json:"safety,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	positions, err := s.core.Positions.GetPositions(r.Context(), "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := statusView{
		Status:        "ok",
		DefaultMode:   s.core.Modes.Default().ID,
		OpenPositions: len(positions),
	}

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, domain.NewValidationError("user_id", "not an integer"))
			return
		}
		st, err := s.core.Safety.Status(r.Context(), userID, r.URL.Query().Get("mode"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		view.Safety = &st
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.core.Positions.GetPositions(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	s.writeJSON(w, http.StatusOK, positions)
}

type closeRequest struct {
	SkipVerify bool `json:"skip_verify"`
	MaxRetries *int `json:"max_retries"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	symbol := r.PathValue("symbol")
	var (
		res *domain.CloseResult
		err error
	)
	if req.SkipVerify || req.MaxRetries != nil {
		opts := usecase.CloseOptions{Verify: !req.SkipVerify, MaxRetries: -1}
		if req.MaxRetries != nil {
			opts.MaxRetries = *req.MaxRetries
		}
		res, err = s.core.Positions.ClosePositionWith(r.Context(), symbol, opts)
	} else {
		res, err = s.core.Positions.ClosePosition(r.Context(), symbol)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type partialCloseRequest struct {
	Percent float64 `json:"percent"`
}

func (s *Server) handlePartialClose(w http.ResponseWriter, r *http.Request) {
	var req partialCloseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.core.Positions.PartialClose(r.Context(), r.PathValue("symbol"), req.Percent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type moveSLRequest struct {
	StopLoss float64 `json:"stop_loss"`
}

func (s *Server) handleMoveSL(w http.ResponseWriter, r *http.Request) {
	var req moveSLRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.core.Positions.MoveSL(r.Context(), r.PathValue("symbol"), req.StopLoss)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// Absent fields keep the stop currently on the position.
type tradingStopRequest struct {
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

func (s *Server) handleTradingStop(w http.ResponseWriter, r *http.Request) {
	var req tradingStopRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.core.Stops.UpdateTradingStop(r.Context(), r.PathValue("symbol"), req.StopLoss, req.TakeProfit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type breakevenRequest struct {
	BufferPct *float64 `json:"buffer_pct"`
}

type breakevenView struct {
	Moved  bool                      `json:"moved"`
	Result *domain.TradingStopResult `json:"result,omitempty"`
}

func (s *Server) handleBreakeven(w http.ResponseWriter, r *http.Request) {
	var req breakevenRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	buffer := -1.0
	if req.BufferPct != nil {
		buffer = *req.BufferPct
	}
	moved, res, err := s.core.Stops.MoveToBreakeven(r.Context(), r.PathValue("symbol"), buffer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, breakevenView{Moved: moved, Result: res})
}

// A ladder is given either as explicit levels or as percent targets of the live size.
type ladderRequest struct {
	Side       domain.Side          `json:"side"`
	Levels     []domain.LadderLevel `json:"levels"`
	Targets    []domain.TPTarget    `json:"targets"`
	LinkPrefix string               `json:"link_prefix"`
}

type ladderFailure struct {
	errorBody
	Placed []*domain.OrderHandle `json:"placed"`
}

func (s *Server) handleLadder(w http.ResponseWriter, r *http.Request) {
	var req ladderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	symbol := r.PathValue("symbol")

	levels := req.Levels
	if len(levels) == 0 && len(req.Targets) > 0 {
		pos, err := s.core.Positions.GetPosition(ctx, symbol)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		inst, err := s.core.Catalog.Get(ctx, symbol)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		levels, err = usecase.BuildLadderLevels(req.Targets, pos.Size, inst)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	handles, err := s.core.Stops.PlaceLadderTP(ctx, symbol, req.Side, levels, req.LinkPrefix)
	if err != nil && len(handles) > 0 {
		// Rungs already placed stay open; report them so the caller can cancel.
		status, kind := statusFor(err)
		s.writeJSON(w, status, ladderFailure{errorBody{Error: err.Error(), Kind: kind}, handles})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, handles)
}

func (s *Server) handleClosedPnL(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, domain.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	records, err := s.core.Positions.GetClosedPnL(r.Context(), r.PathValue("symbol"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.ClosedPnL{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

type placeOrderRequest struct {
	domain.OrderSpec
	WaitFill      bool `json:"wait_fill"`
	FillTimeoutMs int  `json:"fill_timeout_ms"`
}

type placeOrderView struct {
	Handle *domain.OrderHandle `json:"handle"`
	Fill   *domain.Order       `json:"fill,omitempty"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	handle, err := s.core.Orders.PlaceOrder(r.Context(), req.OrderSpec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := placeOrderView{Handle: handle}

	if req.WaitFill {
		timeout := time.Duration(req.FillTimeoutMs) * time.Millisecond
		fill, err := s.core.Orders.WaitUntilFilled(r.Context(), handle, timeout, 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		view.Fill = fill
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.core.Orders.GetOpenOrders(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	orderID := r.PathValue("orderId")

	// "prefix:<tag>" cancels every open order whose link id starts with tag.
	if prefix, ok := strings.CutPrefix(orderID, "prefix:"); ok {
		ids, err := s.core.Orders.CancelOrdersByPrefix(r.Context(), symbol, prefix)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string][]string{"cancelled": ids})
		return
	}

	handle := &domain.OrderHandle{Symbol: symbol, OrderID: orderID}
	if err := s.core.Orders.CancelOrder(r.Context(), handle); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"cancelled": {orderID}})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.core.Modes.List())
}

type riskCheckRequest struct {
	UserID  int64   `json:"user_id"`
	Mode    string  `json:"mode"`
	RiskUSD float64 `json:"risk_usd"`
	Symbol  string  `json:"symbol"`
}

type riskCheckView struct {
	Allowed bool                      `json:"allowed"`
	Safety  domain.SafetyCheckResult  `json:"safety"`
	Symbol  *domain.SymbolCheckResult `json:"symbol,omitempty"`
}

func (s *Server) handleRiskCheck(w http.ResponseWriter, r *http.Request) {
	var req riskCheckRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	safety, err := s.core.Safety.CheckCanTrade(r.Context(), req.UserID, req.Mode, req.RiskUSD)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := riskCheckView{Allowed: safety.Allowed, Safety: safety}
	if req.Symbol != "" {
		sym := s.core.Symbols.CheckSymbol(r.Context(), req.Symbol, req.Mode)
		view.Symbol = &sym
		view.Allowed = view.Allowed && sym.Allowed
	}
	s.writeJSON(w, http.StatusOK, view)
}

type recordResultRequest struct {
	UserID int64  `json:"user_id"`
	Mode   string `json:"mode"`
	Win    bool   `json:"win"`
}

func (s *Server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	var req recordResultRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.core.Safety.RecordTradeResult(r.Context(), req.UserID, req.Mode, req.Win); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type positionParamsRequest struct {
	Mode       string   `json:"mode"`
	RiskUSD    float64  `json:"risk_usd"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	Leverage   int      `json:"leverage"`
	Confidence *float64 `json:"confidence"`
}

func (s *Server) handlePositionParams(w http.ResponseWriter, r *http.Request) {
	var req positionParamsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	confidence := usecase.NoConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	params, err := s.core.CalculatePositionParams(req.Mode, req.RiskUSD, req.EntryPrice, req.StopLoss, req.Leverage, confidence)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleSymbolCheck(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeError(w, r, domain.NewValidationError("symbol", "required"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.core.Symbols.CheckSymbol(r.Context(), symbol, r.URL.Query().Get("mode")))
}
