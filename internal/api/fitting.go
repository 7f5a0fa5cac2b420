package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/shoplens/stylist/internal/identity"
	"github.com/shoplens/stylist/internal/poll"
	"github.com/shoplens/stylist/internal/remote"
)

type fittingRequest struct {
	ProductID    int64  `json:"product_id"`
	UserImageURL string `json:"user_image_url"`
}

type fittingResponse struct {
	FittingID int64  `json:"fitting_id"`
	ResultURL string `json:"result_url"`
}

func (h *Handler) decodeFittingRequest(w http.ResponseWriter, r *http.Request) (*fittingRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)

	var req fittingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if req.ProductID <= 0 {
		h.Error(w, http.StatusBadRequest, "product_id is required")
		return nil, false
	}
	if req.UserImageURL == "" {
		h.Error(w, http.StatusBadRequest, "user_image_url is required")
		return nil, false
	}
	return &req, true
}

// HandleFittingDetail handles POST /api/fittings/detail, used by the product
// detail panel. The creation response already carries a status, so it is
// consumed as the first polling attempt, and the artifact lives at a separate
// result resource.
func (h *Handler) HandleFittingDetail(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeFittingRequest(w, r)
	if !ok {
		return
	}

	job, err := h.client.RequestFitting(r.Context(), req.ProductID, req.UserImageURL)
	if err != nil {
		slog.Error("fitting request failed", "product_id", req.ProductID, "error", err)
		h.Error(w, http.StatusBadGateway, "could not start fitting")
		return
	}

	status, err := poll.Poll(r.Context(), h.fittingStatusFetch(job.FittingID), poll.Options[*remote.FittingStatus]{
		Interval:    h.cfg.Poll.Interval,
		MaxAttempts: h.cfg.Poll.MaxAttempts,
		IsTerminal:  domain.IsTerminalStatus,
		IsSuccess:   domain.IsSuccessStatus,
		Initial: &poll.Tick[*remote.FittingStatus]{
			Status:  job.Status,
			Payload: &remote.FittingStatus{Status: job.Status, ResultURL: job.ResultURL},
		},
		FetchResult: func(ctx context.Context) (*remote.FittingStatus, error) {
			res, resErr := h.client.FittingResult(ctx, job.FittingID)
			if resErr != nil {
				return nil, resErr
			}
			return &remote.FittingStatus{Status: domain.StatusDone, ResultURL: res.ResultURL}, nil
		},
	})
	if err != nil {
		h.writeFittingError(w, job.FittingID, err)
		return
	}

	h.JSON(w, http.StatusOK, fittingResponse{FittingID: job.FittingID, ResultURL: status.ResultURL})
}

// HandleFittingFeed handles POST /api/fittings/feed, used by the discovery
// feed. The feed's status endpoint embeds the artifact URL in the terminal
// status payload; the result resource is only consulted when that URL is
// missing.
func (h *Handler) HandleFittingFeed(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeFittingRequest(w, r)
	if !ok {
		return
	}

	job, err := h.client.RequestFitting(r.Context(), req.ProductID, req.UserImageURL)
	if err != nil {
		slog.Error("fitting request failed", "product_id", req.ProductID, "error", err)
		h.Error(w, http.StatusBadGateway, "could not start fitting")
		return
	}

	status, err := poll.Poll(r.Context(), h.fittingStatusFetch(job.FittingID), poll.Options[*remote.FittingStatus]{
		Interval:    h.cfg.Poll.Interval,
		MaxAttempts: h.cfg.Poll.MaxAttempts,
		IsTerminal:  domain.IsTerminalStatus,
		IsSuccess:   domain.IsSuccessStatus,
	})
	if err != nil {
		h.writeFittingError(w, job.FittingID, err)
		return
	}

	resultURL := status.ResultURL
	if resultURL == "" {
		res, resErr := h.client.FittingResult(r.Context(), job.FittingID)
		if resErr != nil {
			slog.Error("fitting result fetch failed", "fitting_id", job.FittingID, "error", resErr)
			h.Error(w, http.StatusBadGateway, "fitting finished but its result is unavailable")
			return
		}
		resultURL = res.ResultURL
	}

	h.JSON(w, http.StatusOK, fittingResponse{FittingID: job.FittingID, ResultURL: resultURL})
}

// sheetPollMaxAttempts bounds the bottom-sheet flow more tightly than the
// default budget. The sheet is modal, so a shorter wait beats a long spinner.
const sheetPollMaxAttempts = 10

// HandleFittingSheet handles POST /api/fittings/sheet, used by the size
// selection bottom sheet.
func (h *Handler) HandleFittingSheet(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeFittingRequest(w, r)
	if !ok {
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	if !h.limiter.Allow(userID) {
		h.Error(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
		return
	}

	job, err := h.client.RequestFitting(r.Context(), req.ProductID, req.UserImageURL)
	if err != nil {
		slog.Error("fitting request failed", "product_id", req.ProductID, "error", err)
		h.Error(w, http.StatusBadGateway, "could not start fitting")
		return
	}

	status, err := poll.Poll(r.Context(), h.fittingStatusFetch(job.FittingID), poll.Options[*remote.FittingStatus]{
		Interval:    h.cfg.Poll.Interval,
		MaxAttempts: sheetPollMaxAttempts,
		IsTerminal:  domain.IsTerminalStatus,
		IsSuccess:   domain.IsSuccessStatus,
		Initial: &poll.Tick[*remote.FittingStatus]{
			Status:  job.Status,
			Payload: &remote.FittingStatus{Status: job.Status, ResultURL: job.ResultURL},
		},
		FetchResult: func(ctx context.Context) (*remote.FittingStatus, error) {
			res, resErr := h.client.FittingResult(ctx, job.FittingID)
			if resErr != nil {
				return nil, resErr
			}
			return &remote.FittingStatus{Status: domain.StatusDone, ResultURL: res.ResultURL}, nil
		},
	})
	if err != nil {
		h.writeFittingError(w, job.FittingID, err)
		return
	}

	h.JSON(w, http.StatusOK, fittingResponse{FittingID: job.FittingID, ResultURL: status.ResultURL})
}

func (h *Handler) fittingStatusFetch(fittingID int64) func(ctx context.Context) (poll.Tick[*remote.FittingStatus], error) {
	return func(ctx context.Context) (poll.Tick[*remote.FittingStatus], error) {
		status, err := h.client.FittingStatus(ctx, fittingID)
		if err != nil {
			return poll.Tick[*remote.FittingStatus]{}, err
		}
		return poll.Tick[*remote.FittingStatus]{Status: status.Status, Payload: status}, nil
	}
}

func (h *Handler) writeFittingError(w http.ResponseWriter, fittingID int64, err error) {
	var failed *poll.FailedError
	switch {
	case errors.Is(err, poll.ErrTimeout):
		slog.Warn("fitting timed out", "fitting_id", fittingID)
		h.Error(w, http.StatusGatewayTimeout, "fitting took too long, please try again")
	case errors.As(err, &failed):
		slog.Warn("fitting failed", "fitting_id", fittingID, "status", failed.Status)
		h.Error(w, http.StatusBadGateway, "fitting failed, please try a different photo")
	case errors.Is(err, poll.ErrCancelled):
		h.Error(w, http.StatusRequestTimeout, "request cancelled")
	default:
		slog.Error("fitting poll failed", "fitting_id", fittingID, "error", err)
		h.Error(w, http.StatusBadGateway, "fitting status is unavailable, please try again")
	}
}
