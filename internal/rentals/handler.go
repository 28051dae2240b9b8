package rentals

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/equiprent/equiprent/internal/catalog"
	"github.com/equiprent/equiprent/internal/platform/httpx"
	"github.com/equiprent/equiprent/internal/shared"
)

// IdempotencyHeader carries the client-chosen UUID for create requests.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes rental endpoints as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rental routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/conflicts", h.conflicts)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/products", h.products)
}

// MountProductRoutes registers rental views nested under a product router.
func (h *Handler) MountProductRoutes(r chi.Router) {
	r.Get("/{id}/rentals", h.forProduct)
}

type rentalRequest struct {
	ProjectNumber string  `json:"project_number"`
	ProductIDs    []int64 `json:"product_ids"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
}

func (req rentalRequest) input() (Input, error) {
	start, err := shared.ParseDate(req.StartDate)
	if err != nil {
		return Input{}, err
	}
	end, err := shared.ParseDate(req.EndDate)
	if err != nil {
		return Input{}, err
	}
	return Input{ProjectNumber: req.ProjectNumber, ProductIDs: req.ProductIDs, Start: start, End: end}, nil
}

type conflictRequest struct {
	ProductIDs []int64 `json:"product_ids"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	ExcludeID  int64   `json:"exclude_id"`
}

type rentalResponse struct {
	ID            int64   `json:"id"`
	ProjectNumber string  `json:"project_number"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	ProductIDs    []int64 `json:"product_ids"`
}

type summaryResponse struct {
	ID            int64    `json:"id"`
	ProjectNumber string   `json:"project_number"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	ProductNames  []string `json:"product_names"`
}

func toSummaryResponses(summaries []Summary) []summaryResponse {
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		names := s.ProductNames
		if names == nil {
			names = []string{}
		}
		out = append(out, summaryResponse{
			ID:            s.ID,
			ProjectNumber: s.ProjectNumber,
			StartDate:     shared.FormatDate(s.Start),
			EndDate:       shared.FormatDate(s.End),
			ProductNames:  names,
		})
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, "list rentals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSummaryResponses(summaries))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req rentalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var opts CreateOptions
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		parsed, err := uuid.Parse(key)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("%s must be a UUID", IdempotencyHeader))
			return
		}
		opts.IdempotencyKey = parsed.String()
	}
	id, err := h.service.Create(r.Context(), input, opts)
	if err != nil {
		h.fail(w, r, "create rental", err)
		return
	}
	h.logger.Info("rental created", slog.Int64("rental_id", id), slog.String("project_number", input.ProjectNumber))
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) conflicts(w http.ResponseWriter, r *http.Request) {
	var req conflictRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, err := shared.ParseDate(req.StartDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := shared.ParseDate(req.EndDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	conflict, err := h.service.HasConflict(r.Context(), req.ProductIDs, DateRange{Start: start, End: end}, req.ExcludeID)
	if err != nil {
		h.fail(w, r, "check rental conflict", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"conflict": conflict})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rental, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get rental", err)
		return
	}
	ids := rental.ProductIDs
	if ids == nil {
		ids = []int64{}
	}
	httpx.JSON(w, http.StatusOK, rentalResponse{
		ID:            rental.ID,
		ProjectNumber: rental.ProjectNumber,
		StartDate:     shared.FormatDate(rental.Start),
		EndDate:       shared.FormatDate(rental.End),
		ProductIDs:    ids,
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req rentalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), id, input); err != nil {
		h.fail(w, r, "update rental", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete rental", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) products(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	products, err := h.service.Products(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list rental products", err)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) forProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summaries, err := h.service.ForProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list product rentals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSummaryResponses(summaries))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	problem := httpx.ProblemFor(err)
	switch {
	case problem.Status >= http.StatusInternalServerError:
		h.logger.Error(msg, slog.Any("error", err), slog.String("path", r.URL.Path))
	case problem.Status == http.StatusConflict:
		h.logger.Info(msg, slog.String("outcome", "conflict"), slog.Any("product_ids", problem.ProductIDs))
	}
	httpx.JSON(w, problem.Status, problem)
}
