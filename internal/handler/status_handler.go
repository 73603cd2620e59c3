package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

const defaultOutcomeLimit = 20

type StatusHandler struct {
	store  domain.StatusRepository
	logger *logger.Logger
}

func NewStatusHandler(store domain.StatusRepository, log *logger.Logger) *StatusHandler {
	return &StatusHandler{
		store:  store,
		logger: log,
	}
}

// Status reports every consumer and the last outcome of every repository.
func (h *StatusHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	consumers, err := h.store.ListConsumerStates(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list consumers", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list consumers",
		})
	}

	names, err := h.store.ListRepositories(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to list repositories", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list repositories",
		})
	}

	last := make(map[string]domain.TransactionOutcome, len(names))
	for _, name := range names {
		outcomes, err := h.store.GetOutcomes(ctx, name, 1)
		if err != nil || len(outcomes) == 0 {
			continue
		}
		last[name] = outcomes[0]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"consumers":    consumers,
		"repositories": last,
	})
}

func (h *StatusHandler) Outcomes(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	limit := defaultOutcomeLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	outcomes, err := h.store.GetOutcomes(ctx, name, limit)
	if err != nil {
		if errors.Is(err, domain.ErrRepositoryNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "repository not found",
			})
		}
		h.logger.Error(ctx, "Failed to get outcomes", "repository", name, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to get outcomes",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repository": name,
		"items":      outcomes,
		"limit":      limit,
	})
}
