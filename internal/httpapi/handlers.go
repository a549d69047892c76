package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/db"
	"horse.fit/insurewatch/internal/globaltime"
	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/source"
)

const healthPingTimeout = 2 * time.Second

func (s *Server) handleHealth(c echo.Context) error {
	database := "disabled"
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("database ping failed")
			return failUnavailable(c, "Database unavailable")
		}
		database = "ok"
	}

	return success(c, map[string]any{
		"service":  "insurewatch",
		"database": database,
		"time":     globaltime.UTC(),
	})
}

func (s *Server) handleEntities(c echo.Context) error {
	cat, err := s.catalog(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load catalog failed")
		return internalError(c, "Failed to load entities")
	}

	return success(c, map[string]any{
		"items":    cat.Entities(),
		"sentinel": cat.Sentinel(),
		"count":    cat.Len(),
	})
}

// handleCreateRun accepts a JSON array or JSONL batch of article payloads
// and runs it synchronously. ?persist=true stores the run.
func (s *Server) handleCreateRun(c echo.Context) error {
	persist, err := parseOptionalBool(c.QueryParam("persist"))
	if err != nil {
		return failValidation(c, map[string]string{"persist": err.Error()})
	}
	wantPersist := persist != nil && *persist
	if wantPersist && s.store == nil {
		return failUnavailable(c, "Run persistence is not configured")
	}

	articles, err := source.Decode(c.Request().Body, source.Options{})
	if err != nil {
		return failValidation(c, map[string]string{"articles": err.Error()})
	}
	if len(articles) > s.opts.MaxBatch {
		return failValidation(c, map[string]string{
			"articles": "batch exceeds " + strconv.Itoa(s.opts.MaxBatch) + " items",
		})
	}

	ctx := c.Request().Context()
	cat, err := s.catalog(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("load catalog failed")
		return internalError(c, "Failed to load entities")
	}

	run, err := s.runner.Run(ctx, articles, cat)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrEmptyCatalog):
			return fail(c, http.StatusConflict, "Catalog has no matchable entities", nil)
		case errors.Is(err, news.ErrNoArticles), errors.Is(err, news.ErrInvalidArticle):
			return failValidation(c, map[string]string{"articles": err.Error()})
		default:
			s.logger.Error().Err(err).Int("articles", len(articles)).Msg("match run failed")
			return internalError(c, "Match run failed")
		}
	}

	if !wantPersist {
		return success(c, run)
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.RunID).Msg("persist run failed")
		return internalError(c, "Failed to persist run")
	}
	return successWithStatus(c, http.StatusCreated, run)
}

func (s *Server) handleGetRun(c echo.Context) error {
	runID := strings.TrimSpace(c.Param("run_id"))
	if _, err := uuid.Parse(runID); err != nil {
		return failValidation(c, map[string]string{"run_id": "must be a UUID"})
	}
	if s.store == nil {
		return failUnavailable(c, "Run persistence is not configured")
	}

	run, err := s.store.GetRun(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			return failNotFound(c, "Run not found")
		}
		s.logger.Error().Err(err).Str("run_id", runID).Msg("query run failed")
		return internalError(c, "Failed to load run")
	}
	return success(c, run)
}

func (s *Server) handleMatches(c echo.Context) error {
	if s.store == nil {
		return failUnavailable(c, "Run persistence is not configured")
	}

	fieldErrors := map[string]string{}
	filter := db.ArticleMatchFilter{}

	if v := strings.TrimSpace(c.QueryParam("run_id")); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			fieldErrors["run_id"] = "must be a UUID"
		}
		filter.RunID = v
	}
	if v := strings.TrimSpace(c.QueryParam("entity_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fieldErrors["entity_id"] = "must be an integer"
		}
		filter.EntityID = &id
	}
	switch method := news.Method(strings.TrimSpace(c.QueryParam("method"))); method {
	case "", news.MethodExactName, news.MethodAI, news.MethodUnmatched:
		filter.Method = method
	default:
		fieldErrors["method"] = "must be exact-name, ai-disambiguation or unmatched"
	}
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		fieldErrors["since"] = "must be RFC3339 or YYYY-MM-DD"
	}
	filter.Since = since
	limit, err := parsePositiveInt(c.QueryParam("limit"), db.DefaultMatchListLimit, 1, db.MaxMatchListLimit)
	if err != nil {
		fieldErrors["limit"] = err.Error()
	}
	filter.Limit = limit

	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	items, err := s.store.ListArticleMatches(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query article matches failed")
		return internalError(c, "Failed to load matches")
	}
	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}

func (s *Server) handleEvents(c echo.Context) error {
	if s.store == nil {
		return failUnavailable(c, "Event log is not configured")
	}

	fieldErrors := map[string]string{}
	filter := db.APIEventFilter{
		EventType: strings.TrimSpace(c.QueryParam("type")),
		APIName:   strings.TrimSpace(c.QueryParam("api")),
	}

	if v := strings.TrimSpace(c.QueryParam("run_id")); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			fieldErrors["run_id"] = "must be a UUID"
		}
		filter.RunID = v
	}
	successFilter, err := parseOptionalBool(c.QueryParam("success"))
	if err != nil {
		fieldErrors["success"] = err.Error()
	}
	filter.Success = successFilter
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		fieldErrors["since"] = "must be RFC3339 or YYYY-MM-DD"
	}
	filter.Since = since
	limit, err := parsePositiveInt(c.QueryParam("limit"), db.DefaultEventListLimit, 1, db.MaxEventListLimit)
	if err != nil {
		fieldErrors["limit"] = err.Error()
	}
	filter.Limit = limit

	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	items, err := s.store.ListAPIEvents(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query api events failed")
		return internalError(c, "Failed to load events")
	}
	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}
