// Package server exposes the writer over a thin JSON-over-HTTP surface for
// in-cluster callers. The datastore core does not depend on it.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/positron/internal/datastore"
	"github.com/MarcoPoloResearchLab/positron/internal/writer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

var errMissingWriterService = errors.New("writer service dependency required")

// Dependencies wires the handler's collaborators.
type Dependencies struct {
	WriterService *writer.Service
	Logger        *zap.Logger
	// DevMode unlocks development-only routes. Outside dev mode they
	// respond 404.
	DevMode bool
}

// NewHTTPHandler builds the routed HTTP handler.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.WriterService == nil {
		return nil, errMissingWriterService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		writerService: deps.WriterService,
		logger:        logger,
	}

	group := router.Group("/internal/datastore/writer")
	group.POST("/write", handler.handleWrite)
	group.POST("/reserve_ids", handler.handleReserveIDs)
	group.POST("/delete_history_information", handler.handleDeleteHistoryInformation)

	devOnly := group.Group("/")
	devOnly.Use(requireDevMode(deps.DevMode))
	devOnly.POST("/truncate_db", handler.handleTruncateDB)

	return router, nil
}

// requestID tags every request with an id for log correlation.
func requestID() gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		id := ginContext.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ginContext.Header(requestIDHeader, id)
		ginContext.Set(requestIDHeader, id)
		ginContext.Next()
	}
}

// requireDevMode hides development-only routes outside dev mode.
func requireDevMode(devMode bool) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		if !devMode {
			ginContext.AbortWithStatus(http.StatusNotFound)
			return
		}
		ginContext.Next()
	}
}

type httpHandler struct {
	writerService *writer.Service
	logger        *zap.Logger
}

type writeEventPayload struct {
	Type       string         `json:"type"`
	Fqid       string         `json:"fqid"`
	Fields     map[string]any `json:"fields,omitempty"`
	ListFields *struct {
		Add    map[string][]any `json:"add,omitempty"`
		Remove map[string][]any `json:"remove,omitempty"`
	} `json:"list_fields,omitempty"`
}

type writeRequestPayload struct {
	UserID         int64               `json:"user_id"`
	MigrationIndex int                 `json:"migration_index"`
	Information    any                 `json:"information,omitempty"`
	Events         []writeEventPayload `json:"events"`
}

func (h *httpHandler) handleWrite(ginContext *gin.Context) {
	var payload writeRequestPayload
	if err := ginContext.ShouldBindJSON(&payload); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	intents := make([]writer.WriteIntent, 0, len(payload.Events))
	for _, eventPayload := range payload.Events {
		fqid, err := datastore.NewFqid(eventPayload.Fqid)
		if err != nil {
			h.respondError(ginContext, err)
			return
		}
		intent := writer.WriteIntent{
			Fqid:   fqid,
			Kind:   writer.IntentKind(eventPayload.Type),
			Fields: eventPayload.Fields,
		}
		if eventPayload.ListFields != nil {
			intent.ListFields = writer.ListFields{
				Add:    eventPayload.ListFields.Add,
				Remove: eventPayload.ListFields.Remove,
			}
		}
		intents = append(intents, intent)
	}

	result, err := h.writerService.InsertEvents(ginContext.Request.Context(), intents, payload.MigrationIndex, payload.Information, payload.UserID)
	if err != nil {
		h.respondError(ginContext, err)
		return
	}

	modified := make(map[string]map[string]any, len(result.ModifiedFields))
	for fqid, fields := range result.ModifiedFields {
		modified[fqid.String()] = fields
	}
	ginContext.JSON(http.StatusCreated, gin.H{
		"position":        result.Position,
		"modified_fields": modified,
	})
}

type reserveIDsPayload struct {
	Collection string `json:"collection"`
	Amount     int    `json:"amount"`
}

func (h *httpHandler) handleReserveIDs(ginContext *gin.Context) {
	var payload reserveIDsPayload
	if err := ginContext.ShouldBindJSON(&payload); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ids, err := h.writerService.ReserveNextIDs(ginContext.Request.Context(), payload.Collection, payload.Amount)
	if err != nil {
		h.respondError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"ids": ids})
}

func (h *httpHandler) handleDeleteHistoryInformation(ginContext *gin.Context) {
	if err := h.writerService.DeleteHistoryInformation(ginContext.Request.Context()); err != nil {
		h.respondError(ginContext, err)
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTruncateDB(ginContext *gin.Context) {
	if err := h.writerService.TruncateDB(ginContext.Request.Context()); err != nil {
		h.respondError(ginContext, err)
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func (h *httpHandler) respondError(ginContext *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, datastore.ErrInvalidFormat), errors.Is(err, datastore.ErrPrecondition):
		status = http.StatusBadRequest
	case errors.Is(err, datastore.ErrModelDoesNotExist):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", ginContext.GetString(requestIDHeader)),
			zap.String("path", ginContext.FullPath()),
			zap.Error(err))
	}
	ginContext.JSON(status, gin.H{"error": err.Error()})
}
