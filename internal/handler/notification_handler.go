package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"github.com/kursadbilgin/mail-dispatch/internal/queue"
	"github.com/kursadbilgin/mail-dispatch/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Enqueue(ctx context.Context, msg queue.Message) (queue.Message, error)
	EnqueueBatch(ctx context.Context, msgs []queue.Message) (int, error)
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	GetFailure(ctx context.Context, id string) (*domain.FailureRecord, error)
	ListFailures(ctx context.Context, params repository.FailureListParams) ([]domain.FailureRecord, int64, error)
	ClearTemplateCache() int
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.EnqueueMessage)
	v1.Post("/messages/batch", h.EnqueueBatch)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/failures/:id", h.GetFailure)
	v1.Get("/failures", h.ListFailures)
	v1.Delete("/templates/cache", h.ClearTemplateCache)

	return nil
}

type enqueueBatchRequest struct {
	Messages []queue.Message `json:"messages"`
}

type enqueueResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Email  string `json:"email"`
}

type enqueueBatchResponse struct {
	Status  string `json:"status"`
	Queued  int    `json:"queued"`
	Total   int    `json:"total"`
	Warning string `json:"warning,omitempty"`
}

type notificationResponse struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Recipient     string         `json:"recipient"`
	Subject       string         `json:"subject"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        string         `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	LastError     *string        `json:"lastError,omitempty"`
	CreatedAt     time.Time      `json:"createdAt,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt,omitempty"`
}

type failureResponse struct {
	ID                     string     `json:"id"`
	OriginalNotificationID *string    `json:"originalNotificationId,omitempty"`
	Type                   string     `json:"type"`
	Recipient              string     `json:"recipient"`
	Category               string     `json:"category"`
	ErrorType              string     `json:"errorType,omitempty"`
	ErrorMessage           string     `json:"errorMessage"`
	ErrorDetail            string     `json:"errorDetail,omitempty"`
	ReceiveCount           int        `json:"receiveCount"`
	Attempts               int        `json:"attempts"`
	ResolutionAction       string     `json:"resolutionAction,omitempty"`
	Resolved               bool       `json:"resolved"`
	ResolvedAt             *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy             *string    `json:"resolvedBy,omitempty"`
	Critical               bool       `json:"critical"`
	CreatedAt              time.Time  `json:"createdAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listFailuresResponse struct {
	Data []failureResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) EnqueueMessage(c *fiber.Ctx) error {
	var msg queue.Message
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	queued, err := h.service.Enqueue(c.Context(), msg)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueResponse{
		Status: "queued",
		Type:   queued.Type,
		Email:  queued.Recipient(),
	})
}

func (h *NotificationHandler) EnqueueBatch(c *fiber.Ctx) error {
	var req enqueueBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	queued, err := h.service.EnqueueBatch(c.Context(), req.Messages)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return toHTTPError(err)
		}
		if queued == 0 {
			return err
		}

		return c.Status(fiber.StatusAccepted).JSON(enqueueBatchResponse{
			Status:  "partially_queued",
			Queued:  queued,
			Total:   len(req.Messages),
			Warning: err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueBatchResponse{
		Status: "queued",
		Queued: queued,
		Total:  len(req.Messages),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	notification, err := h.service.GetNotification(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.ListNotifications(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) GetFailure(c *fiber.Ctx) error {
	record, err := h.service.GetFailure(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toFailureResponse(record))
}

func (h *NotificationHandler) ListFailures(c *fiber.Ctx) error {
	params, err := parseFailureListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, total, err := h.service.ListFailures(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]failureResponse, 0, len(records))
	for i := range records {
		data = append(data, toFailureResponse(&records[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listFailuresResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) ClearTemplateCache(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"cleared": h.service.ClearTemplateCache(),
	})
}

func parsePage(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return repository.ListParams{}, err
	}
	params := repository.ListParams{Page: page, PageSize: pageSize}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		kind, err := domain.ParseKindFromString(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Kind = &kind
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseFailureListParams(c *fiber.Ctx) (repository.FailureListParams, error) {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return repository.FailureListParams{}, err
	}
	params := repository.FailureListParams{Page: page, PageSize: pageSize}

	if rawResolved := strings.TrimSpace(c.Query("resolved")); rawResolved != "" {
		resolved, err := strconv.ParseBool(rawResolved)
		if err != nil {
			return repository.FailureListParams{}, fmt.Errorf("%w: resolved must be true or false", domain.ErrValidation)
		}
		params.Resolved = &resolved
	}

	if rawCategory := strings.TrimSpace(c.Query("category")); rawCategory != "" {
		category, err := domain.ParseCategoryFromString(rawCategory)
		if err != nil {
			return repository.FailureListParams{}, err
		}
		params.Category = &category
	}

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:            n.ID,
		Type:          n.Kind.String(),
		Recipient:     n.Recipient,
		Subject:       n.Subject,
		Payload:       n.Payload,
		Status:        n.Status.String(),
		Attempts:      n.Attempts,
		LastAttemptAt: n.LastAttemptAt,
		SentAt:        n.SentAt,
		LastError:     n.LastError,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func toFailureResponse(r *domain.FailureRecord) failureResponse {
	if r == nil {
		return failureResponse{}
	}

	return failureResponse{
		ID:                     r.ID,
		OriginalNotificationID: r.OriginalNotificationID,
		Type:                   r.Kind,
		Recipient:              r.Recipient,
		Category:               r.Category.String(),
		ErrorType:              r.ErrorType,
		ErrorMessage:           r.ErrorMessage,
		ErrorDetail:            r.ErrorDetail,
		ReceiveCount:           r.ReceiveCount,
		Attempts:               r.Attempts,
		ResolutionAction:       r.ResolutionAction.String(),
		Resolved:               r.Resolved,
		ResolvedAt:             r.ResolvedAt,
		ResolvedBy:             r.ResolvedBy,
		Critical:               r.IsCritical(),
		CreatedAt:              r.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
