package webhook

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/tracker"
)

// Partner source identifiers carried on every ingested transition.
const (
	SourceBank         = "bank"
	SourceManufacturer = "card-manufacturer"
	SourceLogistics    = "logistics"
)

// App is the partner-facing ingestion listener. It accepts the raw webhook
// payloads the partners already send and normalizes them into tracker calls.
// Endpoints:
//
//	POST /webhook/bank/new
//	POST /webhook/bank/update
//	POST /webhook/card-manufacturer
//	POST /webhook/logistics
//	GET  /healthz
type App struct {
	svc    *tracker.Service
	logger *slog.Logger
}

func New(svc *tracker.Service, logger *slog.Logger) *App {
	return &App{svc: svc, logger: logger}
}

// Echo builds the echo engine with all routes mounted.
func (a *App) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.POST("/webhook/bank/new", a.handleBankNew)
	e.POST("/webhook/bank/update", a.handleUpdate(SourceBank))
	e.POST("/webhook/card-manufacturer", a.handleUpdate(SourceManufacturer))
	e.POST("/webhook/logistics", a.handleUpdate(SourceLogistics))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

// newCardPayload mirrors the bank's creation webhook body.
type newCardPayload struct {
	CardID        string `json:"cardId"`
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName"`
	MobileNumber  string `json:"mobileNumber"`
	PANMasked     string `json:"panMasked"`
	ApplicationID string `json:"applicationId"`
	Address       string `json:"address"`
	Priority      string `json:"priority"`
}

// updatePayload mirrors the partner status webhooks. Logistics sends
// tracking_number snake_cased; everything else is camelCase.
type updatePayload struct {
	CardID         string `json:"cardId"`
	Status         string `json:"status"`
	Location       string `json:"location"`
	OperatorID     string `json:"operatorId"`
	BatchID        string `json:"batchId"`
	Message        string `json:"message"`
	TrackingNumber string `json:"tracking_number"`
}

func (a *App) handleBankNew(c echo.Context) error {
	var p newCardPayload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid payload: "+err.Error()))
	}
	// older bank systems only send the application id
	if p.CardID == "" {
		p.CardID = p.ApplicationID
	}
	if p.Priority == "" {
		p.Priority = string(journey.PriorityStandard)
	}
	j, err := a.svc.Create(c.Request().Context(), tracker.CreateRequest{
		CardID:        p.CardID,
		CustomerID:    p.CustomerID,
		CustomerName:  p.CustomerName,
		MobileNumber:  p.MobileNumber,
		PANMasked:     p.PANMasked,
		ApplicationID: p.ApplicationID,
		Address:       p.Address,
		Priority:      p.Priority,
	})
	if err != nil {
		return a.fail(c, err)
	}
	a.logger.Info("webhook card accepted", "id", j.ID, "source", SourceBank)
	return c.JSON(http.StatusCreated, map[string]string{"id": j.ID, "stage": string(j.CurrentStage)})
}

func (a *App) handleUpdate(source string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p updatePayload
		if err := c.Bind(&p); err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid payload: "+err.Error()))
		}
		if strings.TrimSpace(p.CardID) == "" {
			return c.JSON(http.StatusBadRequest, errResp("cardId is required"))
		}
		target, err := journey.ParseStage(p.Status)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errResp(err.Error()))
		}
		j, err := a.svc.Advance(c.Request().Context(), p.CardID, target, journey.Context{
			Source:        source,
			Location:      p.Location,
			OperatorID:    p.OperatorID,
			BatchID:       p.BatchID,
			TrackingID:    p.TrackingNumber,
			FailureReason: p.Message,
		})
		if err != nil {
			return a.fail(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"id": j.ID, "stage": string(j.CurrentStage)})
	}
}

func (a *App) fail(c echo.Context, err error) error {
	kind := journey.Kind(err)
	code := http.StatusInternalServerError
	switch kind {
	case "not_found":
		code = http.StatusNotFound
	case "duplicate", "conflict":
		code = http.StatusConflict
	case "invalid_transition", "terminal":
		code = http.StatusUnprocessableEntity
	default:
		if errors.Is(err, tracker.ErrValidation) {
			code, kind = http.StatusBadRequest, "validation"
		}
	}
	a.logger.Warn("webhook rejected", "kind", kind, "error", err)
	return c.JSON(code, map[string]string{"error": err.Error(), "kind": kind})
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
