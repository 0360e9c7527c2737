// Package api exposes the request intake, cancellation and status endpoints.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/monitoring"
	"github.com/kilianp07/dronedispatch/core/requests"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

type createRequest struct {
	Origin      string  `json:"origin_latlong" binding:"required"`
	Destination string  `json:"dest_latlong" binding:"required"`
	Weight      float64 `json:"weight" binding:"required"`
}

type cancelRequest struct {
	RequestID string `json:"request_id" binding:"required"`
}

type ackResponse struct {
	RequestID string              `json:"request_id"`
	Status    model.RequestStatus `json:"status"`
}

type statusResponse struct {
	RequestID             string              `json:"request_id"`
	Origin                string              `json:"origin_latlong"`
	Destination           string              `json:"dest_latlong"`
	Weight                float64             `json:"weight"`
	Status                model.RequestStatus `json:"curr_status"`
	DroneID               string              `json:"drone_id,omitempty"`
	CurrentPosition       string              `json:"curr_latlong,omitempty"`
	DistanceToDestination *float64            `json:"distance_to_destination,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

type droneResponse struct {
	DroneID        string            `json:"drone_id"`
	Position       string            `json:"curr_latlong,omitempty"`
	Battery        *float64          `json:"curr_battery,omitempty"`
	Status         model.DroneStatus `json:"curr_status"`
	CurrentRequest string            `json:"curr_request_id,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Handler serves the HTTP surface over the request and fleet stores.
type Handler struct {
	requests requests.Store
	fleet    fleet.Store
	logger   logger.Logger
}

func NewHandler(r requests.Store, f fleet.Store, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{requests: r, fleet: f, logger: log}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/request", h.Create)
	r.POST("/cancel", h.Cancel)
	r.GET("/status/:id", h.Status)
	r.GET("/drones", h.Drones)
	r.GET("/health", h.Health)
}

// Create registers a new pending request.
func (h *Handler) Create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	origin, err := geo.ParseLatLong(body.Origin)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	dest, err := geo.ParseLatLong(body.Destination)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	candidate := model.Request{Origin: origin, Destination: dest, Weight: body.Weight}
	if err := requests.Validate(candidate); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	req, err := h.requests.Create(c.Request.Context(), candidate)
	if err != nil {
		h.writeStoreError(c, "create", err)
		return
	}
	h.logger.Infof("request %s created origin=%s dest=%s weight=%.2f", req.ID, origin, dest, req.Weight)
	writeJSON(c, http.StatusCreated, ackResponse{RequestID: req.ID, Status: req.Status})
}

// Cancel moves an active request to cancelling. The engine sends the cancel
// command and finalizes it.
func (h *Handler) Cancel(c *gin.Context) {
	var body cancelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := h.requests.MarkStatus(ctx, body.RequestID, model.RequestCancelling); err != nil {
		h.writeStoreError(c, "cancel", err)
		return
	}
	h.logger.Infof("request %s cancelling", body.RequestID)
	writeJSON(c, http.StatusOK, ackResponse{RequestID: body.RequestID, Status: model.RequestCancelling})
}

// Status returns the request and its live distance to destination.
func (h *Handler) Status(c *gin.Context) {
	req, err := h.requests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, "status", err)
		return
	}
	writeJSON(c, http.StatusOK, newStatusResponse(req))
}

// Drones lists every registered drone.
func (h *Handler) Drones(c *gin.Context) {
	drones, err := h.fleet.List(c.Request.Context())
	if err != nil {
		h.writeStoreError(c, "drones", err)
		return
	}
	out := make([]droneResponse, 0, len(drones))
	for _, d := range drones {
		dr := droneResponse{
			DroneID:        d.ID,
			Battery:        d.Battery,
			Status:         d.Status,
			CurrentRequest: d.CurrentRequest,
			UpdatedAt:      d.UpdatedAt,
		}
		if d.Position != nil {
			dr.Position = d.Position.String()
		}
		out = append(out, dr)
	}
	writeJSON(c, http.StatusOK, out)
}

func (h *Handler) Health(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func newStatusResponse(r model.Request) statusResponse {
	res := statusResponse{
		RequestID:   r.ID,
		Origin:      r.Origin.String(),
		Destination: r.Destination.String(),
		Weight:      r.Weight,
		Status:      r.Status,
		DroneID:     r.AssignedDrone,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.CurrentPosition != nil {
		res.CurrentPosition = r.CurrentPosition.String()
		d := geo.Distance(*r.CurrentPosition, r.Destination)
		res.DistanceToDestination = &d
	}
	return res
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func (h *Handler) writeStoreError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, requests.ErrUnknownRequest):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, requests.ErrDuplicate),
		errors.Is(err, requests.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	default:
		h.logger.Errorf("%s: %v", op, err)
		monitoring.CaptureException(err, map[string]string{"module": "api", "op": op})
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
