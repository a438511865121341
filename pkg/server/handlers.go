// Copyright 2025 Certen Protocol
//
// HTTP handlers for the ingestion API. Manual net/http, no router
// framework: each handler checks its own method and parses its own path,
// so the surface stays small. Error bodies carry the service's
// internal error codes alongside the HTTP status.

package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/bitacora/pkg/coordinator"
	"github.com/certen/bitacora/pkg/domain"
	"github.com/certen/bitacora/pkg/identifier"
	"github.com/certen/bitacora/pkg/merkle"
	"github.com/certen/bitacora/pkg/notarizer"
	"github.com/certen/bitacora/pkg/storage"
)

// Internal error codes carried in every error body.
const (
	codeAlreadyExists = 1001
	codeNotFound      = 1002
	codeBadData       = 1003
	codeChain         = 1004
	codePartial       = 1100
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// Handlers serves the ingestion API over the coordinator.
type Handlers struct {
	coord        *coordinator.Coordinator
	logger       *log.Logger
	defaultLimit uint32

	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
}

// Option configures Handlers.
type Option func(*Handlers)

// WithDefaultDatasetLimit sets the dataset limit applied to device
// registrations that omit one.
func WithDefaultDatasetLimit(n uint32) Option {
	return func(h *Handlers) {
		if n > 0 {
			h.defaultLimit = n
		}
	}
}

// New builds Handlers, registering its metrics on reg.
func New(coord *coordinator.Coordinator, logger *log.Logger, reg prometheus.Registerer, opts ...Option) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[bitacora] ", log.LstdFlags)
	}
	h := &Handlers{
		coord:        coord,
		logger:       logger,
		defaultLimit: defaultDatasetLimit,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitacora_http_requests_total",
			Help: "HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitacora_http_errors_total",
			Help: "HTTP requests that ended in an error response, by route.",
		}, []string{"route"}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if reg != nil {
		reg.MustRegister(h.requestsTotal, h.errorsTotal)
	}
	return h
}

// Mux returns a ServeMux with every route wired.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/device", h.handleDevice)
	mux.HandleFunc("/device/", h.handleDeviceByID)
	mux.HandleFunc("/flight_data", h.handleFlightData)
	mux.HandleFunc("/flight_data/", h.handleFlightDataByID)
	mux.HandleFunc("/dataset/", h.handleDatasetByID)
	return mux
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	const route = "/healthz"
	if r.Method != http.MethodGet {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}
	if err := h.coord.Health(r.Context()); err != nil {
		h.logger.Printf("healthz: %v", err)
		h.writeError(w, route, http.StatusServiceUnavailable, codeChain, "unhealthy", err.Error())
		return
	}
	h.writeJSON(w, route, http.StatusOK, map[string]string{"status": "ok"})
}

type registerDeviceRequest struct {
	PublicKey    string `json:"pk"`
	DatasetLimit uint32 `json:"dataset_limit,omitempty"`
}

func (h *Handlers) handleDevice(w http.ResponseWriter, r *http.Request) {
	const route = "/device"
	if r.Method != http.MethodPost {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed request body", err.Error())
		return
	}
	pk, err := identifier.FromHex(req.PublicKey)
	if err != nil {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed pk", "pk must be 0x-prefixed 64 hex characters")
		return
	}
	limit := req.DatasetLimit
	if limit == 0 {
		limit = h.defaultLimit
	}

	device, err := h.coord.RegisterDevice(r.Context(), pk, limit)
	if err != nil {
		h.writeDomainError(w, route, err)
		return
	}
	h.writeJSON(w, route, http.StatusCreated, device)
}

func (h *Handlers) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	const route = "/device/{id}"
	if r.Method != http.MethodGet {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/device/")
	if id == "" {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "device id is required", "")
		return
	}
	device, err := h.coord.Device(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, route, err)
		return
	}
	h.writeJSON(w, route, http.StatusOK, device)
}

type newFlightDataRequest struct {
	DeviceID     string              `json:"device_id"`
	Timestamp    uint64              `json:"timestamp"`
	Localization domain.Localization `json:"localization"`
	Payload      string              `json:"payload"` // base64
	Signature    string              `json:"signature"`
}

func (h *Handlers) handleFlightData(w http.ResponseWriter, r *http.Request) {
	const route = "/flight_data"
	if r.Method != http.MethodPost {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}

	var req newFlightDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed request body", err.Error())
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed payload", "payload must be base64")
		return
	}

	record, dataset, err := h.coord.NewFlightData(r.Context(), req.DeviceID, req.Timestamp,
		req.Localization, payload, req.Signature)
	if err != nil {
		h.writeDomainError(w, route, err)
		return
	}
	h.writeJSON(w, route, http.StatusOK, struct {
		ID        string         `json:"id"`
		DatasetID string         `json:"dataset_id"`
		Dataset   domain.Dataset `json:"dataset"`
	}{record.ID.Base58(), dataset.ID, dataset})
}

func (h *Handlers) handleFlightDataByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/flight_data/")
	if strings.HasSuffix(path, "/verify") {
		h.handleFlightDataVerify(w, r, strings.TrimSuffix(path, "/verify"))
		return
	}

	const route = "/flight_data/{id}"
	if r.Method != http.MethodGet {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}
	if _, err := identifier.FromBase58(path); err != nil {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed record id", "record id must be base58 of 32 bytes")
		return
	}
	record, dataset, web3, err := h.coord.FlightDataReceipt(r.Context(), path)
	if err != nil {
		h.writeDomainError(w, route, err)
		return
	}
	h.writeJSON(w, route, http.StatusOK, struct {
		FlightData domain.FlightData `json:"flight_data"`
		DatasetID  string            `json:"dataset_id"`
		Web3       domain.Web3Info   `json:"web3"`
	}{record, dataset.ID, web3})
}

type verifyFlightDataRequest struct {
	DatasetID  string            `json:"dataset_id"`
	FlightData domain.FlightData `json:"flight_data"`
	Proof      []string          `json:"proof"` // "0x"-prefixed hashes, leaf-to-root
}

// handleFlightDataVerify checks a caller-supplied Merkle proof against
// the dataset's persisted root rather than trusting the caller's record
// lookup. The {id} path segment is accepted for routing symmetry with
// the other flight_data routes but is not otherwise consulted.
func (h *Handlers) handleFlightDataVerify(w http.ResponseWriter, r *http.Request, id string) {
	const route = "/flight_data/{id}/verify"
	if r.Method != http.MethodPost {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}

	var req verifyFlightDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed request body", err.Error())
		return
	}

	dataset, err := h.coord.Dataset(r.Context(), req.DatasetID)
	if err != nil {
		h.writeDomainError(w, route, err)
		return
	}
	if dataset.Web3 == nil || dataset.Web3.MerkleReceipt == nil || dataset.Web3.MerkleReceipt.Kind != domain.MerkleReceiptRoot {
		h.writeError(w, route, http.StatusInternalServerError, codeChain, "dataset has no anchored merkle root", "")
		return
	}

	proof := make([]merkle.Hash, len(req.Proof))
	for i, hx := range req.Proof {
		b, err := identifier.FromHex(hx)
		if err != nil {
			h.writeError(w, route, http.StatusBadRequest, codeBadData, "malformed proof element", hx)
			return
		}
		proof[i] = merkle.Hash(b)
	}

	root := merkle.Hash(*dataset.Web3.MerkleReceipt.Root)
	result := merkle.VerifyFromRoot(root, req.FlightData.ToBytes(), proof)

	h.writeJSON(w, route, http.StatusOK, struct {
		Result bool            `json:"result"`
		Web3   domain.Web3Info `json:"web3"`
	}{result, *dataset.Web3})
}

func (h *Handlers) handleDatasetByID(w http.ResponseWriter, r *http.Request) {
	const route = "/dataset/{id}"
	if r.Method != http.MethodGet {
		h.writeError(w, route, http.StatusMethodNotAllowed, codeBadData, "method not allowed", "")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/dataset/")
	if id == "" {
		h.writeError(w, route, http.StatusBadRequest, codeBadData, "dataset id is required", "")
		return
	}
	dataset, err := h.coord.Dataset(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, route, err)
		return
	}
	h.writeJSON(w, route, http.StatusOK, dataset)
}

// writeDomainError maps coordinator, notarizer and storage error kinds
// onto the HTTP status and internal code table.
func (h *Handlers) writeDomainError(w http.ResponseWriter, route string, err error) {
	switch {
	case errors.Is(err, coordinator.ErrPartial):
		h.logger.Printf("%s: %v", route, err)
		h.writeError(w, route, http.StatusInternalServerError, codePartial, "completed with error", "the write is durable; a follow-on step failed and will be retried by an operator")
	case errors.Is(err, coordinator.ErrNotAnchored):
		h.writeError(w, route, http.StatusInternalServerError, codeChain, "dataset not yet anchored", "")
	case errors.Is(err, notarizer.ErrSubmissionFailed), errors.Is(err, notarizer.ErrProviderConnectionFailed):
		h.logger.Printf("%s: %v", route, err)
		h.writeError(w, route, http.StatusInternalServerError, codeChain, "chain submission failed", "")
	case errors.Is(err, storage.ErrAlreadyExists):
		h.writeError(w, route, http.StatusBadRequest, codeAlreadyExists, "already exists", "")
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, route, http.StatusNotFound, codeNotFound, "not found", "")
	default:
		h.logger.Printf("%s: %v", route, err)
		h.writeError(w, route, http.StatusInternalServerError, codeBadData, "internal error", "")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, route string, status int, data interface{}) {
	h.requestsTotal.WithLabelValues(route, strconv.Itoa(status/100*100)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Request-Id", uuid.NewString())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("encode response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, route string, status, code int, message, description string) {
	h.errorsTotal.WithLabelValues(route).Inc()
	h.writeJSON(w, route, status, errorBody{Code: code, Message: message, Description: description})
}

const defaultDatasetLimit = 10
