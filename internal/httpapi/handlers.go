package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	expfmt "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltwatch/upsmonitor/internal/eventbus"
	"github.com/voltwatch/upsmonitor/internal/pairing"
	"github.com/voltwatch/upsmonitor/internal/sse"
	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

type handlers struct {
	d      Deps
	global *sse.GlobalMetricsLimiter
}

func (h *handlers) now() time.Time {
	if h.d.Now != nil {
		return h.d.Now()
	}
	return time.Now()
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok")) //nolint:errcheck
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if h.d.Degraded {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not_ready")) //nolint:errcheck
		return
	}
	w.Write([]byte("ready")) //nolint:errcheck
}

func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	if h.d.Metrics == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	expfmt.Handler().ServeHTTP(w, r)
}

func (h *handlers) listUPS(w http.ResponseWriter, r *http.Request) {
	rows, err := h.d.Repo.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list UPS rows")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) getUPSStatus(w http.ResponseWriter, r *http.Request) {
	upsID := strings.ToLower(chi.URLParam(r, "upsId"))
	row, err := h.d.Repo.Get(r.Context(), upsID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown ups id")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

type registerDeviceRequest struct {
	APIVersion     string  `json:"apiVersion"`
	UPSID          string  `json:"upsId"`
	UPSAlias       *string `json:"upsAlias"`
	DeviceToken    string  `json:"deviceToken"`
	Environment    string  `json:"environment"`
	InstallationID *string `json:"installationId"`
	UPSHidden      bool    `json:"upsHidden"`
}

func (h *handlers) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.APIVersion != "" && req.APIVersion != "1.0" && req.APIVersion != "1.1" {
		writeError(w, http.StatusBadRequest, "unsupported apiVersion")
		return
	}
	if req.UPSID == "" || req.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "upsId and deviceToken are required")
		return
	}

	env := upsmodel.EnvironmentSandbox
	if req.Environment == string(upsmodel.EnvironmentProduction) {
		env = upsmodel.EnvironmentProduction
	}

	tokenHash := sha256Hex(req.DeviceToken)

	encrypted := req.DeviceToken
	if h.d.Crypto != nil {
		ciphertext, err := h.d.Crypto.Encrypt(req.DeviceToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encrypt device token")
			return
		}
		encrypted = ciphertext
	}

	var serverID *string
	if h.d.RelayServerID != "" {
		serverID = &h.d.RelayServerID
	}

	created, err := h.d.Devices.Register(r.Context(), upsmodel.DeviceRegistration{
		UPSID:          strings.ToLower(req.UPSID),
		UPSAlias:       req.UPSAlias,
		DeviceToken:    encrypted,
		TokenHash:      tokenHash,
		InstallationID: req.InstallationID,
		ServerID:       serverID,
		UPSHidden:      req.UPSHidden,
		Environment:    env,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"ok": true})
}

type unregisterDeviceRequest struct {
	UPSID       string `json:"upsId"`
	DeviceToken string `json:"deviceToken"`
	Environment string `json:"environment"`
}

func (h *handlers) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req unregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	env := upsmodel.EnvironmentSandbox
	if req.Environment == string(upsmodel.EnvironmentProduction) {
		env = upsmodel.EnvironmentProduction
	}

	if req.UPSID != "" && req.DeviceToken != "" {
		if err := h.d.Devices.Unregister(r.Context(), strings.ToLower(req.UPSID), sha256Hex(req.DeviceToken), env); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to unregister device")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type pairResponse struct {
	APIVersion string `json:"apiVersion"`
	RelayURL   string `json:"relayUrl"`
	PairCode   string `json:"pairCode"`
	ServerID   string `json:"serverId"`
}

func (h *handlers) relayPair(w http.ResponseWriter, r *http.Request) {
	if h.d.Relay == nil {
		writeError(w, http.StatusServiceUnavailable, "relay is not configured")
		return
	}

	code, err := pairing.Generate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate pair code")
		return
	}

	if err := h.d.Relay.CreatePairCode(r.Context(), code, h.now().Unix()); err != nil {
		writeError(w, http.StatusBadGateway, "relay rejected pair request")
		return
	}

	writeJSON(w, http.StatusOK, pairResponse{
		APIVersion: "1.0",
		RelayURL:   h.d.RelayBaseURL,
		PairCode:   code,
		ServerID:   h.d.RelayServerID,
	})
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	fw, err := sse.NewHTTPFrameWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)

	if h.d.Metrics != nil {
		h.d.Metrics.SSESubscribers.Inc()
		defer h.d.Metrics.SSESubscribers.Dec()
	}

	stream := &sse.Stream{Bus: h.d.Bus, Repo: h.d.Repo, Global: h.global, Now: h.d.Now}
	_ = stream.Serve(r.Context(), fw, r.URL.Query().Get("rate"))
}

type statusResponse struct {
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
	Compatibility   string `json:"compatibility"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if h.d.Checker == nil {
		writeJSON(w, http.StatusOK, statusResponse{Version: h.d.Version})
		return
	}
	st := h.d.Checker.Classification()
	writeJSON(w, http.StatusOK, statusResponse{
		Version:         st.Version,
		ProtocolVersion: st.ProtocolVersion,
		Compatibility:   string(st.Compatibility),
	})
}

type simulatePushRequest struct {
	UPSID string `json:"upsId"`
}

// simulatePush replays the Poller's status_change + metrics_update publish
// path (plus a Relay event when Relay is configured) for an existing UPS,
// without waiting on a real poll cycle. Debugging aid, never available in
// production per §6.1.
func (h *handlers) simulatePush(w http.ResponseWriter, r *http.Request) {
	var req simulatePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	upsID := strings.ToLower(req.UPSID)

	snap, err := h.d.Repo.Get(r.Context(), upsID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown ups id")
		return
	}

	lowBattery := snap.HasLowBattery()
	if err := h.d.Bus.Publish(r.Context(), eventbus.Event{Type: eventbus.EventStatusChange, UPS: upsID, HasLowBattery: lowBattery}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to publish status_change")
		return
	}
	if err := h.d.Bus.Publish(r.Context(), eventbus.Event{Type: eventbus.EventMetricsUpdate, UPS: upsID, HasLowBattery: lowBattery}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to publish metrics_update")
		return
	}

	if h.d.Relay != nil {
		eventType := "ups_status_change"
		if lowBattery {
			eventType = "battery_low"
		}
		status := snap.Status
		relay := h.d.Relay
		batteryLevel := snap.BatteryPercent
		ts := h.now().Unix()
		go relay.SendEvent(context.Background(), eventType, upsID, &status, ts, batteryLevel, nil) //nolint:errcheck
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func sha256Hex(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
