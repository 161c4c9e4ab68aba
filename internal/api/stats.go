package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bigbes/wgstats/internal/collector"
	"github.com/bigbes/wgstats/internal/logging"
	"github.com/bigbes/wgstats/internal/sample"
)

// PartialFailuresHeader carries the number of peers left out of a response.
const PartialFailuresHeader = "X-Partial-Failures"

// PeerStats is the JSON view of one peer served by GET /api/stats.
type PeerStats struct {
	Username        string      `json:"username"`
	Interface       string      `json:"interface"`
	PublicKey       string      `json:"publicKey"`
	Endpoint        string      `json:"endpoint,omitempty"`
	EndpointCountry string      `json:"endpointCountry,omitempty"`
	AllowedIPs      string      `json:"allowedIps"`
	ConnectedHours  float64     `json:"connectedHours"`
	TransferRx      int64       `json:"transferRx"`
	TransferTx      int64       `json:"transferTx"`
	DailyStats      []DailyStat `json:"dailyStats"`
}

type DailyStat struct {
	Date       string  `json:"date"`
	Hours      float64 `json:"hours"`
	TransferRx int64   `json:"transfer_rx"`
	TransferTx int64   `json:"transfer_tx"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error:   "Method not allowed",
			Details: r.Method + " is not supported, use GET",
		})
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	res, err := s.collector.Collect(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "api: collect stats", "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, sample.ErrSourceUnavailable) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorResponse{
			Error:   "Failed to get WireGuard stats",
			Details: err.Error(),
		})
		return
	}

	if len(res.Failed) > 0 {
		w.Header().Set(PartialFailuresHeader, strconv.Itoa(len(res.Failed)))
	}
	writeJSON(w, http.StatusOK, ToPeerStats(res))
}

// ToPeerStats converts a collection result into its JSON view.
func ToPeerStats(res collector.Result) map[string]PeerStats {
	out := make(map[string]PeerStats, len(res.Snapshots))
	for key, snap := range res.Snapshots {
		days := make([]DailyStat, 0, len(snap.DailyStats))
		for _, d := range snap.DailyStats {
			days = append(days, DailyStat{
				Date:       d.Date,
				Hours:      d.HoursConnected,
				TransferRx: d.TransferRx,
				TransferTx: d.TransferTx,
			})
		}
		out[key] = PeerStats{
			Username:        snap.Username,
			Interface:       snap.Interface,
			PublicKey:       snap.PublicKey,
			Endpoint:        snap.Endpoint,
			EndpointCountry: snap.EndpointCountry,
			AllowedIPs:      snap.AllowedIPs,
			ConnectedHours:  snap.ConnectedHours,
			TransferRx:      snap.TransferRx,
			TransferTx:      snap.TransferTx,
			DailyStats:      days,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
