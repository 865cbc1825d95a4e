package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/venuelabs/microroute/internal/domain"
)

// maxForecastHorizonMinutes bounds the horizon query parameter.
const maxForecastHorizonMinutes = 1440

// VolSource supplies volatility forecasts and fitted model parameters.
type VolSource interface {
	Forecast(symbol string, horizonMinutes int) domain.VolatilityForecast
	GarchParams(symbol string) (omega, alpha, beta, sigma2 float64, ok bool)
}

// VolHandler serves volatility forecast endpoints.
type VolHandler struct {
	vol    VolSource
	logger *slog.Logger
}

// NewVolHandler creates a VolHandler with the given source and logger.
func NewVolHandler(vol VolSource, logger *slog.Logger) *VolHandler {
	return &VolHandler{
		vol:    vol,
		logger: logHandler(logger, "vol"),
	}
}

// forecastResponse augments the forecast with the fitted model parameters
// when they exist.
type forecastResponse struct {
	domain.VolatilityForecast
	Garch *garchParams `json:",omitempty"`
}

type garchParams struct {
	Omega  float64
	Alpha  float64
	Beta   float64
	Sigma2 float64
}

// GetForecast returns HAR-RV and GARCH forecasts for the given symbol and
// horizon. Defaults to a 30 minute horizon.
// GET /api/volatility/{symbol}?horizon=30
func (h *VolHandler) GetForecast(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	horizon := 30
	if v := r.URL.Query().Get("horizon"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxForecastHorizonMinutes {
			writeError(w, http.StatusBadRequest, "horizon must be between 1 and 1440 minutes")
			return
		}
		horizon = n
	}

	resp := forecastResponse{
		VolatilityForecast: h.vol.Forecast(symbol, horizon),
	}
	if omega, alpha, beta, sigma2, ok := h.vol.GarchParams(symbol); ok {
		resp.Garch = &garchParams{Omega: omega, Alpha: alpha, Beta: beta, Sigma2: sigma2}
	}

	writeJSON(w, http.StatusOK, resp)
}
