// internal/service/ads/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/application"
	"nova/internal/service/ads/domain"
)

const serviceName = "ad-engine"

// AdsHandler 封装 ad-engine 服务的 HTTP 处理器。
type AdsHandler struct {
	delivery    *application.DeliveryService
	feedback    *application.FeedbackService
	pacing      *application.PacingService
	config      *application.ConfigService
	experiments *application.ExperimentService
}

func NewAdsHandler(
	delivery *application.DeliveryService,
	feedback *application.FeedbackService,
	pacing *application.PacingService,
	config *application.ConfigService,
	experiments *application.ExperimentService,
) *AdsHandler {
	return &AdsHandler{
		delivery:    delivery,
		feedback:    feedback,
		pacing:      pacing,
		config:      config,
		experiments: experiments,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *AdsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/ads/eligible", h.eligibleAdsHandler)
	mux.HandleFunc("/interactions", h.recordInteractionHandler)

	mux.HandleFunc("/admin/config", h.configHandler)
	mux.HandleFunc("/admin/experiment_summary", h.experimentSummaryHandler)
	mux.HandleFunc("/admin/pacing", h.pacingSnapshotHandler)
}

// eligibleAdsHandler 投放路径入口。永远 200：任何内部故障都降级成空候选列表。
func (h *AdsHandler) eligibleAdsHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.GetEligibleAds")
	defer span.End()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("user.id", userID))

	reqCtx := &domain.RequestContext{
		Location:   r.URL.Query().Get("location"),
		DeviceType: r.URL.Query().Get("device_type"),
		SessionID:  r.URL.Query().Get("session_id"),
		Now:        time.Now(),
	}

	result, err := h.delivery.GetEligibleAds(ctx, userID, reqCtx)
	if err != nil {
		// 投放服务内部已经兜底过，这里再兜一层
		logger.Ctx(ctx).Error().Err(err).Msg("eligible ads fell through all fallbacks")
		result = &application.EligibleAdsResult{Candidates: []application.AdCandidate{}}
	}

	writeJSON(w, http.StatusOK, result)
}

// recordInteractionHandler 接收用户交互事件。
// 校验失败返回 400 + 字段级错误；落库失败返回 503，调用方可重试。
func (h *AdsHandler) recordInteractionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.RecordInteraction")
	defer span.End()

	var event domain.InteractionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result, err := h.feedback.RecordInteraction(ctx, &event)
	if err != nil {
		if domain.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "interaction could not be persisted"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// configHandler GET 返回当前生效配置，POST 校验并切换新版本。
func (h *AdsHandler) configHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.config.Active(ctx))
	case http.MethodPost:
		var cfg domain.AlgorithmConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if cfg.Name == "" {
			cfg.Name = domain.AlgorithmConfigName
		}
		version, err := h.config.Update(ctx, &cfg)
		if err != nil {
			if domain.IsValidation(err) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"version": version})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdsHandler) experimentSummaryHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	experimentID := r.URL.Query().Get("experiment_id")
	if experimentID == "" {
		http.Error(w, "experiment_id is required", http.StatusBadRequest)
		return
	}

	summary, err := h.experiments.GetExperimentSummary(ctx, experimentID)
	if err != nil {
		if errors.Is(err, domain.ErrExperimentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "experiment not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *AdsHandler) pacingSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pacing.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
