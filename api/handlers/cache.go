package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/api"
	"github.com/BaSui01/tokenbudget/internal/cache"
	"github.com/BaSui01/tokenbudget/types"
)

// CacheManager 缓存管理能力，*cache.Manager 满足它
type CacheManager interface {
	Stats(ctx context.Context) (*cache.Stats, error)
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	CleanExpired(ctx context.Context) (int64, error)
}

// =============================================================================
// 🗄️ 缓存管理 Handler
// =============================================================================

// CacheHandler 缓存管理处理器
type CacheHandler struct {
	manager CacheManager
	logger  *zap.Logger
}

// NewCacheHandler 创建缓存管理处理器
func NewCacheHandler(manager CacheManager, logger *zap.Logger) *CacheHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{
		manager: manager,
		logger:  logger.With(zap.String("component", "cache_handler")),
	}
}

// HandleStats 返回缓存统计
// @Summary 缓存统计
// @Tags 缓存
// @Produce json
// @Success 200 {object} cache.Stats
// @Security ApiKeyAuth
// @Router /v1/cache/stats [get]
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, cacheError("read cache stats", err), h.logger)
		return
	}
	WriteSuccess(w, st)
}

// HandleInvalidate 使单个键失效
// @Summary 失效缓存键
// @Tags 缓存
// @Param key path string true "缓存键"
// @Success 204 "已失效"
// @Security ApiKeyAuth
// @Router /v1/cache/{key} [delete]
func (h *CacheHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteError(w, types.NewInvalidRequestError("key is required"), h.logger)
		return
	}
	if err := h.manager.Invalidate(r.Context(), key); err != nil {
		WriteServiceError(w, cacheError("invalidate cache key", err), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear 使全部条目失效
// @Summary 清空缓存
// @Tags 缓存
// @Success 204 "已清空"
// @Security ApiKeyAuth
// @Router /v1/cache [delete]
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Clear(r.Context()); err != nil {
		WriteServiceError(w, cacheError("clear cache", err), h.logger)
		return
	}
	h.logger.Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// HandleClean 物理删除过期条目
// @Summary 清理过期条目
// @Tags 缓存
// @Produce json
// @Success 200 {object} api.CacheCleanResponse
// @Security ApiKeyAuth
// @Router /v1/cache/clean [post]
func (h *CacheHandler) HandleClean(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.CleanExpired(r.Context())
	if err != nil {
		WriteServiceError(w, cacheError("clean expired entries", err), h.logger)
		return
	}
	h.logger.Info("expired cache entries removed", zap.Int64("deleted", n))
	WriteSuccess(w, api.CacheCleanResponse{Deleted: n})
}

// cacheError 未分类的存储错误归为 CACHE_ERROR
func cacheError(op string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.WrapError(err, types.ErrCacheError, op+" failed").WithRetryable(true)
}
