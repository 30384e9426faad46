package routes

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/templui/mediapipe/internal/app"
	"github.com/templui/mediapipe/internal/handler"
	"github.com/templui/mediapipe/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	upload := handler.NewUploadHandler(app.IngestService, app.Cfg.MaxFileSize, app.Cfg.MaxChunkSize)
	files := handler.NewFileHandler(app.FileService)
	health := handler.NewHealthHandler(app.DB)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	// Originals and derivatives, straight from the upload root. A prefix that
	// is a full URL points at a CDN in front of the root instead.
	if prefix := strings.TrimRight(app.Cfg.UploadPublicPrefix, "/") + "/"; strings.HasPrefix(prefix, "/") {
		mux.Handle("GET "+prefix, handler.Static(prefix, app.Originals.Root()))
	}

	mux.HandleFunc("GET /healthz", health.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// File reads
	mux.HandleFunc("GET /api/files/{id}", files.Get)
	mux.HandleFunc("GET /api/files/{id}/thumbnail", files.ThumbnailStatus)
	mux.HandleFunc("GET /api/files/{id}/derived/{label}", files.Derived)
	mux.HandleFunc("GET /api/files/{id}/links", files.Links)
	mux.HandleFunc("GET /api/entities/{kind}/{id}/files", files.EntityFiles)

	// ============================================================================
	// PROTECTED ROUTES
	// ============================================================================

	// Uploads (rate limited per uploader)
	rateLimiter := middleware.RateLimitUploads(app.Cfg.UploadRateLimit, app.Cfg.UploadRateWindow)
	mux.HandleFunc("POST /api/uploads", middleware.RequireAuth(rateLimiter(upload.Upload)))
	mux.HandleFunc("POST /api/uploads/chunk", middleware.RequireAuth(rateLimiter(upload.UploadChunk)))

	// File management
	mux.HandleFunc("POST /api/files/{id}/rederive", middleware.RequireAuth(files.Rederive))
	mux.HandleFunc("POST /api/files/{id}/links", middleware.RequireAuth(files.Link))
	mux.HandleFunc("DELETE /api/files/{id}/links", middleware.RequireAuth(files.Unlink))
	mux.HandleFunc("DELETE /api/files/{id}", middleware.RequireAuth(files.Delete))

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.AuthMiddleware(app.AuthService),
		middleware.RequestLogging,
		middleware.Metrics, // must stay last: reads the pattern the mux matched
	)

	return handler
}
