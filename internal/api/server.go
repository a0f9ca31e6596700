package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/promptdeck/internal/relay"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

type Service interface {
	CreateSession(ctx context.Context, kind, provider, name, url string) (types.Session, error)
	ActivateSession(ctx context.Context, id string) (types.Session, error)
	DeleteSession(ctx context.Context, id string) error
	RenameSession(ctx context.Context, id, name string) (types.Session, error)
	NavigateSession(ctx context.Context, id, url string) (types.Session, error)
	ListSessions(ctx context.Context, includeInactive bool) []types.Session
	GetSession(ctx context.Context, id string) (types.Session, error)
	ActiveSession(ctx context.Context) (types.Session, error)
	UpdateSessionBounds(ctx context.Context, id string, rect types.Rect) error
	NotifyWindowResize(ctx context.Context)

	IngestCapture(ctx context.Context, evt types.CaptureEvent) (types.CaptureRecord, error)
	GetCapture(ctx context.Context, id string) (types.CaptureRecord, error)
	SearchCaptures(ctx context.Context, f types.Filter) ([]types.CaptureRecord, error)
	CountCaptures(ctx context.Context, f types.Filter) (int, error)
	UpdateCaptureTags(ctx context.Context, id string, tags []string) error
	UpdateCaptureNotes(ctx context.Context, id, notes string) error
	UpdateCaptureTopic(ctx context.Context, id, topic string) error
	UpdateCaptureMetadata(ctx context.Context, id string, metadata []byte) error
	SetCaptureArchived(ctx context.Context, id string, archived bool) error
	DeleteCapture(ctx context.Context, id string) error
	AllTags(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (types.Stats, error)

	SuggestExportPath(format string) string
	StartExport(ctx context.Context, path, format string, f types.Filter) (string, error)
	Export(ctx context.Context, path, format string, f types.Filter) (string, int, error)
	CancelExport(ctx context.Context, path string) error
	ActiveExports(ctx context.Context) []string
}

// envelope is the uniform response wrapper. Domain failures travel inside it
// as data; callers check success before trusting the payload. Only transport
// problems (malformed request bodies, unparseable parameters) surface as
// HTTP-level errors.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Payload *T     `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type output[T any] struct {
	Body envelope[T]
}

func ok[T any](payload T) *output[T] {
	return &output[T]{Body: envelope[T]{Success: true, Payload: &payload}}
}

func fail[T any](err error) *output[T] {
	return &output[T]{Body: envelope[T]{Error: errorLabel(err)}}
}

// errorLabel renders an error as the stable "CODE: message" string the
// envelope carries. Unexpected errors are labelled IO_ERROR.
func errorLabel(err error) string {
	var coded *types.CodedError
	if errors.As(err, &coded) {
		return coded.Code + ": " + coded.Message
	}
	return types.CodeIOError + ": " + err.Error()
}

func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("PromptDeck Controller API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerSessionHandlers(api, svc)
	registerCaptureHandlers(api, svc)
	registerExportHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

