package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

func registerSessionHandlers(api huma.API, svc Service) {
	type sessionIDInput struct {
		SessionID string `path:"session_id"`
	}

	type sessionListPayload struct {
		Sessions []types.Session `json:"sessions"`
	}

	huma.Register(api, huma.Operation{OperationID: "create-session", Method: http.MethodPost, Path: "/api/v1/sessions", Summary: "Create a new browsing session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Kind     string `json:"kind,omitempty" enum:"provider,capture-review" doc:"Session kind; defaults to provider"`
				Provider string `json:"provider,omitempty" doc:"Provider slug (claude, chatgpt, gemini, grok, deepseek, perplexity, custom)"`
				Name     string `json:"name,omitempty" doc:"Display name; defaults to the provider slug"`
				URL      string `json:"url,omitempty" doc:"Start URL; required for custom providers"`
			}
		}) (*output[types.Session], error) {
			sess, err := svc.CreateSession(ctx, input.Body.Kind, input.Body.Provider, input.Body.Name, input.Body.URL)
			if err != nil {
				return fail[types.Session](err), nil
			}
			return ok(sess), nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List sessions in creation order", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			IncludeInactive bool `query:"include_inactive" default:"true" doc:"Include backgrounded sessions"`
		}) (*output[sessionListPayload], error) {
			sessions := svc.ListSessions(ctx, input.IncludeInactive)
			if sessions == nil {
				sessions = []types.Session{}
			}
			return ok(sessionListPayload{Sessions: sessions}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-active-session", Method: http.MethodGet, Path: "/api/v1/sessions/active", Summary: "Get the active session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*output[types.Session], error) {
			sess, err := svc.ActiveSession(ctx)
			if err != nil {
				return fail[types.Session](err), nil
			}
			return ok(sess), nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/sessions/{session_id}", Summary: "Get a session by ID", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*output[types.Session], error) {
			sess, err := svc.GetSession(ctx, input.SessionID)
			if err != nil {
				return fail[types.Session](err), nil
			}
			return ok(sess), nil
		})

	huma.Register(api, huma.Operation{OperationID: "activate-session", Method: http.MethodPost, Path: "/api/v1/sessions/{session_id}/activate", Summary: "Bring a session to the foreground", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*output[types.Session], error) {
			sess, err := svc.ActivateSession(ctx, input.SessionID)
			if err != nil {
				return fail[types.Session](err), nil
			}
			return ok(sess), nil
		})

	huma.Register(api, huma.Operation{OperationID: "rename-session", Method: http.MethodPut, Path: "/api/v1/sessions/{session_id}/name", Summary: "Rename a session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			SessionID string `path:"session_id"`
			Body      struct {
				Name string `json:"name" required:"true" doc:"New display name"`
			}
		}) (*output[types.Session], error) {
			sess, err := svc.RenameSession(ctx, input.SessionID, input.Body.Name)
			if err != nil {
				return fail[types.Session](err), nil
			}
			return ok(sess), nil
		})

	huma.Register(api, huma.Operation{OperationID: "navigate-session", Method: http.MethodPost, Path: "/api/v1/sessions/{session_id}/navigate", Summary: "Navigate a session's window", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			SessionID string `path:"session_id"`
			Body      struct {
				URL string `json:"url" required:"true" doc:"Destination URL"`
			}
		}) (*output[types.Session], error) {
			sess, err := svc.NavigateSession(ctx, input.SessionID, input.Body.URL)
			if err != nil {
				return fail[types.Session](err), nil
			}
			return ok(sess), nil
		})

	type boundsPayload struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}

	huma.Register(api, huma.Operation{OperationID: "update-session-bounds", Method: http.MethodPut, Path: "/api/v1/sessions/{session_id}/bounds", Summary: "Update a session window's bounds", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			SessionID string `path:"session_id"`
			Body      types.Rect
		}) (*output[boundsPayload], error) {
			if err := svc.UpdateSessionBounds(ctx, input.SessionID, input.Body); err != nil {
				return fail[boundsPayload](err), nil
			}
			return ok(boundsPayload{SessionID: input.SessionID, Status: "queued"}), nil
		})

	type resizePayload struct {
		Status string `json:"status"`
	}

	huma.Register(api, huma.Operation{OperationID: "notify-window-resize", Method: http.MethodPost, Path: "/api/v1/window/resize", Summary: "Signal a host window resize", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*output[resizePayload], error) {
			svc.NotifyWindowResize(ctx)
			return ok(resizePayload{Status: "scheduled"}), nil
		})

	type deletedPayload struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}

	huma.Register(api, huma.Operation{OperationID: "delete-session", Method: http.MethodDelete, Path: "/api/v1/sessions/{session_id}", Summary: "Delete a session and release its resources", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*output[deletedPayload], error) {
			if err := svc.DeleteSession(ctx, input.SessionID); err != nil {
				return fail[deletedPayload](err), nil
			}
			return ok(deletedPayload{SessionID: input.SessionID, Status: "deleted"}), nil
		})
}
