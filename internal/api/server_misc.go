package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/promptdeck/internal/config"
	"github.com/dgnsrekt/promptdeck/internal/types"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Session and capture storage statistics", Tags: []string{"Stats"}},
		func(ctx context.Context, input *struct{}) (*output[types.Stats], error) {
			stats, err := svc.Stats(ctx)
			if err != nil {
				return fail[types.Stats](err), nil
			}
			return ok(stats), nil
		})

	type providersPayload struct {
		Providers []string `json:"providers"`
	}

	huma.Register(api, huma.Operation{OperationID: "list-providers", Method: http.MethodGet, Path: "/api/v1/providers", Summary: "List supported providers", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*output[providersPayload], error) {
			return ok(providersPayload{Providers: config.Providers()}), nil
		})
}
