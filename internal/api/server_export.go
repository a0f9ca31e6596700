package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

func registerExportHandlers(api huma.API, svc Service) {
	type startedPayload struct {
		Path   string `json:"path"`
		Status string `json:"status"`
	}

	huma.Register(api, huma.Operation{OperationID: "start-export", Method: http.MethodPost, Path: "/api/v1/exports", Summary: "Start a background export", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Path   string       `json:"path,omitempty" doc:"Destination file; omit for a generated path under the export directory"`
				Format string       `json:"format" required:"true" enum:"json,csv" doc:"Export format"`
				Filter types.Filter `json:"filter,omitempty" doc:"Record filter; empty exports everything"`
			}
		}) (*output[startedPayload], error) {
			path, err := svc.StartExport(ctx, input.Body.Path, input.Body.Format, input.Body.Filter)
			if err != nil {
				return fail[startedPayload](err), nil
			}
			return ok(startedPayload{Path: path, Status: "started"}), nil
		})

	type completedPayload struct {
		Path            string `json:"path"`
		RecordsExported int    `json:"records_exported"`
	}

	huma.Register(api, huma.Operation{OperationID: "run-export", Method: http.MethodPost, Path: "/api/v1/exports/run", Summary: "Run an export and wait for completion", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Path   string       `json:"path,omitempty" doc:"Destination file; omit for a generated path under the export directory"`
				Format string       `json:"format" required:"true" enum:"json,csv" doc:"Export format"`
				Filter types.Filter `json:"filter,omitempty" doc:"Record filter; empty exports everything"`
			}
		}) (*output[completedPayload], error) {
			path, records, err := svc.Export(ctx, input.Body.Path, input.Body.Format, input.Body.Filter)
			if err != nil {
				return fail[completedPayload](err), nil
			}
			return ok(completedPayload{Path: path, RecordsExported: records}), nil
		})

	type activePayload struct {
		Paths []string `json:"paths"`
	}

	huma.Register(api, huma.Operation{OperationID: "list-exports", Method: http.MethodGet, Path: "/api/v1/exports", Summary: "List in-flight exports", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct{}) (*output[activePayload], error) {
			paths := svc.ActiveExports(ctx)
			if paths == nil {
				paths = []string{}
			}
			return ok(activePayload{Paths: paths}), nil
		})

	type suggestPayload struct {
		Path string `json:"path"`
	}

	huma.Register(api, huma.Operation{OperationID: "suggest-export-path", Method: http.MethodGet, Path: "/api/v1/exports/suggest", Summary: "Suggest a default export destination", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct {
			Format string `query:"format" default:"json" enum:"json,csv"`
		}) (*output[suggestPayload], error) {
			return ok(suggestPayload{Path: svc.SuggestExportPath(input.Format)}), nil
		})

	type cancelledPayload struct {
		Path   string `json:"path"`
		Status string `json:"status"`
	}

	huma.Register(api, huma.Operation{OperationID: "cancel-export", Method: http.MethodPost, Path: "/api/v1/exports/cancel", Summary: "Cancel an in-flight export", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Path string `json:"path" required:"true" doc:"Destination file of the running export"`
			}
		}) (*output[cancelledPayload], error) {
			if err := svc.CancelExport(ctx, input.Body.Path); err != nil {
				return fail[cancelledPayload](err), nil
			}
			return ok(cancelledPayload{Path: input.Body.Path, Status: "cancelling"}), nil
		})
}
