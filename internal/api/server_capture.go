package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

type searchParams struct {
	Query     string   `query:"q" doc:"Case-insensitive substring over prompt and response"`
	Providers []string `query:"provider" doc:"Provider slugs; repeat to match any"`
	Tags      []string `query:"tag" doc:"Tags; repeat to match any"`
	Archived  string   `query:"archived" enum:"true,false," doc:"Filter by archived state"`
	SessionID string   `query:"session_id" doc:"Originating session"`
	Start     string   `query:"start" doc:"Inclusive lower bound on created_at (RFC 3339)"`
	End       string   `query:"end" doc:"Inclusive upper bound on created_at (RFC 3339)"`
	Limit     int      `query:"limit" default:"100" maximum:"1000" doc:"Page size"`
	Offset    int      `query:"offset" doc:"Page offset"`
}

func (p searchParams) toFilter() (types.Filter, error) {
	f := types.Filter{
		Query:     p.Query,
		Providers: p.Providers,
		Tags:      p.Tags,
		SessionID: p.SessionID,
		Limit:     p.Limit,
		Offset:    p.Offset,
	}
	switch p.Archived {
	case "true":
		v := true
		f.Archived = &v
	case "false":
		v := false
		f.Archived = &v
	}
	if p.Start != "" {
		t, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return types.Filter{}, types.NewError(types.CodeValidation, "start must be RFC 3339", nil)
		}
		f.Start = &t
	}
	if p.End != "" {
		t, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return types.Filter{}, types.NewError(types.CodeValidation, "end must be RFC 3339", nil)
		}
		f.End = &t
	}
	return f, nil
}

func registerCaptureHandlers(api huma.API, svc Service) {
	type captureIDInput struct {
		CaptureID string `path:"capture_id"`
	}

	type captureListPayload struct {
		Captures []types.CaptureRecord `json:"captures"`
		Total    int                   `json:"total"`
	}

	huma.Register(api, huma.Operation{OperationID: "ingest-capture", Method: http.MethodPost, Path: "/api/v1/captures", Summary: "Store a capture record", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			Body types.CaptureEvent
		}) (*output[types.CaptureRecord], error) {
			rec, err := svc.IngestCapture(ctx, input.Body)
			if err != nil {
				return fail[types.CaptureRecord](err), nil
			}
			return ok(rec), nil
		})

	huma.Register(api, huma.Operation{OperationID: "search-captures", Method: http.MethodGet, Path: "/api/v1/captures", Summary: "Search capture records", Tags: []string{"Captures"}},
		func(ctx context.Context, input *searchParams) (*output[captureListPayload], error) {
			f, err := input.toFilter()
			if err != nil {
				return fail[captureListPayload](err), nil
			}
			records, err := svc.SearchCaptures(ctx, f)
			if err != nil {
				return fail[captureListPayload](err), nil
			}
			total, err := svc.CountCaptures(ctx, f)
			if err != nil {
				return fail[captureListPayload](err), nil
			}
			if records == nil {
				records = []types.CaptureRecord{}
			}
			return ok(captureListPayload{Captures: records, Total: total}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-capture", Method: http.MethodGet, Path: "/api/v1/captures/{capture_id}", Summary: "Get a capture record by ID", Tags: []string{"Captures"}},
		func(ctx context.Context, input *captureIDInput) (*output[types.CaptureRecord], error) {
			rec, err := svc.GetCapture(ctx, input.CaptureID)
			if err != nil {
				return fail[types.CaptureRecord](err), nil
			}
			return ok(rec), nil
		})

	type statusPayload struct {
		CaptureID string `json:"capture_id"`
		Status    string `json:"status"`
	}

	huma.Register(api, huma.Operation{OperationID: "update-capture-tags", Method: http.MethodPut, Path: "/api/v1/captures/{capture_id}/tags", Summary: "Replace a capture's tag set", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			CaptureID string `path:"capture_id"`
			Body      struct {
				Tags []string `json:"tags" required:"true" doc:"Full replacement tag set"`
			}
		}) (*output[statusPayload], error) {
			if err := svc.UpdateCaptureTags(ctx, input.CaptureID, input.Body.Tags); err != nil {
				return fail[statusPayload](err), nil
			}
			return ok(statusPayload{CaptureID: input.CaptureID, Status: "updated"}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-capture-notes", Method: http.MethodPut, Path: "/api/v1/captures/{capture_id}/notes", Summary: "Update a capture's notes", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			CaptureID string `path:"capture_id"`
			Body      struct {
				Notes string `json:"notes" doc:"Free-form notes; empty clears"`
			}
		}) (*output[statusPayload], error) {
			if err := svc.UpdateCaptureNotes(ctx, input.CaptureID, input.Body.Notes); err != nil {
				return fail[statusPayload](err), nil
			}
			return ok(statusPayload{CaptureID: input.CaptureID, Status: "updated"}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-capture-topic", Method: http.MethodPut, Path: "/api/v1/captures/{capture_id}/topic", Summary: "Update a capture's topic", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			CaptureID string `path:"capture_id"`
			Body      struct {
				Topic string `json:"topic" doc:"Topic label; empty clears"`
			}
		}) (*output[statusPayload], error) {
			if err := svc.UpdateCaptureTopic(ctx, input.CaptureID, input.Body.Topic); err != nil {
				return fail[statusPayload](err), nil
			}
			return ok(statusPayload{CaptureID: input.CaptureID, Status: "updated"}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-capture-metadata", Method: http.MethodPut, Path: "/api/v1/captures/{capture_id}/metadata", Summary: "Replace a capture's metadata document", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			CaptureID string `path:"capture_id"`
			Body      struct {
				Metadata json.RawMessage `json:"metadata" required:"true" doc:"Arbitrary JSON document"`
			}
		}) (*output[statusPayload], error) {
			if err := svc.UpdateCaptureMetadata(ctx, input.CaptureID, input.Body.Metadata); err != nil {
				return fail[statusPayload](err), nil
			}
			return ok(statusPayload{CaptureID: input.CaptureID, Status: "updated"}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-capture-archived", Method: http.MethodPut, Path: "/api/v1/captures/{capture_id}/archived", Summary: "Archive or unarchive a capture", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			CaptureID string `path:"capture_id"`
			Body      struct {
				Archived bool `json:"archived"`
			}
		}) (*output[statusPayload], error) {
			if err := svc.SetCaptureArchived(ctx, input.CaptureID, input.Body.Archived); err != nil {
				return fail[statusPayload](err), nil
			}
			return ok(statusPayload{CaptureID: input.CaptureID, Status: "updated"}), nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-capture", Method: http.MethodDelete, Path: "/api/v1/captures/{capture_id}", Summary: "Delete a capture record", Tags: []string{"Captures"}},
		func(ctx context.Context, input *captureIDInput) (*output[statusPayload], error) {
			if err := svc.DeleteCapture(ctx, input.CaptureID); err != nil {
				return fail[statusPayload](err), nil
			}
			return ok(statusPayload{CaptureID: input.CaptureID, Status: "deleted"}), nil
		})

	type tagsPayload struct {
		Tags []string `json:"tags"`
	}

	huma.Register(api, huma.Operation{OperationID: "list-tags", Method: http.MethodGet, Path: "/api/v1/captures/tags", Summary: "List all distinct tags", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct{}) (*output[tagsPayload], error) {
			tags, err := svc.AllTags(ctx)
			if err != nil {
				return fail[tagsPayload](err), nil
			}
			if tags == nil {
				tags = []string{}
			}
			return ok(tagsPayload{Tags: tags}), nil
		})
}
