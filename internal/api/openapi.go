package api

import (
	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/vault"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the API. The POST
// /tasks body schema is generated from the public functions in reg.
func buildOpenAPIDoc(reg *vault.Registry) map[string]any {
	secured := keySecurity()
	errResp := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content":     jsonContent(map[string]any{"$ref": "#/components/schemas/Error"}),
		}
	}

	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Service health and queue counts",
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/tasks": map[string]any{
			"post": map[string]any{
				"operationId": "submitTask",
				"summary":     "Build the vault for a task and enqueue it",
				"security":    secured,
				"requestBody": map[string]any{
					"required": true,
					"content":  jsonContent(taskContextSchema(reg)),
				},
				"responses": map[string]any{
					"202": map[string]any{"description": "Submitted, or queued for a busy bridge"},
					"400": errResp("Bad request"),
					"409": errResp("Bridge already runs a priority 1 task"),
					"422": errResp("Vault validation failed"),
					"502": errResp("Remote queue rejected the submission"),
				},
			},
		},
		"/tasks/{taskID}/status": map[string]any{
			"post": map[string]any{
				"operationId": "updateTaskStatus",
				"summary":     "Report a terminal remote status for a task",
				"security":    secured,
				"parameters":  []any{pathParam("taskID")},
				"requestBody": map[string]any{
					"required": true,
					"content": jsonContent(map[string]any{
						"type":     "object",
						"required": []string{"status"},
						"properties": map[string]any{
							"status": map[string]any{
								"type": "string",
								"enum": []dispatch.Status{dispatch.StatusCompleted, dispatch.StatusFailed, dispatch.StatusCancelled},
							},
						},
					}),
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Applied"},
					"400": errResp("Status is not terminal"),
				},
			},
		},
		"/queue":            securedGet("listQueue", "Local queue items, optionally filtered by ?status="),
		"/queue/stats":      securedGet("queueStats", "Counts by status"),
		"/queue/{id}":       queueItemPath(secured),
		"/queue/{id}/retry": securedPost("retryItem", "Retry a failed item", pathParam("id")),
		"/queue/clear":      securedPost("clearQueue", "Drop finished items"),
		"/active":           securedGet("activeTasks", "Bridges held by a priority 1 task"),
		"/functions":        securedGet("listFunctions", "Bridge function registry"),
		"/history":          securedGet("history", "Persisted submission attempts"),
		"/events":           securedGet("events", "Server-sent event stream"),
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "bridgeq",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
				"KeyHeader": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": KeyHeader,
				},
			},
			"schemas": map[string]any{
				"Error": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error": map[string]any{"type": "string"},
						"field": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// taskContextSchema describes vault.TaskContext. One oneOf branch per public
// function carries that function's params.
func taskContextSchema(reg *vault.Registry) map[string]any {
	var names []string
	var variants []any
	for _, fn := range reg.Functions() {
		if !fn.Public {
			continue
		}
		names = append(names, fn.Name)
		variants = append(variants, map[string]any{
			"title": fn.Name,
			"properties": map[string]any{
				"function_name": map[string]any{"const": fn.Name},
				"params":        paramsSchema(fn.Params),
			},
		})
	}

	fragment := map[string]any{"type": []string{"object", "string"}}
	schema := map[string]any{
		"type":     "object",
		"required": []string{"function_name", "team_name", "machine_name", "bridge_name"},
		"properties": map[string]any{
			"function_name":              map[string]any{"type": "string", "enum": names},
			"team_name":                  map[string]any{"type": "string"},
			"machine_name":               map[string]any{"type": "string"},
			"bridge_name":                map[string]any{"type": "string"},
			"repository_name":            map[string]any{"type": "string"},
			"repository_guid":            map[string]any{"type": "string"},
			"repository_network_id":      map[string]any{"type": "integer"},
			"storage_name":               map[string]any{"type": "string"},
			"priority":                   map[string]any{"type": "integer", "minimum": dispatch.HighestPriority, "maximum": dispatch.LowestPriority, "default": dispatch.DefaultPriority},
			"added_via":                  map[string]any{"type": "string"},
			"language":                   map[string]any{"type": "string"},
			"organization_credential":    map[string]any{"type": "string"},
			"team_vault":                 fragment,
			"machine_vault":              fragment,
			"repository_vault":           fragment,
			"bridge_vault":               fragment,
			"storage_vault":              fragment,
			"organization_vault":         fragment,
			"destination_machine_vault":  fragment,
			"destination_storage_vault":  fragment,
			"source_machine_vault":       fragment,
			"source_storage_vault":       fragment,
			"additional_machine_data":    map[string]any{"type": "object", "additionalProperties": fragment},
			"additional_storage_data":    map[string]any{"type": "object", "additionalProperties": fragment},
			"all_repository_credentials": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
			"all_repositories":           map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
		},
	}
	if len(variants) > 0 {
		schema["oneOf"] = variants
	}
	return schema
}

func paramsSchema(params []vault.Param) map[string]any {
	props := map[string]any{}
	var required []string
	for _, p := range params {
		var prop map[string]any
		switch p.Type {
		case vault.ParamInt:
			prop = map[string]any{"type": []string{"integer", "string"}}
		case vault.ParamBool:
			prop = map[string]any{"type": []string{"boolean", "string"}}
		case vault.ParamList:
			prop = map[string]any{"type": []string{"array", "string"}, "items": map[string]any{"type": "string"}}
		default:
			prop = map[string]any{"type": "string"}
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func queueItemPath(secured []any) map[string]any {
	return map[string]any{
		"parameters": []any{pathParam("id")},
		"get": map[string]any{
			"operationId": "getItem",
			"summary":     "One queue item and its pending position",
			"security":    secured,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"404": map[string]any{"description": "Not found"},
			},
		},
		"delete": map[string]any{
			"operationId": "removeItem",
			"summary":     "Remove an item whatever its status",
			"security":    secured,
			"responses": map[string]any{
				"204": map[string]any{"description": "Removed"},
				"404": map[string]any{"description": "Not found"},
			},
		},
	}
}

func securedGet(id, summary string) map[string]any {
	return map[string]any{"get": securedOp(id, summary)}
}

func securedPost(id, summary string, params ...any) map[string]any {
	op := securedOp(id, summary)
	if len(params) > 0 {
		op["parameters"] = params
	}
	return map[string]any{"post": op}
}

func securedOp(id, summary string) map[string]any {
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"security":    keySecurity(),
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
			"401": map[string]any{"description": "Missing or invalid API key"},
		},
	}
}

func pathParam(name string) map[string]any {
	return map[string]any{"name": name, "in": "path", "required": true, "schema": map[string]any{"type": "string"}}
}

func jsonContent(schema map[string]any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}

// keySecurity accepts either credential form.
func keySecurity() []any {
	return []any{
		map[string]any{"BearerAuth": []string{}},
		map[string]any{"KeyHeader": []string{}},
	}
}
