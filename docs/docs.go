// Package docs holds the OpenAPI document served under /swagger. It is maintained by hand
// alongside the swag annotations on the HTTP handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/projects/{project}/functions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["functions"],
                "summary": "List functions",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/functions.Function"}}}
                }
            },
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["functions"],
                "summary": "Deploy a function",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Region (defaults to the configured default region)", "name": "region", "in": "query"},
                    {"type": "string", "description": "Function spec as JSON", "name": "spec", "in": "formData", "required": true},
                    {"type": "file", "description": "Function source", "name": "source", "in": "formData", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/functions.Function"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.errorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            }
        },
        "/projects/{project}/functions/multi-region": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["functions"],
                "summary": "Deploy a function to several regions",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function spec as JSON with a regions list", "name": "spec", "in": "formData", "required": true},
                    {"type": "file", "description": "Function source", "name": "source", "in": "formData", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/functions.MultiRegionResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            }
        },
        "/projects/{project}/functions/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["functions"],
                "summary": "Get a function",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Region", "name": "region", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/functions.Function"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            },
            "delete": {
                "tags": ["functions"],
                "summary": "Delete a function",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Region", "name": "region", "in": "query"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            }
        },
        "/projects/{project}/functions/{name}/invoke": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["invocation"],
                "summary": "Invoke a function",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Region", "name": "region", "in": "query"},
                    {"type": "string", "description": "Trace id to propagate", "name": "X-Trace-Id", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/invocation.Result"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.errorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/http.errorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            }
        },
        "/projects/{project}/functions/{name}/autoscaling": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["functions"],
                "summary": "Configure autoscaling",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Region", "name": "region", "in": "query"},
                    {"description": "Autoscaling config", "name": "config", "in": "body", "required": true, "schema": {"$ref": "#/definitions/functions.AutoscalingConfig"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/functions.Function"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            }
        },
        "/projects/{project}/functions/{name}/metrics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["metrics"],
                "summary": "Usage metrics and cost estimate",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "default": "1h", "description": "Window ending now, e.g. 1h or 7d", "name": "interval", "in": "query"},
                    {"type": "string", "description": "Bucket width, e.g. 1m", "name": "bucket", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/billing.Report"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.errorResponse"}}
                }
            }
        },
        "/projects/{project}/functions/{name}/deployments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["functions"],
                "summary": "List multi-region deployments",
                "parameters": [
                    {"type": "string", "description": "Project", "name": "project", "in": "path", "required": true},
                    {"type": "string", "description": "Function name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/functions.Deployment"}}}
                }
            }
        }
    },
    "definitions": {
        "functions.AutoscalingConfig": {
            "type": "object",
            "properties": {
                "min_replicas": {"type": "integer"},
                "max_replicas": {"type": "integer"},
                "target_concurrency": {"type": "integer"},
                "target_rps": {"type": "integer"}
            }
        },
        "functions.Function": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "project": {"type": "string"},
                "name": {"type": "string"},
                "region": {"type": "string"},
                "runtime": {"type": "string"},
                "image": {"type": "string"},
                "object_name": {"type": "string"},
                "memory_mb": {"type": "integer"},
                "timeout_seconds": {"type": "integer"},
                "concurrency": {"type": "integer"},
                "autoscaling": {"$ref": "#/definitions/functions.AutoscalingConfig"},
                "status": {"type": "string", "enum": ["pending", "active", "deleted"]},
                "endpoint": {"type": "string"},
                "created_at": {"type": "string"},
                "deployed_at": {"type": "string"},
                "deleted_at": {"type": "string"}
            }
        },
        "functions.RegionOutcome": {
            "type": "object",
            "properties": {
                "region": {"type": "string"},
                "status": {"type": "string", "enum": ["success", "failed"]},
                "function_id": {"type": "string"},
                "endpoint": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "functions.MultiRegionResult": {
            "type": "object",
            "properties": {
                "deployment_id": {"type": "string"},
                "deployments": {"type": "array", "items": {"$ref": "#/definitions/functions.RegionOutcome"}},
                "global_endpoint": {"type": "string"}
            }
        },
        "functions.Deployment": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "project": {"type": "string"},
                "function_name": {"type": "string"},
                "regions": {"type": "array", "items": {"$ref": "#/definitions/functions.RegionOutcome"}},
                "global_endpoint": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "invocation.Billable": {
            "type": "object",
            "properties": {
                "invocations": {"type": "integer"},
                "compute_time_ms": {"type": "integer"},
                "memory_allocated_mb": {"type": "integer"}
            }
        },
        "invocation.Result": {
            "type": "object",
            "properties": {
                "result": {"type": "object"},
                "duration_ms": {"type": "integer"},
                "trace_id": {"type": "string"},
                "span_id": {"type": "string"},
                "billable": {"$ref": "#/definitions/invocation.Billable"}
            }
        },
        "billing.Bucket": {
            "type": "object",
            "properties": {
                "start": {"type": "string"},
                "count": {"type": "integer"},
                "avg_duration_ms": {"type": "number"},
                "max_duration_ms": {"type": "integer"},
                "p95_duration_ms": {"type": "integer"},
                "result_bytes": {"type": "integer"}
            }
        },
        "billing.Summary": {
            "type": "object",
            "properties": {
                "total_invocations": {"type": "integer"},
                "avg_duration_ms": {"type": "number"},
                "peak_invocations": {"type": "integer"},
                "total_compute_ms": {"type": "integer"},
                "total_result_bytes": {"type": "integer"},
                "gb_seconds": {"type": "number"},
                "estimated_cost": {"type": "number"}
            }
        },
        "billing.Report": {
            "type": "object",
            "properties": {
                "project": {"type": "string"},
                "name": {"type": "string"},
                "from": {"type": "string"},
                "to": {"type": "string"},
                "bucket_ns": {"type": "integer"},
                "series": {"type": "array", "items": {"$ref": "#/definitions/billing.Bucket"}},
                "summary": {"$ref": "#/definitions/billing.Summary"}
            }
        },
        "http.errorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "class": {"type": "string"},
                "trace_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "FaaS Controller API",
	Description:      "Deploys, scales, invokes and meters serverless functions across regions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
