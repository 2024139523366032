package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Portfolio Review API",
        "description": "Distributed review of order portfolios: dataset snapshots, reviewer links, batch consolidation and projections",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Auth", "description": "Administrator login"},
        {"name": "Access", "description": "Reviewer links and capability tokens"},
        {"name": "Snapshots", "description": "Working dataset snapshots"},
        {"name": "Batches", "description": "Reviewer batch intake"},
        {"name": "Consolidation", "description": "Merging batches into the canonical map"},
        {"name": "Projection", "description": "Canonical map projected over the dataset"},
        {"name": "Reports", "description": "Asynchronous CSV/PDF exports"}
    ],
    "paths": {
        "/health": {
            "get": {"summary": "Health check", "responses": {"200": {"description": "OK"}}}
        },
        "/ready": {
            "get": {"summary": "Readiness check", "responses": {"200": {"description": "Ready"}, "503": {"description": "Unavailable"}}}
        },
        "/metrics": {
            "get": {"summary": "Prometheus metrics", "produces": ["text/plain"], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Administrator login",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current administrator",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/access": {
            "get": {
                "tags": ["Access"],
                "summary": "Open a reviewer link",
                "parameters": [
                    {"name": "reviewer", "in": "query", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"},
                    {"name": "month", "in": "query", "required": true, "type": "integer"},
                    {"name": "year", "in": "query", "required": true, "type": "integer"},
                    {"name": "fingerprint", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Dataset unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/batches": {
            "post": {
                "tags": ["Batches"],
                "summary": "Submit a reviewer batch",
                "parameters": [
                    {"name": "reviewer", "in": "query", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"},
                    {"name": "month", "in": "query", "required": true, "type": "integer"},
                    {"name": "year", "in": "query", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Batch"}}
                ],
                "responses": {
                    "200": {"description": "Duplicate", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/snapshots": {
            "post": {
                "tags": ["Snapshots"],
                "summary": "Store a working dataset",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SnapshotIngestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/snapshots/latest": {
            "get": {
                "tags": ["Snapshots"],
                "summary": "Latest working dataset",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/snapshots/{fingerprint}": {
            "delete": {
                "tags": ["Snapshots"],
                "summary": "Invalidate a working dataset",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "fingerprint", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "503": {"description": "Storage degraded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/links": {
            "post": {
                "tags": ["Access"],
                "summary": "Issue reviewer links",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueLinksRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/batches": {
            "get": {
                "tags": ["Batches"],
                "summary": "List submitted batches",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "period", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/consolidations": {
            "post": {
                "tags": ["Consolidation"],
                "summary": "Run a consolidation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConsolidationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/canonical": {
            "get": {
                "tags": ["Consolidation"],
                "summary": "Canonical revision map",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "period", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/metrics": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Request, cache and review counters",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/projection": {
            "get": {
                "tags": ["Projection"],
                "summary": "Canonical projection",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "period", "in": "query", "required": true, "type": "string"},
                    {"name": "fingerprint", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Dataset unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a rendered report",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "OrderLine": {
            "type": "object",
            "required": ["orderId", "reviewerId"],
            "properties": {
                "orderId": {"type": "string"},
                "materialId": {"type": "string"},
                "reviewerId": {"type": "string"},
                "balance": {"type": "string"},
                "quantity": {"type": "string"},
                "group": {"type": "string"},
                "directorate": {"type": "string"},
                "workDate": {"type": "string", "format": "date"},
                "creditStatus": {"type": "string"}
            }
        },
        "SnapshotIngestRequest": {
            "type": "object",
            "required": ["period", "rows"],
            "properties": {
                "period": {"type": "string", "example": "2025-09"},
                "columns": {"type": "array", "items": {"type": "string"}},
                "rows": {"type": "array", "items": {"$ref": "#/definitions/OrderLine"}}
            }
        },
        "IssueLinksRequest": {
            "type": "object",
            "required": ["month", "year"],
            "properties": {
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "fingerprint": {"type": "string"},
                "reviewers": {"type": "array", "items": {"type": "string"}}
            }
        },
        "RevisionRecord": {
            "type": "object",
            "properties": {
                "decidedAt": {"type": "string", "format": "date-time"},
                "action": {"type": "string", "enum": ["CONFIRMED", "RESCHEDULED"]},
                "newDueDate": {"type": "string", "format": "date"},
                "justification": {"type": "string"}
            }
        },
        "Batch": {
            "type": "object",
            "properties": {
                "version": {"type": "integer", "example": 2},
                "reviewerId": {"type": "string"},
                "period": {"type": "string"},
                "fingerprint": {"type": "string"},
                "exportedAt": {"type": "string", "format": "date-time"},
                "records": {"type": "object", "additionalProperties": {"$ref": "#/definitions/RevisionRecord"}}
            }
        },
        "ConsolidationRequest": {
            "type": "object",
            "required": ["period"],
            "properties": {
                "period": {"type": "string"},
                "fingerprint": {"type": "string"}
            }
        },
        "ReportRequest": {
            "type": "object",
            "required": ["type", "format", "period"],
            "properties": {
                "type": {"type": "string", "enum": ["projection", "completion", "conflicts"]},
                "format": {"type": "string", "enum": ["csv", "pdf"]},
                "period": {"type": "string"},
                "fingerprint": {"type": "string"},
                "reviewerId": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
