// Package docs holds the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/app/main.go -o docs
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/sessions": {
            "post": {
                "tags": ["sessions"],
                "summary": "Book a live session",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.bookSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/api.bookingResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.errorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            },
            "get": {
                "tags": ["sessions"],
                "summary": "List the caller's sessions",
                "parameters": [
                    {"name": "role", "in": "query", "type": "string", "enum": ["instructor", "student", "admin"]},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.sessionResponse"}}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "tags": ["sessions"],
                "summary": "Get a session",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.sessionDetailResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/sessions/{id}/start": {
            "patch": {
                "tags": ["sessions"],
                "summary": "Start a session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/api.startRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.transitionResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/api.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/sessions/{id}/end": {
            "patch": {
                "tags": ["sessions"],
                "summary": "Complete a session and capture its payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.endRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.transitionResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/api.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/sessions/{id}/cancel": {
            "patch": {
                "tags": ["sessions"],
                "summary": "Cancel a session and release its payment hold",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/api.cancelRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.transitionResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/legacy/sessions/{id}/complete": {
            "patch": {
                "tags": ["legacy"],
                "summary": "Complete a session (deprecated, use /sessions/{id}/end)",
                "deprecated": true,
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.endRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.transitionResponse"}}
                }
            }
        },
        "/reservations/{id}/confirm": {
            "post": {
                "tags": ["reservations"],
                "summary": "Bind the processor authorization to a reservation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.confirmRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.reservationResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.errorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.errorResponse"}}
                }
            }
        },
        "/admin/reservations/{id}/reconcile": {
            "post": {
                "tags": ["admin"],
                "summary": "Re-read processor state for a reservation (operators only)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/api.reconcileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.outcomeResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.errorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "string"}}
        },
        "api.bookSessionRequest": {
            "type": "object",
            "properties": {
                "instructorId": {"type": "string"},
                "scheduledStart": {"type": "string", "format": "date-time"},
                "scheduledEnd": {"type": "string", "format": "date-time"},
                "agreedAmount": {"type": "string", "example": "75.00"},
                "currency": {"type": "string", "example": "USD"}
            }
        },
        "api.paymentStep": {
            "type": "object",
            "properties": {"handle": {"type": "string"}, "clientSecret": {"type": "string"}}
        },
        "api.bookingResponse": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/api.sessionResponse"},
                "reservation": {"$ref": "#/definitions/api.reservationResponse"},
                "payment": {"$ref": "#/definitions/api.paymentStep"}
            }
        },
        "api.sessionDetailResponse": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/api.sessionResponse"},
                "reservation": {"$ref": "#/definitions/api.reservationResponse"}
            }
        },
        "api.sessionResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string", "enum": ["SCHEDULED", "IN_PROGRESS", "COMPLETED", "CANCELLED"]},
                "instructorId": {"type": "string"},
                "scheduledStart": {"type": "string", "format": "date-time"},
                "scheduledEnd": {"type": "string", "format": "date-time"},
                "actualStart": {"type": "string", "format": "date-time"},
                "actualEnd": {"type": "string", "format": "date-time"},
                "actualDuration": {"type": "integer"},
                "summary": {"type": "string"},
                "instructorNotes": {"type": "string"},
                "sessionArtifacts": {"type": "array", "items": {"type": "string"}},
                "cancellationReason": {"type": "string"},
                "reservationId": {"type": "string"},
                "payoutStatus": {"type": "string", "enum": ["NONE", "PENDING", "CAPTURED", "FAILED", "RELEASED"]},
                "version": {"type": "integer"},
                "updatedAt": {"type": "string", "format": "date-time"}
            }
        },
        "api.reservationResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "sessionId": {"type": "string"},
                "studentId": {"type": "string"},
                "agreedAmount": {"type": "string"},
                "currency": {"type": "string"},
                "authorizationStatus": {"type": "string"},
                "paymentStatus": {"type": "string"},
                "confirmed": {"type": "boolean"}
            }
        },
        "api.startRequest": {
            "type": "object",
            "properties": {"instructorNotes": {"type": "string"}}
        },
        "api.endRequest": {
            "type": "object",
            "required": ["summary", "actualDuration"],
            "properties": {
                "summary": {"type": "string"},
                "instructorNotes": {"type": "string"},
                "actualDuration": {"type": "integer"},
                "sessionArtifacts": {"type": "array", "items": {"type": "string"}}
            }
        },
        "api.cancelRequest": {
            "type": "object",
            "properties": {"reason": {"type": "string"}}
        },
        "api.confirmRequest": {
            "type": "object",
            "required": ["handle"],
            "properties": {"handle": {"type": "string"}}
        },
        "api.reconcileRequest": {
            "type": "object",
            "properties": {"recapture": {"type": "boolean"}}
        },
        "api.transitionResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "session": {"$ref": "#/definitions/api.sessionResponse"},
                "paymentCaptured": {"type": "boolean"},
                "paymentReleased": {"type": "boolean"},
                "reason": {"type": "string"},
                "repeated": {"type": "boolean"}
            }
        },
        "api.outcomeResponse": {
            "type": "object",
            "properties": {
                "captured": {"type": "boolean"},
                "released": {"type": "boolean"},
                "failed": {"type": "boolean"},
                "reason": {"type": "string"},
                "session": {"$ref": "#/definitions/api.sessionResponse"},
                "reservation": {"$ref": "#/definitions/api.reservationResponse"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Live Session API",
	Description:      "Paid live sessions: booking, lifecycle transitions and payment capture.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
