// Package swagger is generated by swag from the annotations in
// internal/server. Regenerate with `go generate ./internal/server`.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Proctor Maintainers",
            "url": "https://github.com/raysh454/proctor"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/sessions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Start an exam session",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.StartSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/api.StatusResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/close": {
            "post": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Close an exam session",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Freeze-check poll",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/strikes": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Current and remaining strikes",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StrikesResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/whoami": {
            "get": {
                "description": "Polled by the client IP tracker.",
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Client address as seen by the server",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.WhoAmIResponse"}}
                }
            }
        },
        "/api/sessions/{id}/violations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["moderation"],
                "summary": "Audit trail of a session",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"type": "object"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["moderation"],
                "summary": "Violation statistics of a session",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/terminate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["moderation"],
                "summary": "Terminate a session",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/api.TerminateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ViolationResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/warn": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["moderation"],
                "summary": "Send a warning to the student",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.WarningRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/sessions/{id}/violations/{record}/review": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["moderation"],
                "summary": "Confirm or reject a recorded violation",
                "description": "Rejecting marks a false positive; strikes are never given back.",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "record", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.ReviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/exams/{exam}/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["moderation"],
                "summary": "Dashboard rows for every session of an exam",
                "parameters": [
                    {"type": "string", "name": "exam", "in": "path", "required": true},
                    {"type": "boolean", "name": "active", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"type": "object"}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/violations": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["violations"],
                "summary": "Report a violation",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.ViolationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ViolationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "not found"},
                "fields": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "api.StartSessionRequest": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "examId": {"type": "string", "example": "midterm-2026"},
                "studentId": {"type": "string", "example": "stu-42"}
            }
        },
        "api.StatusResponse": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "examId": {"type": "string"},
                "studentId": {"type": "string"},
                "status": {"type": "string", "example": "ACTIVE"},
                "strikeCount": {"type": "integer"},
                "frozen": {"type": "boolean"},
                "terminated": {"type": "boolean"},
                "closed": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        },
        "api.WhoAmIResponse": {
            "type": "object",
            "properties": {
                "ip": {"type": "string", "example": "203.0.113.7"}
            }
        },
        "api.StrikesResponse": {
            "type": "object",
            "properties": {
                "currentStrikes": {"type": "integer", "example": 1},
                "remainingStrikes": {"type": "integer", "example": 4},
                "terminated": {"type": "boolean"}
            }
        },
        "api.ReviewRequest": {
            "type": "object",
            "properties": {
                "confirmed": {"type": "boolean", "example": false},
                "reason": {"type": "string", "example": "glare on glasses"}
            }
        },
        "api.WarningRequest": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "keep your eyes on the screen"}
            }
        },
        "api.TerminateRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string", "example": "confirmed use of a phone"}
            }
        },
        "api.ViolationRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "sessionId": {"type": "string"},
                "examId": {"type": "string"},
                "type": {"type": "string", "example": "TAB_SWITCH"},
                "severity": {"type": "string", "example": "MAJOR"},
                "confidence": {"type": "number", "example": 0.92},
                "consecutiveFrames": {"type": "integer"},
                "confirmed": {"type": "boolean"},
                "message": {"type": "string"},
                "evidence": {"type": "object"},
                "timestamp": {"type": "string"}
            }
        },
        "api.ViolationResponse": {
            "type": "object",
            "properties": {
                "violationId": {"type": "string"},
                "strikeCount": {"type": "integer", "example": 2},
                "remainingStrikes": {"type": "integer", "example": 3},
                "terminated": {"type": "boolean"},
                "frozen": {"type": "boolean"},
                "status": {"type": "string", "example": "WARNED"},
                "urgency": {"type": "string", "example": "warning"},
                "duplicate": {"type": "boolean"},
                "filtered": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Proctor API",
	Description:      "Violation intake, strike ledger and moderator controls for online exam proctoring.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
