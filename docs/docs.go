// Package docs registers the chatd OpenAPI document with swag.
// Regenerate with: swag init -g cmd/chatd/docs.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "chatd maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chat": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Run one conversational turn",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/chat/stream": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["text/plain"],
                "summary": "Stream one conversational turn token by token",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ChatRequest"}}
                ],
                "responses": {
                    "200": {
                        "description": "Token stream; a failure after partial output is reported in the X-Chat-Error trailer",
                        "schema": {"type": "string"},
                        "headers": {"X-Stream-Id": {"type": "string"}}
                    },
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/reset": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Clear a model's conversation log",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ResetResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Cached handles and templates",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {"produces": ["text/plain"], "summary": "Liveness probe", "responses": {"200": {"description": "ok"}}}
        },
        "/readyz": {
            "get": {
                "produces": ["text/plain"],
                "summary": "Readiness probe",
                "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}
            }
        }
    },
    "definitions": {
        "types.ChatRequest": {
            "type": "object",
            "properties": {
                "user_input": {"type": "string", "example": "Hello, who are you?"},
                "model": {"type": "string", "example": "mistral"},
                "temperature": {"type": "number", "example": 0.3},
                "use_vector_memory": {"type": "boolean", "example": false}
            }
        },
        "types.ChatResponse": {
            "type": "object",
            "properties": {
                "response": {"type": "string", "example": "Hi there! How can I help?"},
                "elapsed_time": {"type": "number", "example": 1.42}
            }
        },
        "types.ResetResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "ok"},
                "message": {"type": "string", "example": "Conversation reset for model mistral"}
            }
        },
        "types.FieldError": {
            "type": "object",
            "properties": {
                "field": {"type": "string", "example": "temperature"},
                "rule": {"type": "string", "example": "lte"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400},
                "details": {"type": "array", "items": {"$ref": "#/definitions/types.FieldError"}}
            }
        },
        "types.HandleStatus": {
            "type": "object",
            "properties": {
                "model_id": {"type": "string", "example": "mistral"},
                "temperature": {"type": "number", "example": 0.3},
                "top_k": {"type": "integer", "example": 40},
                "top_p": {"type": "number", "example": 0.9},
                "max_tokens": {"type": "integer", "example": 400},
                "created_unix": {"type": "integer", "example": 1700000000}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "handles": {"type": "array", "items": {"$ref": "#/definitions/types.HandleStatus"}},
                "templates": {"type": "array", "items": {"type": "string"}},
                "backend": {"type": "string", "example": "ollama"},
                "ready": {"type": "boolean", "example": true},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "server_time_unix": {"type": "integer", "example": 1700000000}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "chatd API",
	Description:      "HTTP API for chatting with locally hosted language models.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
