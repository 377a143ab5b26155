package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "BrightClass File API",
        "description": "File storage and secure serving for the BrightClass teacher chat",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "tags": [
        {"name": "Files", "description": "Upload, manage and serve teacher files"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/uploads": {
            "get": {
                "tags": ["Files"],
                "summary": "List a teacher's files",
                "parameters": [
                    {"name": "teacherId", "in": "query", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Files"],
                "summary": "Upload a file",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "teacherId", "in": "formData", "required": true, "type": "string"},
                    {"name": "sessionId", "in": "formData", "type": "string"},
                    {"name": "messageId", "in": "formData", "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/{id}": {
            "get": {
                "tags": ["Files"],
                "summary": "Get file metadata",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "teacherId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Files"],
                "summary": "Delete a file and its metadata",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "teacherId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/{id}/url": {
            "get": {
                "tags": ["Files"],
                "summary": "Get a shareable URL for a file",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "teacherId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/quota": {
            "get": {
                "tags": ["Files"],
                "summary": "Get a teacher's storage quota position",
                "parameters": [
                    {"name": "teacherId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/files/{filepath}": {
            "get": {
                "tags": ["Files"],
                "summary": "Serve a stored file",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "filepath", "in": "path", "required": true, "type": "string"},
                    {"name": "ownerId", "in": "query", "type": "string"},
                    {"name": "sessionId", "in": "query", "type": "string"},
                    {"name": "token", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File body"},
                    "304": {"description": "Not modified"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "head": {
                "tags": ["Files"],
                "summary": "Probe a stored file",
                "parameters": [
                    {"name": "filepath", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Headers only"},
                    "404": {"description": "Not found"}
                }
            }
        }
    },
    "definitions": {
        "FileRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "teacherId": {"type": "string"},
                "storageKey": {"type": "string"},
                "originalName": {"type": "string"},
                "mimeType": {"type": "string"},
                "sizeBytes": {"type": "integer"},
                "backend": {"type": "string"},
                "etag": {"type": "string"},
                "thumbnailKey": {"type": "string"},
                "status": {"type": "string"},
                "sessionId": {"type": "string"},
                "messageId": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "QuotaUsage": {
            "type": "object",
            "properties": {
                "usedBytes": {"type": "integer"},
                "capBytes": {"type": "integer"}
            }
        },
        "FileLink": {
            "type": "object",
            "properties": {
                "url": {"type": "string"},
                "expiresAt": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {
                    "type": "array",
                    "items": {"type": "string"}
                }
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
