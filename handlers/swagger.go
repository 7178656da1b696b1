package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the document API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>revdoc - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "revdoc", "version": "v0.1.0" },
  "components": {
    "parameters": {
      "handle": { "name": "handle", "in": "path", "required": true, "description": "collection/key", "schema": {"type":"string"} },
      "rev": { "name": "rev", "in": "query", "description": "expected revision; If-Match takes precedence", "schema": {"type":"string"} },
      "policy": { "name": "policy", "in": "query", "schema": {"type":"string","enum":["error","last","last-write"]} },
      "ifMatch": { "name": "If-Match", "in": "header", "schema": {"type":"string"} }
    },
    "schemas": {
      "Ack": { "type":"object", "properties": {"error":{"type":"boolean"},"_id":{"type":"string"},"_rev":{"type":"string"},"_key":{"type":"string"}} },
      "Error": { "type":"object", "properties": {"error":{"type":"boolean"},"code":{"type":"integer"},"errorNum":{"type":"integer"},"errorMessage":{"type":"string"},"_id":{"type":"string"},"_rev":{"type":"string"},"_key":{"type":"string"}} }
    }
  },
  "paths": {
    "/_api/document": {
      "post": {
        "summary": "Create a document",
        "parameters": [ { "name": "collection", "in": "query", "required": true, "schema": {"type":"string"} } ],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object"} } } },
        "responses": { "201": { "description": "created; Location and ETag set" }, "400": { "description": "bad body, key or missing collection" }, "404": { "description": "unknown collection" }, "409": { "description": "key exists" } }
      },
      "get": {
        "summary": "List document handles of a collection",
        "parameters": [ { "name": "collection", "in": "query", "required": true, "schema": {"type":"string"} } ],
        "responses": { "200": { "description": "document paths" } }
      }
    },
    "/_api/document/{handle}": {
      "get": {
        "summary": "Read a document",
        "parameters": [ {"$ref":"#/components/parameters/handle"}, {"$ref":"#/components/parameters/rev"}, {"$ref":"#/components/parameters/policy"}, {"$ref":"#/components/parameters/ifMatch"} ],
        "responses": { "200": { "description": "document" }, "304": { "description": "not modified" }, "404": { "description": "unknown collection or document" }, "412": { "description": "revision mismatch" } }
      },
      "put": {
        "summary": "Replace a document",
        "parameters": [ {"$ref":"#/components/parameters/handle"}, {"$ref":"#/components/parameters/rev"}, {"$ref":"#/components/parameters/policy"}, {"$ref":"#/components/parameters/ifMatch"} ],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object"} } } },
        "responses": { "200": { "description": "new revision" }, "400": { "description": "bad handle, policy or body" }, "404": { "description": "unknown collection or document" }, "412": { "description": "revision mismatch" } }
      },
      "delete": {
        "summary": "Delete a document",
        "parameters": [ {"$ref":"#/components/parameters/handle"}, {"$ref":"#/components/parameters/rev"}, {"$ref":"#/components/parameters/policy"}, {"$ref":"#/components/parameters/ifMatch"} ],
        "responses": { "200": { "description": "revision at deletion" }, "400": { "description": "bad handle or policy" }, "404": { "description": "unknown collection or document" }, "412": { "description": "revision mismatch" } }
      }
    },
    "/_api/collection": {
      "post": { "summary": "Create a collection", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"name":{"type":"string"}}} } } }, "responses": { "200": { "description": "collection" }, "400": { "description": "illegal name" }, "409": { "description": "duplicate name" } } },
      "get": { "summary": "List collections", "responses": { "200": { "description": "collections" } } }
    },
    "/_api/collection/{collection}": {
      "get": { "summary": "Collection info", "responses": { "200": { "description": "collection" }, "404": { "description": "unknown collection" } } },
      "delete": { "summary": "Drop a collection and its documents", "responses": { "200": { "description": "dropped" }, "404": { "description": "unknown collection" } } }
    },
    "/_api/collection/{collection}/count": {
      "get": { "summary": "Number of documents", "responses": { "200": { "description": "count" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
