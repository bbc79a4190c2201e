package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the provider service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>carbontrail provider - Swagger</title>
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
  "info": { "title": "carbontrail-provider", "version": "v0.2.0" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } } },
  "paths": {
    "/auth/signup": {
      "post": { "summary": "Register a user", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"},"data":{"type":"object"}}}}}}, "responses": { "200": { "description": "user created" }, "422": { "description": "invalid email, weak password or email taken" } } }
    },
    "/auth/verify": {
      "get": { "summary": "Confirm an email address", "parameters": [{"name":"token","in":"query","required":true,"schema":{"type":"string"}}], "responses": { "303": { "description": "redirect to the site" }, "400": { "description": "invalid token" } } }
    },
    "/auth/token": {
      "post": { "summary": "Password or refresh_token grant", "requestBody": { "content": { "application/x-www-form-urlencoded": { "schema": {"type":"object","properties":{"grant_type":{"type":"string"},"username":{"type":"string"},"password":{"type":"string"},"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "tokens and user" }, "400": { "description": "invalid_grant" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Revoke the access token and refresh session", "security": [{"bearer": []}], "responses": { "204": { "description": "logged out" } } }
    },
    "/auth/recover": {
      "post": { "summary": "Send a password recovery mail", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"redirect_to":{"type":"string"}}}}}}, "responses": { "200": { "description": "accepted" } } }
    },
    "/auth/reset": {
      "post": { "summary": "Set a new password with a recovery token", "responses": { "200": { "description": "user" }, "400": { "description": "invalid token" } } }
    },
    "/auth/user": {
      "get": { "summary": "Current user", "security": [{"bearer": []}], "responses": { "200": { "description": "user" } } },
      "put": { "summary": "Update metadata or password", "security": [{"bearer": []}], "responses": { "200": { "description": "user" } } }
    },
    "/rest/profiles": {
      "post": { "summary": "Insert the caller's profile unless it exists", "security": [{"bearer": []}], "responses": { "200": { "description": "existing row" }, "201": { "description": "created" } } }
    },
    "/rest/profiles/{id}": {
      "get": { "summary": "Read a profile", "security": [{"bearer": []}], "responses": { "200": { "description": "profile" }, "404": { "description": "no_rows" } } },
      "put": { "summary": "Overwrite the mutable profile fields", "security": [{"bearer": []}], "responses": { "200": { "description": "profile" } } }
    },
    "/rest/profiles/{id}/avatar": {
      "put": { "summary": "Set the avatar URL", "security": [{"bearer": []}], "responses": { "200": { "description": "profile" } } }
    },
    "/storage/avatars/{path}": {
      "put": { "summary": "Upload an avatar (image, at most 5 MiB)", "security": [{"bearer": []}], "responses": { "200": { "description": "stored" }, "409": { "description": "exists and x-upsert is false" }, "413": { "description": "too large" }, "415": { "description": "not an image" } } }
    },
    "/storage/public/avatars/{path}": {
      "get": { "summary": "Download an avatar", "responses": { "200": { "description": "object" }, "404": { "description": "not found" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
