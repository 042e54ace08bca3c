package api

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"sync"

	"gatekeeper/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed openapi/openapi.yaml
var openAPISpec []byte

const specURL = "/api/v1/openapi.yaml"

var (
	specETag = func() string {
		sum := sha256.Sum256(openAPISpec)
		return `"` + hex.EncodeToString(sum[:8]) + `"`
	}()

	specJSONOnce sync.Once
	specJSON     []byte
	specJSONErr  error
)

// openAPIJSON converts the embedded YAML document once, on first use.
func openAPIJSON() ([]byte, error) {
	specJSONOnce.Do(func() {
		var doc map[string]interface{}
		if specJSONErr = yaml.Unmarshal(openAPISpec, &doc); specJSONErr != nil {
			return
		}
		specJSON, specJSONErr = json.Marshal(doc)
	})
	return specJSON, specJSONErr
}

// ServeOpenAPISpec serves the OpenAPI 3.0.3 document as YAML.
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	writeSpec(w, r, "application/yaml", openAPISpec)
}

// ServeOpenAPIJSON serves the same document rendered as JSON, for tools that
// do not read YAML.
func (h *Handlers) ServeOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	body, err := openAPIJSON()
	if err != nil {
		slog.Error("Failed to render OpenAPI document as JSON", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}
	writeSpec(w, r, "application/json", body)
}

func writeSpec(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", specETag)
	if r.Header.Get("If-None-Match") == specETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
{{- if .ReDoc}}
  <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
{{- else}}
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
{{- end}}
</head>
<body>
{{- if .ReDoc}}
  <redoc spec-url="{{.SpecURL}}"></redoc>
{{- else}}
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '{{.SpecURL}}',
      dom_id: '#swagger-ui',
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: 'BaseLayout',
      deepLinking: true,
      displayRequestDuration: true
    });
  </script>
{{- end}}
</body>
</html>
`))

type docsPageData struct {
	Title   string
	SpecURL string
	ReDoc   bool
}

// ServeSwaggerUI serves an interactive Swagger UI that loads the OpenAPI spec.
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	renderDocs(w, docsPageData{Title: "Gatekeeper API - Documentation", SpecURL: specURL})
}

// ServeReDoc serves the read-only ReDoc rendering of the same document.
func (h *Handlers) ServeReDoc(w http.ResponseWriter, r *http.Request) {
	renderDocs(w, docsPageData{Title: "Gatekeeper API - Reference", SpecURL: specURL, ReDoc: true})
}

func renderDocs(w http.ResponseWriter, data docsPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if err := docsPage.Execute(w, data); err != nil {
		slog.Error("Failed to render documentation page", "error", err)
	}
}
