package http

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/samirrijal/bilbotrack/api"
)

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>BilboTrack API reference</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body style="margin:0">
  <div id="ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '%s',
      dom_id: '#ui',
      tryItOutEnabled: true,
      persistAuthorization: true,
      displayRequestDuration: true,
    });
  </script>
</body>
</html>`

var (
	specJSONOnce sync.Once
	specJSON     []byte
	specJSONErr  error
)

// openAPIJSON converts the embedded YAML document once.
func openAPIJSON() ([]byte, error) {
	specJSONOnce.Do(func() {
		var doc map[string]any
		if err := yaml.Unmarshal(api.OpenAPI, &doc); err != nil {
			specJSONErr = fmt.Errorf("parse openapi.yaml: %w", err)
			return
		}
		specJSON, specJSONErr = json.Marshal(doc)
	})
	return specJSON, specJSONErr
}

// SetupDocs serves the API reference UI at /docs and the OpenAPI document as
// /docs/openapi.yaml and /docs/openapi.json.
func SetupDocs(app *fiber.App) {
	page := fmt.Sprintf(docsPage, "/docs/openapi.yaml")

	docs := app.Group("/docs")
	docs.Get("/", func(c *fiber.Ctx) error {
		if c.Path() != "/docs" {
			return c.Redirect("/docs", fiber.StatusMovedPermanently)
		}
		c.Type("html", "utf-8")
		return c.SendString(page)
	})
	docs.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "application/yaml")
		c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
		return c.Send(api.OpenAPI)
	})
	docs.Get("/openapi.json", func(c *fiber.Ctx) error {
		body, err := openAPIJSON()
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
		return c.Send(body)
	})
}
