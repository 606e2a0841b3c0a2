package config

import (
	"encoding/json"
	"net/http"

	"github.com/invopop/jsonschema"
)

// Schema 配置文件的 JSON Schema，供编辑器校验 TOML 使用
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	s := r.Reflect(&File{})
	s.Title = "zonearena match configuration"
	s.Description = "TOML match file loaded by the arena server; every field is optional and falls back to the built-in defaults."
	return s
}

// HandleSchema GET /admin/schema
func HandleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(data)
}
