package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mtelegin/herald/internal/config"
	"github.com/mtelegin/herald/internal/template"
)

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func createTemplate(t *testing.T, srv *Server, req TemplateRequest) template.Template {
	t.Helper()
	w := postJSON(t, srv, "/api/v1/templates", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create template status = %d, body %s", w.Code, w.Body.String())
	}
	var tmpl template.Template
	if err := json.Unmarshal(w.Body.Bytes(), &tmpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	return tmpl
}

func TestTemplateCRUD(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	tmpl := createTemplate(t, srv, TemplateRequest{
		Name: "welcome",
		Body: "Hello {{.contact_id}}",
	})
	if tmpl.ID == "" || tmpl.Version != 1 {
		t.Errorf("created = id %q version %d", tmpl.ID, tmpl.Version)
	}

	w := getPath(srv, "/api/v1/templates/"+tmpl.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = getPath(srv, "/api/v1/templates")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []template.Template
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list has %d templates, want 1", len(list))
	}

	w = doJSON(t, srv, http.MethodPut, "/api/v1/templates/"+tmpl.ID, TemplateRequest{
		Name: "welcome",
		Body: "Hi {{.contact_id}}",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated template.Template
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("updated version = %d, want 2", updated.Version)
	}

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/templates/"+tmpl.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = getPath(srv, "/api/v1/templates/"+tmpl.ID)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestTemplateDuplicateNameConflict(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	createTemplate(t, srv, TemplateRequest{Name: "promo", Body: "one"})
	w := postJSON(t, srv, "/api/v1/templates", TemplateRequest{Name: "promo", Body: "two"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", w.Code)
	}
}

func TestTemplateInvalidBodyRejected(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	w := postJSON(t, srv, "/api/v1/templates", TemplateRequest{
		Name: "broken",
		Body: "Hello {{.contact_id",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", w.Code)
	}
}

func TestTemplatePreview(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	tmpl := createTemplate(t, srv, TemplateRequest{
		Name: "greeting",
		Body: "Hello {{.name}}, your code is {{.code}}",
	})

	w := postJSON(t, srv, "/api/v1/templates/"+tmpl.ID+"/preview", PreviewRequest{
		Data: map[string]string{"name": "Ann", "code": "42"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("preview status = %d, body %s", w.Code, w.Body.String())
	}
	var resp PreviewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if resp.Rendered != "Hello Ann, your code is 42" {
		t.Errorf("rendered = %q", resp.Rendered)
	}
}

func TestCreateCampaignFromStoredTemplate(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{})

	tmpl := createTemplate(t, srv, TemplateRequest{
		Name: "launch",
		Body: "We are live, {{.contact_id}}",
	})

	req := validRequest()
	req.Template = ""
	req.TemplateID = tmpl.ID
	w := postJSON(t, srv, "/api/v1/campaigns", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	req = validRequest()
	req.Template = ""
	req.TemplateID = "missing"
	w = postJSON(t, srv, "/api/v1/campaigns", req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown template status = %d, want 404", w.Code)
	}
}
