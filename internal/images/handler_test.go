package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/imagebox/service/internal/index"
	appMiddleware "github.com/imagebox/service/internal/middleware"
)

const testJWTSecret = "test-secret"
const testSubject = "8c2f7a9e-6f3d-4a57-9d66-0f6f4f2a9d11"

// newTestServer mounts the handler on the same route shape the server uses.
func newTestServer(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	svc := newTestService(t)
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Get("/api/image/{id}", h.GetOriginal)
	r.Get("/api/image/{id}/{size}/{format}", h.GetVariant)
	r.Get("/api/info/{id}", h.GetInfo)
	r.Get("/api/images", h.List)
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.RequireAuth(testJWTSecret))
		r.Post("/api/upload", h.Upload)
		r.Delete("/api/image/{id}", h.Delete)
		r.Get("/api/image/{id}/url", h.GetTemporaryURL)
	})
	return r, svc
}

func bearerHeader(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testSubject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return "Bearer " + signed
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// multipartBodyWithType is multipartBody with an explicit part Content-Type,
// which CreateFormFile would otherwise pin to application/octet-stream.
func multipartBodyWithType(t *testing.T, field, filename, partType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", partType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

type envelopeBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestUploadEndpointCreatesAsset(t *testing.T) {
	r, _ := newTestServer(t)

	body, contentType := multipartBody(t, "image", "photo.png", pngFixture(t, 64, 64))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		File    struct {
			ID         string            `json:"id"`
			Filename   string            `json:"filename"`
			MimeType   string            `json:"mimetype"`
			UploadedBy string            `json:"uploadedBy"`
			URL        string            `json:"url"`
			URLs       map[string]string `json:"urls"`
		} `json:"file"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("upload response not successful")
	}
	if resp.File.ID == "" || resp.File.URL == "" {
		t.Fatalf("incomplete file body: %+v", resp.File)
	}
	if resp.File.UploadedBy != testSubject {
		t.Fatalf("uploadedBy %q, want the token subject", resp.File.UploadedBy)
	}
	if resp.File.URLs["thumbnail"] == "" || resp.File.URLs["original"] == "" {
		t.Fatalf("variant urls missing: %v", resp.File.URLs)
	}
}

func TestUploadEndpointRejectsAnonymous(t *testing.T) {
	r, _ := newTestServer(t)

	body, contentType := multipartBody(t, "image", "photo.png", pngFixture(t, 8, 8))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	var env envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Success {
		t.Fatal("unauthorized response claims success")
	}
}

func TestUploadEndpointRejectsBadRequests(t *testing.T) {
	r, _ := newTestServer(t)

	// Wrong multipart field name.
	body, contentType := multipartBody(t, "file", "photo.png", pngFixture(t, 8, 8))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong field: status %d, want 400", rec.Code)
	}

	// Disallowed file type.
	body, contentType = multipartBody(t, "image", "notes.txt", []byte("plain text"))
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerHeader(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type: status %d, want 400", rec.Code)
	}
}

func TestUploadEndpointRejectsNonImageContentType(t *testing.T) {
	r, svc := newTestServer(t)

	// An image filename with an html payload and declared type must never
	// become servable content under this origin.
	body, contentType := multipartBodyWithType(t, "image", "page.png", "text/html", []byte("<script>alert(1)</script>"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body.String())
	}
	assets, err := svc.idx.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("rejected upload left %d index records", len(assets))
	}
}

func TestGetOriginalEndpoint(t *testing.T) {
	r, svc := newTestServer(t)
	data := pngFixture(t, 48, 48)
	a, err := svc.Upload(context.Background(), data, "photo.png", "", "", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/image/"+a.ID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Fatal("served bytes differ from the upload")
	}
}

func TestGetOriginalEndpointNotFound(t *testing.T) {
	r, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/image/no-such-id", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	var env envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Success || env.Message != "image not found" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestGetVariantEndpoint(t *testing.T) {
	r, svc := newTestServer(t)
	a, err := svc.Upload(context.Background(), pngFixture(t, 400, 200), "photo.png", "", "", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/image/"+a.ID+"/thumbnail/png", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=31536000, immutable" {
		t.Fatalf("cache control %q", cc)
	}
	w, h, format := decodeBounds(t, rec.Body.Bytes())
	if format != "png" || w > 150 || h > 150 {
		t.Fatalf("variant is %dx%d %s, want png within 150x150", w, h, format)
	}
}

func TestGetVariantEndpointRejectsBadTokens(t *testing.T) {
	r, _ := newTestServer(t)

	for _, path := range []string{
		"/api/image/whatever/999z/png",
		"/api/image/whatever/thumbnail/exr",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", path, rec.Code)
		}
	}
}

func TestDeleteEndpointAlwaysSucceeds(t *testing.T) {
	r, svc := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/image/never-there", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown id: status %d, want 200", rec.Code)
	}

	a, err := svc.Upload(context.Background(), pngFixture(t, 32, 32), "photo.png", "", "", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	req = httptest.NewRequest(http.MethodDelete, "/api/image/"+a.ID, nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var env envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Success || env.Message != "image deleted" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if _, err := svc.idx.Get(context.Background(), a.ID); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("record survived delete: %v", err)
	}
}

func TestInfoEndpoint(t *testing.T) {
	r, svc := newTestServer(t)
	a, err := svc.Upload(context.Background(), pngFixture(t, 320, 200), "photo.png", "", "", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/info/"+a.ID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var resp struct {
		ID       string `json:"id"`
		Metadata struct {
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Format string `json:"format"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != a.ID {
		t.Fatalf("id %q, want %q", resp.ID, a.ID)
	}
	if resp.Metadata.Width != 320 || resp.Metadata.Height != 200 || resp.Metadata.Format != "png" {
		t.Fatalf("metadata %+v", resp.Metadata)
	}
}

func TestListEndpoint(t *testing.T) {
	r, svc := newTestServer(t)
	ctx := context.Background()
	if _, err := svc.Upload(ctx, pngFixture(t, 16, 16), "one.png", "", "", ""); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := svc.Upload(ctx, pngFixture(t, 16, 16), "two.png", "", "", ""); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/images", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Images  []struct {
			ID   string            `json:"id"`
			URLs map[string]string `json:"urls"`
		} `json:"images"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || len(resp.Images) != 2 {
		t.Fatalf("unexpected list response: %+v", resp)
	}
	if resp.Images[0].URLs["original"] == "" {
		t.Fatal("listed image carries no variant urls")
	}
}

func TestTemporaryURLEndpoint(t *testing.T) {
	r, svc := newTestServer(t)
	a, err := svc.Upload(context.Background(), pngFixture(t, 16, 16), "photo.png", "", "", "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/image/"+a.ID+"/url?ttl=60", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success   bool      `json:"success"`
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.URL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expiry %v already passed", resp.ExpiresAt)
	}

	// Out-of-range lifetimes are rejected.
	for _, ttl := range []string{"0", "-5", "notanumber", "604801"} {
		req := httptest.NewRequest(http.MethodGet, "/api/image/"+a.ID+"/url?ttl="+ttl, nil)
		req.Header.Set("Authorization", bearerHeader(t))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("ttl %q: status %d, want 400", ttl, rec.Code)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/api/image/never-there/url", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status %d, want 404", rec.Code)
	}
}
