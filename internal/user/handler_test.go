package user

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/wichananm65/matchup-backend/internal/auth"
	"github.com/wichananm65/matchup-backend/internal/upload"
)

type fakePublisher struct {
	url   string
	err   error
	calls int
}

func (p *fakePublisher) Publish(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.url, nil
}

func makeAppWithUserHandler(seed []User, photos PhotoPublisher) (*fiber.App, *InMemoryRepository) {
	repo := NewInMemoryRepository(seed)
	service := NewService(repo, nil, 0, zerolog.Nop())
	handler := NewHandler(service, photos, auth.NewGuard(""), zerolog.Nop())

	app := fiber.New()
	handler.RegisterRoutes(app.Group("/api"))
	return app, repo
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, fileSize int) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		part, err := w.CreateFormFile("photo", fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(bytes.Repeat([]byte{0xff}, fileSize)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return body, w.FormDataContentType()
}

func send(t *testing.T, app *fiber.App, req *http.Request) (int, []byte) {
	t.Helper()
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, b
}

func seedPair() []User {
	return []User{
		{ID: "u1", ExternalID: "ext-1", FirstName: "Ann", LastName: "One", Phone: "111", Instagram: "@ann", PhotoURL: "http://p/1.png"},
		{ID: "u2", ExternalID: "ext-2", FirstName: "Ben", LastName: "Two", Likes: []string{"u1"}, Matches: []string{"u1"}},
	}
}

func TestRoutesRegistered(t *testing.T) {
	app, _ := makeAppWithUserHandler(nil, &fakePublisher{})

	routes := map[string]bool{}
	for _, grp := range app.Stack() {
		for _, r := range grp {
			routes[r.Method+" "+r.Path] = true
		}
	}
	for _, want := range []string{
		"POST /api/users",
		"GET /api/users",
		"GET /api/users/clerk/:externalId",
		"PUT /api/users/clerk/:externalId",
		"PATCH /api/users/clerk/:externalId/needs-update",
		"GET /api/users/clerk/:externalId/matches",
		"GET /api/users/:id",
		"GET /api/users/:id/matches",
	} {
		if !routes[want] {
			t.Fatalf("expected route %q to be registered", want)
		}
	}
}

func TestCreateUser_WithPhoto(t *testing.T) {
	photos := &fakePublisher{url: "http://localhost:5000/uploads/1-2.png"}
	app, repo := makeAppWithUserHandler(nil, photos)

	body, ct := multipartBody(t, map[string]string{
		"clerkId":   "ext-9",
		"firstName": "Zoe",
		"lastName":  "Nine",
		"instagram": "@zoe",
	}, "me.png", 16)
	req := httptest.NewRequest("POST", "/api/users", body)
	req.Header.Set("Content-Type", ct)

	status, b := send(t, app, req)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d %s", status, b)
	}

	var out struct {
		Message string `json:"message"`
		User    User   `json:"user"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message != "User created" || out.User.ExternalID != "ext-9" || out.User.PhotoURL != photos.url {
		t.Fatalf("unexpected create response %s", b)
	}
	if out.User.ID == "" || out.User.ProfileIncomplete {
		t.Fatalf("expected id assigned and profile complete, got %+v", out.User)
	}
	if photos.calls != 1 {
		t.Fatalf("expected one publish call, got %d", photos.calls)
	}

	if _, err := repo.GetByExternalID(context.Background(), "ext-9"); err != nil {
		t.Fatalf("user not stored: %v", err)
	}
}

func TestCreateUser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		file    string
		pubErr  error
		status  int
		message string
	}{
		{"missing first name", map[string]string{"clerkId": "ext-9"}, "", nil, fiber.StatusBadRequest, "invalid input: firstName required"},
		{"duplicate clerk id", map[string]string{"clerkId": "ext-1", "firstName": "Again"}, "", nil, fiber.StatusConflict, "User already exists"},
		{"bad extension", map[string]string{"clerkId": "ext-9", "firstName": "Zoe"}, "me.gif", upload.ErrInvalidFile, fiber.StatusBadRequest, "Only JPG, JPEG and PNG files are allowed"},
		{"too large", map[string]string{"clerkId": "ext-9", "firstName": "Zoe"}, "me.png", upload.ErrFileTooLarge, fiber.StatusBadRequest, "Upload error: File too large"},
		{"uploader down", map[string]string{"clerkId": "ext-9", "firstName": "Zoe"}, "me.png", errors.New("disk full"), fiber.StatusInternalServerError, "Failed to upload photo"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := makeAppWithUserHandler(seedPair(), &fakePublisher{err: tc.pubErr})

			body, ct := multipartBody(t, tc.fields, tc.file, 8)
			req := httptest.NewRequest("POST", "/api/users", body)
			req.Header.Set("Content-Type", ct)

			status, b := send(t, app, req)
			var out map[string]any
			_ = json.Unmarshal(b, &out)
			if status != tc.status || out["message"] != tc.message {
				t.Fatalf("expected %d %q, got %d %s", tc.status, tc.message, status, b)
			}
		})
	}
}

func TestGetUserByExternalID(t *testing.T) {
	app, _ := makeAppWithUserHandler(seedPair(), &fakePublisher{})

	status, b := send(t, app, httptest.NewRequest("GET", "/api/users/clerk/ext-1", nil))
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out["exists"] != true || out["_id"] != "u1" || out["clerkId"] != "ext-1" {
		t.Fatalf("unexpected body %s", b)
	}

	status, b = send(t, app, httptest.NewRequest("GET", "/api/users/clerk/unknown-id", nil))
	if status != fiber.StatusNotFound || strings.TrimSpace(string(b)) != `{"exists":false}` {
		t.Fatalf("expected 404 exists:false, got %d %s", status, b)
	}
}

func TestUpdateUser_PartialMultipart(t *testing.T) {
	seed := seedPair()
	seed[0].ProfileIncomplete = true
	app, repo := makeAppWithUserHandler(seed, &fakePublisher{url: "http://p/new.png"})

	body, ct := multipartBody(t, map[string]string{"phone": "999"}, "new.jpg", 8)
	req := httptest.NewRequest("PUT", "/api/users/clerk/ext-1", body)
	req.Header.Set("Content-Type", ct)

	status, b := send(t, app, req)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d %s", status, b)
	}

	u, _ := repo.GetByExternalID(context.Background(), "ext-1")
	if u.Phone != "999" || u.PhotoURL != "http://p/new.png" {
		t.Fatalf("expected phone and photo updated, got %+v", u)
	}
	if u.FirstName != "Ann" || u.Instagram != "@ann" {
		t.Fatalf("fields not sent must be kept, got %+v", u)
	}
	if u.ProfileIncomplete {
		t.Fatal("update should clear updateNeeded")
	}
}

func TestUpdateUser_JSONAndErrors(t *testing.T) {
	photos := &fakePublisher{url: "http://p/x.png"}
	app, repo := makeAppWithUserHandler(seedPair(), photos)

	req := httptest.NewRequest("PUT", "/api/users/clerk/ext-2", strings.NewReader(`{"lastName":"Changed"}`))
	req.Header.Set("Content-Type", "application/json")
	if status, b := send(t, app, req); status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d %s", status, b)
	}
	if u, _ := repo.GetByExternalID(context.Background(), "ext-2"); u.LastName != "Changed" || u.FirstName != "Ben" {
		t.Fatalf("unexpected user after json update %+v", u)
	}

	req = httptest.NewRequest("PUT", "/api/users/clerk/ext-2", strings.NewReader(`{"firstName":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	if status, _ := send(t, app, req); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for blank first name, got %d", status)
	}

	body, ct := multipartBody(t, map[string]string{"firstName": "X"}, "a.png", 4)
	req = httptest.NewRequest("PUT", "/api/users/clerk/ghost", body)
	req.Header.Set("Content-Type", ct)
	if status, _ := send(t, app, req); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", status)
	}
	if photos.calls != 0 {
		t.Fatalf("photo must not be published for unknown user, got %d calls", photos.calls)
	}
}

func TestMarkUpdateNeeded(t *testing.T) {
	app, repo := makeAppWithUserHandler(seedPair(), &fakePublisher{})

	status, _ := send(t, app, httptest.NewRequest("PATCH", "/api/users/clerk/ext-1/needs-update", nil))
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if u, _ := repo.GetByExternalID(context.Background(), "ext-1"); !u.ProfileIncomplete {
		t.Fatal("expected updateNeeded to be set")
	}

	status, _ = send(t, app, httptest.NewRequest("PATCH", "/api/users/clerk/ghost/needs-update", nil))
	if status != fiber.StatusOK {
		t.Fatalf("unknown user should still answer 200, got %d", status)
	}
}

func TestListAndMatches(t *testing.T) {
	app, _ := makeAppWithUserHandler(seedPair(), &fakePublisher{})

	status, b := send(t, app, httptest.NewRequest("GET", "/api/users", nil))
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var feed []map[string]any
	if err := json.Unmarshal(b, &feed); err != nil {
		t.Fatal(err)
	}
	if len(feed) != 2 {
		t.Fatalf("expected unfiltered feed of 2, got %d", len(feed))
	}
	if _, ok := feed[0]["phone"]; ok {
		t.Fatalf("feed must not expose phone: %s", b)
	}

	status, b = send(t, app, httptest.NewRequest("GET", "/api/users?exclude=ext-2", nil))
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	feed = nil
	_ = json.Unmarshal(b, &feed)
	if len(feed) != 0 {
		t.Fatalf("ext-2 already liked u1 so the filtered feed is empty, got %s", b)
	}

	status, b = send(t, app, httptest.NewRequest("GET", "/api/users/clerk/ext-2/matches", nil))
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var matches []MatchProfile
	if err := json.Unmarshal(b, &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "u1" || matches[0].Instagram != "@ann" || matches[0].Phone != "111" {
		t.Fatalf("unexpected matches %s", b)
	}

	if status, _ := send(t, app, httptest.NewRequest("GET", "/api/users/u2/matches", nil)); status != fiber.StatusOK {
		t.Fatalf("expected 200 for matches by id, got %d", status)
	}
	if status, _ := send(t, app, httptest.NewRequest("GET", "/api/users/nope/matches", nil)); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown user matches, got %d", status)
	}
	if status, _ := send(t, app, httptest.NewRequest("GET", "/api/users/nope", nil)); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", status)
	}
}

func TestRejectedProfileLeavesNoPhoto(t *testing.T) {
	dir := t.TempDir()
	photos := upload.NewPhotos(upload.NewStager(dir, upload.DefaultMaxBytes), upload.NewLocalUploader(dir, "http://localhost:5000"))
	app, _ := makeAppWithUserHandler(seedPair(), photos)

	tests := []struct {
		name   string
		method string
		path   string
		fields map[string]string
		status int
	}{
		{"create without first name", "POST", "/api/users", map[string]string{"clerkId": "ext-9"}, fiber.StatusBadRequest},
		{"create with taken clerk id", "POST", "/api/users", map[string]string{"clerkId": "ext-1", "firstName": "Again"}, fiber.StatusConflict},
		{"update blanking first name", "PUT", "/api/users/clerk/ext-1", map[string]string{"firstName": " "}, fiber.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.fields, "me.png", 16)
			req := httptest.NewRequest(tc.method, tc.path, body)
			req.Header.Set("Content-Type", ct)

			status, b := send(t, app, req)
			if status != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, status, b)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Fatalf("rejected request published %d file(s)", len(entries))
			}
		})
	}

	body, ct := multipartBody(t, map[string]string{"clerkId": "ext-9", "firstName": "Zoe"}, "me.png", 16)
	req := httptest.NewRequest("POST", "/api/users", body)
	req.Header.Set("Content-Type", ct)
	if status, b := send(t, app, req); status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d %s", status, b)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 1 {
		t.Fatalf("expected accepted photo to be published, found %d file(s)", len(entries))
	}
}

func TestListUsers_ExcludeNeedsOwnToken(t *testing.T) {
	const secret = "feed-secret"
	guard := auth.NewGuard(secret)
	repo := NewInMemoryRepository(seedPair())
	handler := NewHandler(NewService(repo, nil, 0, zerolog.Nop()), &fakePublisher{}, guard, zerolog.Nop())

	app := fiber.New()
	handler.RegisterRoutes(app.Group("/api", guard.Middleware(PublicRoute)))

	sign := func(sub string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"plain feed is public", "/api/users", "", fiber.StatusOK},
		{"filtered feed without token", "/api/users?exclude=ext-1", "", fiber.StatusUnauthorized},
		{"filtered feed for someone else", "/api/users?exclude=ext-1", sign("ext-2"), fiber.StatusForbidden},
		{"filtered feed for self", "/api/users?exclude=ext-1", sign("ext-1"), fiber.StatusOK},
		{"other routes need a token", "/api/users/u1", "", fiber.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			if status, b := send(t, app, req); status != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, status, b)
			}
		})
	}
}
