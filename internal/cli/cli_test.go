package cli

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coliblanco-backend/internal/middleware"
	"coliblanco-backend/internal/models"
)

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string]bool{"session": false, "chat": false, "tts": false, "transcribe": false, "token": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestPrintJSON(t *testing.T) {
	data := []byte(`{"client_secret":{"value":"tok_1","expires_at":42},"list":[1,2]}`)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "scalar", path: "client_secret.value", want: "tok_1\n"},
		{name: "number", path: "client_secret.expires_at", want: "42\n"},
		{name: "array", path: "list", want: "[\n  1,\n  2\n]\n"},
		{name: "missing", path: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printJSON(&buf, data, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestAPIError(t *testing.T) {
	err := apiError(502, []byte(`{"error":{"code":"UPSTREAM_ERROR","message":"Chat completion failed"}}`))
	if err.Error() != "backend responded 502 UPSTREAM_ERROR: Chat completion failed" {
		t.Errorf("unexpected error %q", err)
	}

	err = apiError(404, []byte("404 page not found\n"))
	if err.Error() != "backend responded 404: 404 page not found" {
		t.Errorf("unexpected error %q", err)
	}
}

func TestBuildChatRequest(t *testing.T) {
	req := buildChatRequest("Be brief.", "", "Hoi")
	if len(req.Messages) != 2 || req.Messages[0].Role != models.RoleSystem || req.Messages[1].Content != "Hoi" {
		t.Fatalf("unexpected request %+v", req)
	}

	req = buildChatRequest("", "gpt-4o", "Hoi")
	if len(req.Messages) != 1 || req.Model != "gpt-4o" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_secret":{"value":"v","expires_at":1}}`))
	}))
	defer srv.Close()

	c := &client{baseURL: srv.URL, token: "abc", http: srv.Client()}
	data, err := c.getJSON(context.Background(), "/session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if !strings.Contains(string(data), `"value":"v"`) {
		t.Errorf("unexpected body %s", data)
	}
}

func TestTranscribeForm(t *testing.T) {
	body, contentType, err := transcribeForm("note.wav", []byte("RIFF"), "nl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		t.Fatalf("bad content type %q: %v", contentType, err)
	}
	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("failed to read form: %v", err)
	}
	if form.Value["language"][0] != "nl" {
		t.Errorf("expected language nl, got %v", form.Value["language"])
	}
	fh := form.File["file"][0]
	if fh.Filename != "note.wav" || fh.Header.Get("Content-Type") != "audio/wav" {
		t.Errorf("unexpected file part %s %s", fh.Filename, fh.Header.Get("Content-Type"))
	}
	f, _ := fh.Open()
	data, _ := io.ReadAll(f)
	if string(data) != "RIFF" {
		t.Errorf("unexpected file data %q", data)
	}
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--secret", "s3cr3t", "--ttl", "1h", "kiosk-1"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subject, err := middleware.NewJWTAuth("s3cr3t").ParseToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if subject != "kiosk-1" {
		t.Errorf("expected subject kiosk-1, got %q", subject)
	}
	if tokenTTL != time.Hour {
		t.Errorf("expected ttl flag to parse, got %v", tokenTTL)
	}
}
