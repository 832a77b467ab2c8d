package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "opengovfood")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoadRemove(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
	if err := removeToken(); err != nil {
		t.Fatalf("removeToken: %v", err)
	}
	if err := removeToken(); err != nil {
		t.Fatalf("removeToken twice: %v", err)
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	cfg, err := loadTLS("", true)
	if err != nil || cfg == nil || !cfg.InsecureSkipVerify {
		t.Fatalf("insecure: %v %v", cfg, err)
	}
	cfg, err = loadTLS("", false)
	if err != nil || cfg != nil {
		t.Fatalf("default tls: %v %v", cfg, err)
	}
	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	if cfg, err = loadTLS(tmp, false); err == nil || cfg != nil {
		t.Fatalf("bad CA should error, got cfg=%v err=%v", cfg, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})

	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Fatalf("printJSON should indent")
	}
}

// fakeAPI answers the subset of routes the CLI calls and records what it saw.
type fakeAPI struct {
	t        *testing.T
	lastAuth string
	lastPath string
	lastBody map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastAuth = r.Header.Get("Authorization")
	f.lastPath = r.URL.RequestURI()
	f.lastBody = nil
	if r.Header.Get("Content-Type") == "application/json" {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/login/access-token":
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "Secret123!" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"incorrect email or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "T1", "token_type": "bearer", "expires_at": time.Now().Add(time.Hour),
		})
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/users/open":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"0190c0de-0000-7000-8000-000000000001"}`))
	case r.URL.Path == "/api/v1/users/me":
		_, _ = w.Write([]byte(`{"email":"a@x.com"}`))
	case r.URL.Path == "/api/v1/items/":
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"title":"t"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"title":"t"}]`))
	case strings.HasPrefix(r.URL.Path, "/api/v1/items/"):
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`{"title":"removed"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not found"}`))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}
}

func runCLI(t *testing.T, url string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(append([]string{"-addr", url}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func Test_run_LoginAndItems(t *testing.T) {
	_ = withTmpConfig(t)
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()

	if code, _, stderr := runCLI(t, srv.URL, "me"); code != 1 || !strings.Contains(stderr, "login required") {
		t.Fatalf("me before login: code=%d stderr=%q", code, stderr)
	}
	if code, _, stderr := runCLI(t, srv.URL, "login", "-e", "a@x.com", "-p", "nope"); code != 1 || !strings.Contains(stderr, "status=401") {
		t.Fatalf("bad login: code=%d stderr=%q", code, stderr)
	}
	if code, out, stderr := runCLI(t, srv.URL, "login", "-e", "a@x.com", "-p", "Secret123!"); code != 0 || out != "ok\n" {
		t.Fatalf("login: code=%d out=%q stderr=%q", code, out, stderr)
	}

	if code, out, _ := runCLI(t, srv.URL, "me"); code != 0 || !strings.Contains(out, "a@x.com") {
		t.Fatalf("me: code=%d out=%q", code, out)
	}
	if api.lastAuth != "Bearer T1" {
		t.Fatalf("authorization=%q", api.lastAuth)
	}

	if code, _, _ := runCLI(t, srv.URL, "items", "list", "-status", "pending", "-limit", "5"); code != 0 {
		t.Fatalf("items list: code=%d", code)
	}
	if api.lastPath != "/api/v1/items/?limit=5&status=pending" {
		t.Fatalf("list path=%q", api.lastPath)
	}

	if code, _, _ := runCLI(t, srv.URL, "items", "add", "-title", "Weekly Inspection"); code != 0 {
		t.Fatalf("items add: code=%d", code)
	}
	if api.lastBody["title"] != "Weekly Inspection" {
		t.Fatalf("add body=%v", api.lastBody)
	}

	id := "0190c0de-0000-7000-8000-000000000002"
	if code, _, stderr := runCLI(t, srv.URL, "items", "get", "-id", id); code != 1 || !strings.Contains(stderr, "status=404") {
		t.Fatalf("items get: code=%d stderr=%q", code, stderr)
	}
	if code, stdout, _ := runCLI(t, srv.URL, "items", "rm", "-id", id); code != 0 || !strings.Contains(stdout, "removed") {
		t.Fatalf("items rm: code=%d", code)
	}
	if code, _, stderr := runCLI(t, srv.URL, "items", "get", "-id", "nope"); code != 1 || !strings.Contains(stderr, "bad -id") {
		t.Fatalf("bad id: code=%d stderr=%q", code, stderr)
	}

	if code, _, _ := runCLI(t, srv.URL, "logout"); code != 0 {
		t.Fatalf("logout: code=%d", code)
	}
	if code, _, _ := runCLI(t, srv.URL, "me"); code != 1 {
		t.Fatalf("me after logout: code=%d", code)
	}
}

func Test_run_RegisterAndUsage(t *testing.T) {
	_ = withTmpConfig(t)
	srv := httptest.NewServer(&fakeAPI{t: t})
	defer srv.Close()

	if code, out, _ := runCLI(t, srv.URL, "register", "-e", "a@x.com", "-p", "Secret123!"); code != 0 || !strings.Contains(out, "0190c0de") {
		t.Fatalf("register: code=%d out=%q", code, out)
	}
	if code, _, _ := runCLI(t, srv.URL, "register", "-e", "a@x.com"); code != 1 {
		t.Fatalf("register without -p: code=%d", code)
	}
	if code, out, _ := runCLI(t, srv.URL, "version"); code != 0 || !strings.HasPrefix(out, "ogf dev") {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
	if code, _, stderr := runCLI(t, srv.URL); code != 2 || !strings.Contains(stderr, "Usage") {
		t.Fatalf("no command: code=%d", code)
	}
}
