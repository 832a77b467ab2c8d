// Command ogf is a CLI client for the OpenGovFood API.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "opengovfood")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "opengovfood")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", errors.New("no valid token (login required)")
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

func removeToken() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ---- http client ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev only, behind -insecure
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool}, nil
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Detail)
}

type client struct {
	base  string
	http  *http.Client
	token string
}

func newClient(addr string, tlsCfg *tls.Config) *client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &client{base: strings.TrimRight(addr, "/"), http: &http.Client{Transport: tr, Timeout: 30 * time.Second}}
}

// call sends body (JSON, or a form when body is url.Values) and decodes the response into out.
func (c *client) call(ctx context.Context, method, path string, body, out any) error {
	var (
		rd          io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case url.Values:
		rd, contentType = strings.NewReader(b.Encode()), "application/x-www-form-urlencoded"
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return err
		}
		rd, contentType = bytes.NewReader(buf), "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Detail: e.Detail}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseID(s string) (string, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return "", fmt.Errorf("bad -id %q: %w", s, err)
	}
	return id.String(), nil
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `ogf CLI
Usage:
  ogf [-addr URL] [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  register   -e <email> -p <password> [-n <full name>]
  login      -e <email> -p <password>               (saves token)
  logout
  me
  passwd     -old <password> -new <password>
  items list [-status s] [-skip n] [-limit n]
  items get  -id <uuid>
  items add  -title t [-desc d] [-status s]
  items edit -id <uuid> [-title t] [-desc d] [-status s]
  items rm   -id <uuid>
`)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches subcommands and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	gfs := flag.NewFlagSet("ogf", flag.ContinueOnError)
	gfs.SetOutput(stderr)
	addr := gfs.String("addr", envOr("OGF_API_URL", "http://localhost:8000"), "API base URL")
	caPath := gfs.String("cacert", "", "CA cert (PEM)")
	insecure := gfs.Bool("insecure", false, "skip cert verify (dev)")
	gfs.Usage = func() { usage(stderr) }
	if err := gfs.Parse(args); err != nil || gfs.NArg() < 1 {
		usage(stderr)
		return 2
	}

	tlsCfg, err := loadTLS(*caPath, *insecure)
	if err != nil {
		return fail(stderr, err)
	}
	c := newClient(*addr, tlsCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, rest := gfs.Arg(0), gfs.Args()[1:]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "ogf %s (%s)\n", version, buildDate)
		return 0
	case "register":
		return cmdRegister(ctx, c, rest, stdout, stderr)
	case "login":
		return cmdLogin(ctx, c, rest, stdout, stderr)
	case "logout":
		if err := removeToken(); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	if c.token, err = loadToken(); err != nil {
		return fail(stderr, err)
	}
	switch cmd {
	case "me":
		var me map[string]any
		if err := c.call(ctx, http.MethodGet, "/api/v1/users/me", nil, &me); err != nil {
			return fail(stderr, err)
		}
		printJSON(stdout, me)
		return 0
	case "passwd":
		return cmdPasswd(ctx, c, rest, stdout, stderr)
	case "items":
		return cmdItems(ctx, c, rest, stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func cmdRegister(ctx context.Context, c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	e := fs.String("e", "", "email")
	p := fs.String("p", "", "password")
	n := fs.String("n", "", "full name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *e == "" || *p == "" {
		fmt.Fprintln(stderr, "need -e and -p")
		return 1
	}
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"email": *e, "password": *p, "full_name": *n}
	if err := c.call(ctx, http.MethodPost, "/api/v1/users/open", body, &out); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, out.ID)
	return 0
}

func cmdLogin(ctx context.Context, c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	e := fs.String("e", "", "email")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *e == "" || *p == "" {
		fmt.Fprintln(stderr, "need -e and -p")
		return 1
	}
	var tok struct {
		AccessToken string    `json:"access_token"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	form := url.Values{"username": {*e}, "password": {*p}}
	if err := c.call(ctx, http.MethodPost, "/api/v1/login/access-token", form, &tok); err != nil {
		return fail(stderr, err)
	}
	if err := saveToken(tok.AccessToken, tok.ExpiresAt); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func cmdPasswd(ctx context.Context, c *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	oldPw := fs.String("old", "", "current password")
	newPw := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	body := map[string]string{"current_password": *oldPw, "new_password": *newPw}
	if err := c.call(ctx, http.MethodPut, "/api/v1/users/me/password", body, nil); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func cmdItems(ctx context.Context, c *client, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	sub, args := args[0], args[1:]
	fs := flag.NewFlagSet("items "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "item id (uuid)")
	title := fs.String("title", "", "title")
	desc := fs.String("desc", "", "description")
	status := fs.String("status", "", "pending|in_progress|completed|cancelled")
	skip := fs.Int("skip", 0, "items to skip")
	limit := fs.Int("limit", 0, "max items (server caps at 100)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var out any
	var err error
	switch sub {
	case "list":
		q := url.Values{}
		if *status != "" {
			q.Set("status", *status)
		}
		if set["skip"] {
			q.Set("skip", fmt.Sprint(*skip))
		}
		if set["limit"] {
			q.Set("limit", fmt.Sprint(*limit))
		}
		path := "/api/v1/items/"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var items []map[string]any
		err = c.call(ctx, http.MethodGet, path, nil, &items)
		out = items
	case "add":
		if *title == "" {
			fmt.Fprintln(stderr, "need -title")
			return 1
		}
		body := map[string]string{"title": *title, "description": *desc, "status": *status}
		var it map[string]any
		err = c.call(ctx, http.MethodPost, "/api/v1/items/", body, &it)
		out = it
	case "get", "edit", "rm":
		var sid string
		if sid, err = parseID(*id); err != nil {
			return fail(stderr, err)
		}
		path := "/api/v1/items/" + sid
		switch sub {
		case "get":
			var it map[string]any
			err = c.call(ctx, http.MethodGet, path, nil, &it)
			out = it
		case "edit":
			patch := map[string]string{}
			for _, name := range []string{"title", "desc", "status"} {
				if set[name] {
					key := name
					if name == "desc" {
						key = "description"
					}
					patch[key] = fs.Lookup(name).Value.String()
				}
			}
			var it map[string]any
			err = c.call(ctx, http.MethodPut, path, patch, &it)
			out = it
		case "rm":
			var it map[string]any
			err = c.call(ctx, http.MethodDelete, path, nil, &it)
			out = it
		}
	default:
		usage(stderr)
		return 2
	}
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}

// ---- helpers ----

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(w io.Writer, err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(w, "api error: status=%d detail=%s\n", ae.Status, ae.Detail)
		return 1
	}
	fmt.Fprintln(w, err)
	return 1
}
