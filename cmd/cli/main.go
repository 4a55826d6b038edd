// Command slctl is an admin client for the secure link service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/securelink/internal/auth"
	pkgcrypto "github.com/and161185/securelink/internal/crypto"
	u "github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "securelink")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "securelink")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
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
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run: slctl token)")
	}
	return tf.AccessToken, nil
}

// mintToken signs a sender token with the server's key.
func mintToken(key, sender, company string, ttl time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errors.New("signing key required (-key or SL_JWT_KEY)")
	}
	id, err := u.FromString(sender)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sender id: %w", err)
	}
	if company == "" {
		return "", time.Time{}, errors.New("company required")
	}
	return auth.Sign([]byte(key), auth.Principal{SenderID: id, CompanyID: company}, ttl)
}

// ---- http client ----

type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Msg) }

type client struct {
	base  string
	token string
	hc    *http.Client
}

func newClient(base, token string) *client {
	return &client{base: strings.TrimRight(base, "/"), token: token, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Msg: msg}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `slctl CLI
Usage:
  slctl -addr URL [-admin HOST:PORT] <cmd> [args]

Commands:
  version
  token          -sender <uuid> -company <id> [-key K] [-ttl 12h]   (saves token)
  hash-pin       -pin <6 digits>
  issue          -to <email> [-guest] [-days N] [-send]
  inspect        -token <link token>
  verify         -token <link token> -pin <pin>
  revoke         -id <link uuid>
  unrevoke       -id <link uuid>
  alerts         [-link <uuid>] [-limit N]
  resolve-alert  -id <alert uuid>
  health                                                           (admin gRPC)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API or the admin gRPC endpoint.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "API base URL")
	adminAddr := flag.String("admin", "localhost:9090", "admin gRPC addr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	authed := func() *client {
		tok, err := loadToken()
		if err != nil {
			fail(err)
		}
		return newClient(*addr, tok)
	}

	switch cmd {

	case "version":
		fmt.Printf("slctl %s (%s)\n", version, buildDate)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		sender := fs.String("sender", "", "sender id")
		company := fs.String("company", "", "company id")
		key := fs.String("key", os.Getenv("SL_JWT_KEY"), "HS256 signing key")
		ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
		_ = fs.Parse(args)

		tok, exp, err := mintToken(*key, *sender, *company, *ttl)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("token saved, expires", exp.UTC().Format(time.RFC3339))

	case "hash-pin":
		fs := flag.NewFlagSet("hash-pin", flag.ExitOnError)
		pin := fs.String("pin", "", "PIN")
		_ = fs.Parse(args)
		h, err := pkgcrypto.HashPIN(*pin)
		if err != nil {
			fail(err)
		}
		fmt.Println(h)

	case "issue":
		fs := flag.NewFlagSet("issue", flag.ExitOnError)
		to := fs.String("to", "", "recipient email")
		guest := fs.Bool("guest", false, "guest link (24h, no PIN)")
		days := fs.Int("days", 0, "expiry in days (0 = never)")
		send := fs.Bool("send", false, "email the link to the recipient")
		_ = fs.Parse(args)
		if *to == "" {
			fmt.Fprintln(os.Stderr, "need -to")
			os.Exit(1)
		}
		req := map[string]any{"recipientEmail": *to, "isGuest": *guest, "sendEmail": *send}
		if *days > 0 {
			req["expiresInDays"] = *days
		}
		var out map[string]any
		if err := authed().do(ctx, http.MethodPost, "/api/links", req, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "inspect":
		fs := flag.NewFlagSet("inspect", flag.ExitOnError)
		tok := fs.String("token", "", "link token")
		_ = fs.Parse(args)
		var out map[string]any
		if err := newClient(*addr, "").do(ctx, http.MethodGet, "/api/links/"+url.PathEscape(*tok), nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		tok := fs.String("token", "", "link token")
		pin := fs.String("pin", "", "PIN")
		_ = fs.Parse(args)
		var out map[string]any
		if err := newClient(*addr, "").do(ctx, http.MethodPost, "/api/links/"+url.PathEscape(*tok)+"/verify", map[string]string{"pin": *pin}, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "revoke", "unrevoke":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "link id")
		_ = fs.Parse(args)
		if _, err := u.FromString(*id); err != nil {
			fail(fmt.Errorf("bad -id: %w", err))
		}
		var out map[string]any
		if err := authed().do(ctx, http.MethodPost, "/api/links/"+*id+"/"+cmd, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "alerts":
		fs := flag.NewFlagSet("alerts", flag.ExitOnError)
		link := fs.String("link", "", "link id (optional)")
		limit := fs.Int("limit", 0, "max alerts")
		_ = fs.Parse(args)
		path := "/api/alerts"
		if *link != "" {
			path = "/api/links/" + *link + "/alerts"
		} else if *limit > 0 {
			path += "?limit=" + strconv.Itoa(*limit)
		}
		var out map[string]any
		if err := authed().do(ctx, http.MethodGet, path, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "resolve-alert":
		fs := flag.NewFlagSet("resolve-alert", flag.ExitOnError)
		id := fs.String("id", "", "alert id")
		_ = fs.Parse(args)
		if _, err := u.FromString(*id); err != nil {
			fail(fmt.Errorf("bad -id: %w", err))
		}
		var out map[string]any
		if err := authed().do(ctx, http.MethodPost, "/api/alerts/"+*id+"/resolve", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "health":
		cc, err := grpc.NewClient(*adminAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			fail(err)
		}
		defer cc.Close()
		resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			fail(err)
		}
		fmt.Println(resp.GetStatus().String())

	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
