package quixi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type capturedForm struct {
	path         string
	contentType  string
	channel      string
	message      string
	address      string
	signature    string
	hasSignature bool
}

func newQuixiServer(t *testing.T, status int) (*httptest.Server, func() []capturedForm) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedForm

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		_, hasSig := r.PostForm["signature"]
		mu.Lock()
		got = append(got, capturedForm{
			path:         r.URL.Path,
			contentType:  r.Header.Get("Content-Type"),
			channel:      r.PostForm.Get("channel"),
			message:      r.PostForm.Get("message"),
			address:      r.PostForm.Get("address"),
			signature:    r.PostForm.Get("signature"),
			hasSignature: hasSig,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedForm {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedForm(nil), got...)
	}
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestClient_SendSigned(t *testing.T) {
	srv, requests := newQuixiServer(t, http.StatusOK)
	signer := NewRSASigner(testKey(t))

	c, err := NewClient(Options{APIURL: srv.URL + "/", Signer: signer})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if !c.Send(context.Background(), "addr-1", "Synced 3 devices") {
		t.Fatal("Send() = false, want true")
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	r := reqs[0]
	if r.path != "/sendChatMessage" {
		t.Errorf("path = %q", r.path)
	}
	if r.contentType != "application/x-www-form-urlencoded" {
		t.Errorf("content type = %q", r.contentType)
	}
	if r.channel != "0" || r.address != "addr-1" || r.message != "Synced 3 devices" {
		t.Errorf("form = %+v", r)
	}
	if err := Verify(signer.PublicKey(), r.message, r.signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestClient_SendUnsigned(t *testing.T) {
	srv, requests := newQuixiServer(t, http.StatusNoContent)
	c, err := NewClient(Options{APIURL: srv.URL, Channel: "7"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if !c.Send(context.Background(), "addr", "hi") {
		t.Fatal("Send() = false on 204")
	}
	r := requests()[0]
	if r.hasSignature {
		t.Error("unsigned client sent a signature field")
	}
	if r.channel != "7" {
		t.Errorf("channel = %q, want 7", r.channel)
	}
}

func TestClient_SendFailures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv, requests := newQuixiServer(t, http.StatusInternalServerError)
		c, _ := NewClient(Options{APIURL: srv.URL})

		err := c.SendErr(context.Background(), "a", "m")
		if !errors.Is(err, ErrNotify) {
			t.Errorf("SendErr() error = %v, want ErrNotify", err)
		}
		if c.Send(context.Background(), "a", "m") {
			t.Error("Send() = true on 500")
		}
		if n := len(requests()); n != 2 {
			t.Errorf("requests = %d, want 2 (no retry)", n)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, _ := NewClient(Options{APIURL: url})
		if err := c.SendErr(context.Background(), "a", "m"); !errors.Is(err, ErrNotify) {
			t.Errorf("SendErr() error = %v, want ErrNotify", err)
		}
	})
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8001", "://bad"} {
		if _, err := NewClient(Options{APIURL: u}); err == nil {
			t.Errorf("NewClient(%q) error = nil", u)
		}
	}
}

func TestLoadRSASigner(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}

	files := map[string][]byte{
		"pkcs1.pem": pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		"pkcs8.pem": pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}),
	}

	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, data, 0o600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			s, err := LoadRSASigner(path)
			if err != nil {
				t.Fatalf("LoadRSASigner() error = %v", err)
			}
			sig, err := s.Sign("hello")
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if err := Verify(&key.PublicKey, "hello", sig); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"no pem":  []byte("not a key"),
		"garbage": pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}),
	}
	for name, data := range tests {
		if _, err := ParsePrivateKey(data); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%s: error = %v, want ErrInvalidKey", name, err)
		}
	}
}

func TestVerify_RejectsTampering(t *testing.T) {
	s := NewRSASigner(testKey(t))
	sig, err := s.Sign("turn on")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := Verify(s.PublicKey(), "turn off", sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify(tampered) error = %v, want ErrInvalidSignature", err)
	}
	if err := Verify(s.PublicKey(), "turn on", "!!not base64"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify(bad base64) error = %v, want ErrInvalidSignature", err)
	}
}
