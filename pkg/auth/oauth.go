// Package auth hands out Google OAuth tokens for calendar calls.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	// ClientSecretsFile is the Google API credentials.json in the config dir.
	ClientSecretsFile = "credentials.json"

	// TokenFile holds the obtained access and refresh token.
	TokenFile = "token.json"

	// LocalhostAuthPort is the port the local web server listens on to
	// capture the OAuth redirect.
	LocalhostAuthPort = "6789"

	authTimeout = 5 * time.Minute
)

// ErrNoToken means no usable token exists and the caller may not prompt.
var ErrNoToken = errors.New("not connected to Google Calendar (run: calsync auth)")

// Scopes are the permissions calsync asks for.
var Scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// WebFlow obtains a fresh token interactively.
type WebFlow func(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error)

// Provider loads, refreshes and persists the user's token.
type Provider struct {
	dir    string
	logger *log.Logger
	web    WebFlow

	mu     sync.Mutex
	config *oauth2.Config
	tok    *oauth2.Token
}

// NewProvider creates a provider reading credentials and token from dir.
func NewProvider(dir string, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Provider{dir: dir, logger: logger, web: getTokenFromWeb}
}

// SetWebFlow replaces the interactive flow.
func (p *Provider) SetWebFlow(f WebFlow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.web = f
}

func (p *Provider) tokenPath() string {
	return filepath.Join(p.dir, TokenFile)
}

// HasToken reports whether a token is stored. It does not check validity.
func (p *Provider) HasToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tok != nil {
		return true
	}
	_, err := os.Stat(p.tokenPath())
	return err == nil
}

// Token returns a valid token, refreshing it when expired. Without a stored
// token it runs the web flow, unless silent is set, in which case it returns
// ErrNoToken.
func (p *Provider) Token(ctx context.Context, silent bool) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	config, err := p.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoToken, err)
	}

	if p.tok == nil {
		tok, err := tokenFromFile(p.tokenPath())
		if err != nil {
			if silent {
				return nil, ErrNoToken
			}
			p.logger.Printf("No existing token found at %s. Initiating web authorization flow...", p.tokenPath())
			if tok, err = p.web(ctx, config); err != nil {
				return nil, fmt.Errorf("failed to get token from web: %w", err)
			}
			if err := saveToken(p.tokenPath(), tok); err != nil {
				return nil, err
			}
		}
		p.tok = tok
	}

	current, err := config.TokenSource(ctx, p.tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	if current.AccessToken != p.tok.AccessToken || current.RefreshToken != p.tok.RefreshToken {
		p.logger.Println("Token was refreshed. Saving new token to file.")
		if err := saveToken(p.tokenPath(), current); err != nil {
			p.logger.Printf("Warning: could not save refreshed token: %v", err)
		}
	}
	p.tok = current
	return current, nil
}

// Login discards any stored token and runs the web flow.
func (p *Provider) Login(ctx context.Context) error {
	if err := p.Logout(); err != nil {
		return err
	}
	_, err := p.Token(ctx, false)
	return err
}

// Logout removes the stored token.
func (p *Provider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tok = nil
	if err := os.Remove(p.tokenPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete token file '%s': %w", p.tokenPath(), err)
	}
	return nil
}

func (p *Provider) loadConfig() (*oauth2.Config, error) {
	if p.config != nil {
		return p.config, nil
	}
	config, err := GetConfig(filepath.Join(p.dir, ClientSecretsFile), p.logger)
	if err != nil {
		return nil, err
	}
	p.config = config
	return config, nil
}

// GetConfig creates an oauth2.Config from the client secrets file. A
// localhost or out-of-band redirect is pinned to LocalhostAuthPort.
func GetConfig(clientSecretsFile string, logger *log.Logger) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	parsedURL, parseErr := url.Parse(config.RedirectURL)
	switch {
	case config.RedirectURL == "urn:ietf:wg:oauth:2.0:oob":
		config.RedirectURL = fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
	case parseErr != nil:
		logger.Printf("Warning: Could not parse RedirectURL '%s': %v. Using it as is.", config.RedirectURL, parseErr)
	case parsedURL.Hostname() == "localhost" || parsedURL.Hostname() == "127.0.0.1":
		if parsedURL.Port() != LocalhostAuthPort {
			parsedURL.Host = fmt.Sprintf("%s:%s", parsedURL.Hostname(), LocalhostAuthPort)
			config.RedirectURL = parsedURL.String()
		}
	default:
		logger.Printf("Warning: RedirectURL in credentials.json is not a localhost callback: %s", config.RedirectURL)
	}

	return config, nil
}

// getTokenFromWeb runs the authorization code flow with a local web server
// capturing the redirect.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- fmt.Errorf("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// AccessTypeOffline makes Google return a refresh token.
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize calsync:\n%s\n", authURL)

	select {
	case authCode := <-codeCh:
		exCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(exCtx, authCode)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(authTimeout):
		return nil, fmt.Errorf("authorization timed out. Please try again")
	}
}

// tokenFromFile reads an oauth2.Token from a JSON file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken writes the token readable by the owner only.
func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to encode OAuth token: %w", err)
	}
	return nil
}
