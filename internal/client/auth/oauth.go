package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"golang.org/x/oauth2"
)

// Authorizer obtains tokens from the identity provider.
type Authorizer interface {
	// AuthorizeInteractive runs a flow that needs the user.
	AuthorizeInteractive(ctx context.Context) (*oauth2.Token, error)
	// Refresh exchanges an existing session for a new access token without
	// user interaction.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuth2Options configures OAuth2Authorizer.
type OAuth2Options struct {
	AuthURL       string
	TokenURL      string
	DeviceAuthURL string
	ClientSecret  string
	Scopes        []string

	// HTTPClient is used for provider calls when set.
	HTTPClient *http.Client

	// Prompt shows the verification URL and user code of the device flow.
	Prompt func(verificationURL, userCode string)
}

// ClientIDFunc resolves the OAuth client id at call time, so a manually
// entered id takes effect without restarting.
type ClientIDFunc func(ctx context.Context) (string, error)

// OAuth2Authorizer implements Authorizer with the device authorization grant
// for interactive sign-in and the refresh-token grant for silent renewal.
type OAuth2Authorizer struct {
	clientID ClientIDFunc
	opts     OAuth2Options
}

func NewOAuth2Authorizer(clientID ClientIDFunc, opts OAuth2Options) *OAuth2Authorizer {
	return &OAuth2Authorizer{clientID: clientID, opts: opts}
}

func (a *OAuth2Authorizer) config(ctx context.Context) (*oauth2.Config, error) {
	id, err := a.clientID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("oauth client id: %w", common.ErrNotConfigured)
	}
	return &oauth2.Config{
		ClientID:     id,
		ClientSecret: a.opts.ClientSecret,
		Scopes:       a.opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       a.opts.AuthURL,
			TokenURL:      a.opts.TokenURL,
			DeviceAuthURL: a.opts.DeviceAuthURL,
		},
	}, nil
}

func (a *OAuth2Authorizer) withClient(ctx context.Context) context.Context {
	if a.opts.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
}

func (a *OAuth2Authorizer) AuthorizeInteractive(ctx context.Context) (*oauth2.Token, error) {
	cfg, err := a.config(ctx)
	if err != nil {
		return nil, err
	}
	ctx = a.withClient(ctx)

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, classify("device authorization", err)
	}
	if a.opts.Prompt != nil {
		url := da.VerificationURIComplete
		if url == "" {
			url = da.VerificationURI
		}
		a.opts.Prompt(url, da.UserCode)
	}

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, classify("device token", err)
	}
	return tok, nil
}

func (a *OAuth2Authorizer) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, common.ErrAuthRequired
	}
	cfg, err := a.config(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := cfg.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify("refresh token", err)
	}
	return tok, nil
}

// classify maps provider rejections to ErrAuthRequired and everything else
// (transport failures, timeouts) to ErrNetwork.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%s: %w: %v", op, common.ErrAuthRequired, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, common.ErrNetwork, err)
}
