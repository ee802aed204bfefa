// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/dexspace/authregistry/internal/clock"
)

// CodeIDPExchangeFailed marks failures of the human authentication flow.
const CodeIDPExchangeFailed = "IDP_EXCHANGE_FAILED"

// IDPClient drives the human authentication flow against the iSHARE
// identity provider: redirect out, exchange the returned code for an
// identity.
type IDPClient struct {
	baseURL  string
	eori     string
	creds    *Credentials
	verifier *TokenVerifier
	client   *http.Client
	clk      clock.Clock
}

// NewIDPClient builds a client for the identity provider at baseURL.
func NewIDPClient(baseURL, eori string, creds *Credentials, verifier *TokenVerifier, clk clock.Clock) *IDPClient {
	return &IDPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		eori:     eori,
		creds:    creds,
		verifier: verifier,
		client:   &http.Client{Timeout: outboundTimeout},
		clk:      clk,
	}
}

// AuthURL is the identity provider's authorize endpoint for this registry.
// state is echoed back on the callback and carries the caller's own
// redirect target.
func (c *IDPClient) AuthURL(redirectURI, state string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.creds.EORI},
		"scope":         {"iSHARE openid"},
		"redirect_uri":  {redirectURI},
		"state":         {state},
	}
	return c.baseURL + "/authorize?" + q.Encode()
}

// UserIdentity is the outcome of a completed human login.
type UserIdentity struct {
	UserID    string
	CompanyID string
	Roles     []string
}

type idpTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	CompanyID   string `json:"company_id"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// ExchangeCode trades an authorization code for the user's identity,
// authenticating with a client assertion.
func (c *IDPClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*UserIdentity, error) {
	assertion, err := c.creds.ClientAssertion(c.eori, c.clk.Now())
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":            {"authorization_code"},
		"code":                  {code},
		"redirect_uri":          {redirectURI},
		"client_id":             {c.creds.EORI},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}

	var resp idpTokenResponse
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return c.postForm(ctx, c.baseURL+"/token", form, &resp)
	})
	if err != nil {
		return nil, oops.Code(CodeIDPExchangeFailed).Wrapf(err, "exchanging authorization code")
	}

	claims := &idTokenClaims{}
	parsed, err := jwt.ParseWithClaims(resp.IDToken, claims, c.verifier.x5cKeyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(c.clk.Now),
	)
	if err != nil {
		return nil, oops.Code(CodeIDPExchangeFailed).Wrapf(err, "parsing id token")
	}
	if !parsed.Valid {
		return nil, oops.Code(CodeIDPExchangeFailed).Errorf("id token is not valid")
	}

	return &UserIdentity{
		UserID:    claims.Subject,
		CompanyID: claims.CompanyID,
		Roles:     claims.RealmAccess.Roles,
	}, nil
}

func (c *IDPClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.RetryableError(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return retry.RetryableError(fmt.Errorf("%s returned %d", endpoint, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}
