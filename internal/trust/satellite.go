// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/dexspace/authregistry/internal/clock"
)

const (
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	outboundTimeout     = 30 * time.Second
	adherenceActive     = "Active"
)

// SatelliteClient talks to the trust anchor: it fetches access tokens via
// the iSHARE client-assertion flow and looks up party adherence. Tokens are
// cached per process; see CachedTokenSource.
type SatelliteClient struct {
	baseURL  string
	eori     string
	creds    *Credentials
	verifier *TokenVerifier
	client   *http.Client
	clk      clock.Clock
	tokens   TokenSource
}

// NewSatelliteClient builds a client for the satellite at baseURL,
// identified by eori. Party tokens returned by the satellite are verified
// against the same CA bundle as inbound delegation tokens.
func NewSatelliteClient(baseURL, eori string, creds *Credentials, verifier *TokenVerifier, clk clock.Clock) *SatelliteClient {
	c := &SatelliteClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		eori:     eori,
		creds:    creds,
		verifier: verifier,
		client:   &http.Client{Timeout: outboundTimeout},
		clk:      clk,
	}
	c.tokens = NewCachedTokenSource(c.fetchToken, clk)
	return c
}

// AccessToken implements TokenSource with the process-wide cached token.
func (c *SatelliteClient) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.AccessToken(ctx)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *SatelliteClient) fetchToken(ctx context.Context) (Token, error) {
	assertion, err := c.creds.ClientAssertion(c.eori, c.clk.Now())
	if err != nil {
		return Token{}, err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"scope":                 {"iSHARE"},
		"client_id":             {c.creds.EORI},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}

	var resp tokenResponse
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return c.postForm(ctx, c.baseURL+"/connect/token", form, &resp)
	})
	if err != nil {
		return Token{}, oops.Code(CodeTokenFetchFailed).
			With("satellite", c.baseURL).
			Wrapf(err, "fetching satellite token")
	}

	slog.DebugContext(ctx, "refreshed satellite token", "expires_in", resp.ExpiresIn)
	return Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   c.clk.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func (c *SatelliteClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
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

type partyTokenResponse struct {
	PartyToken string `json:"party_token"`
}

type partyInfo struct {
	PartyID   string `json:"party_id"`
	Adherence struct {
		Status string `json:"status"`
	} `json:"adherence"`
}

// IsAdherent looks the party up at the satellite and reports whether its
// adherence status is Active. Unknown parties report false without error.
func (c *SatelliteClient) IsAdherent(ctx context.Context, eori string) (bool, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	endpoint := c.baseURL + "/parties/" + url.PathEscape(eori)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, oops.Code(CodePartyLookupFailed).Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, oops.Code(CodePartyLookupFailed).
			With("party", eori).
			Wrapf(err, "calling satellite parties endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, oops.Code(CodePartyLookupFailed).
			With("party", eori).
			With("status", resp.StatusCode).
			Errorf("satellite parties lookup failed")
	}

	var ptr partyTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ptr); err != nil {
		return false, oops.Code(CodePartyLookupFailed).With("party", eori).Wrap(err)
	}

	info, err := c.verifier.verifyPartyToken(ptr.PartyToken)
	if err != nil {
		return false, oops.Code(CodePartyLookupFailed).With("party", eori).Wrap(err)
	}
	return info.PartyID == eori && info.Adherence.Status == adherenceActive, nil
}
