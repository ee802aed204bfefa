// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/types"
)

// CodePDPQueryFailed marks failed calls to the external decision point.
const CodePDPQueryFailed = "PDP_QUERY_FAILED"

// PDPClient queries an external iSHARE policy decision point for delegation
// evidence this registry does not hold itself. Access tokens are fetched
// via the client-assertion flow and cached per process.
type PDPClient struct {
	baseURL string
	eori    string
	creds   *Credentials
	client  *http.Client
	clk     clock.Clock
	tokens  TokenSource
}

// NewPDPClient builds a client for the decision point at baseURL,
// identified by eori.
func NewPDPClient(baseURL, eori string, creds *Credentials, clk clock.Clock) *PDPClient {
	c := &PDPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		eori:    eori,
		creds:   creds,
		client:  &http.Client{Timeout: outboundTimeout},
		clk:     clk,
	}
	c.tokens = NewCachedTokenSource(c.fetchToken, clk)
	return c
}

func (c *PDPClient) fetchToken(ctx context.Context) (Token, error) {
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
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/connect/token",
			strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.readJSON(req, &resp)
	})
	if err != nil {
		return Token{}, oops.Code(CodeTokenFetchFailed).
			With("pdp", c.baseURL).
			Wrapf(err, "fetching decision point token")
	}

	return Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   c.clk.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// Delegation asks the decision point to fulfil a delegation request.
func (c *PDPClient) Delegation(ctx context.Context, container types.DelegationRequestContainer) (*types.DelegationEvidenceContainer, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(container)
	if err != nil {
		return nil, oops.Code(CodePDPQueryFailed).Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/delegation", bytes.NewReader(body))
	if err != nil {
		return nil, oops.Code(CodePDPQueryFailed).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var out types.DelegationEvidenceContainer
	if err := c.readJSON(req, &out); err != nil {
		return nil, oops.Code(CodePDPQueryFailed).
			With("pdp", c.baseURL).
			Wrapf(err, "querying decision point")
	}
	return &out, nil
}

func (c *PDPClient) readJSON(req *http.Request, out any) error {
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
		return retry.RetryableError(fmt.Errorf("%s returned %d", req.URL, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", req.URL, resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}
