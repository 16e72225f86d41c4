// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the admin REST api

Instead of marshalling HTTP, the client talks directly to the mux router. It is
perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithAdminAuthorization returns a new client with admin authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole("admin")
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the base context for requests
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

func (c Client) do(method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Result().StatusCode, rec.Body.Bytes(), nil
	}

	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, nil
}

func (c Client) request(method, path string, body interface{}, result interface{}, goodStatus ...int) (int, error) {
	var err error
	var j []byte
	if body != nil {
		var ok bool
		j, ok = body.([]byte)
		if !ok {
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
	}
	status, resBody, err := c.do(method, path, j)
	if err != nil {
		return status, err
	}
	good := false
	for _, s := range goodStatus {
		if status == s {
			good = true
		}
	}
	if !good {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, goodStatus, strings.TrimSpace(string(resBody)))
	}
	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// The path can be extended with query strings.
//
// result can be map[string]interface{} or a raw *[]byte. result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.request(http.MethodGet, path, nil, result, http.StatusOK)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte. result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.request(http.MethodPost, path, body, result, http.StatusCreated, http.StatusOK)
}

// RawPut puts a resource to path. Expects http.StatusOK, http.StatusCreated
// or http.StatusNoContent as valid responses, otherwise it will flag an
// error. Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte. result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.request(http.MethodPut, path, body, result,
		http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// RawDelete deletes the resource at path. Expects http.StatusOK or
// http.StatusNoContent as response, otherwise it will flag an error. Returns
// the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	return c.request(http.MethodDelete, path, nil, nil, http.StatusOK, http.StatusNoContent)
}
