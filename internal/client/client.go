// Package client is a thin typed wrapper over the registry's JSON
// API. Every call returns the server's domain error decoded back into
// the apierror taxonomy, so callers can branch on status and kind.
package client

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

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/schema"
)

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New trims the trailing slash from base; token may be empty for the
// unauthenticated endpoints.
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's domain error. An unparseable body
// still yields an error carrying the status.
func decodeError(resp *http.Response) error {
	var apiErr apierror.Error
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Detail == "" {
		return &apierror.Error{
			Status: resp.StatusCode,
			Detail: fmt.Sprintf("server returned %s", resp.Status),
		}
	}
	apiErr.Status = resp.StatusCode
	return &apiErr
}

func (c *Client) Info(ctx context.Context) (*schema.Info, error) {
	var info schema.Info
	if err := c.do(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Login exchanges credentials for a bearer token using the password
// grant form.
func (c *Client) Login(ctx context.Context, username, password string) (*schema.AuthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	var token schema.AuthToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &token, nil
}

func (c *Client) Register(ctx context.Context, data schema.UserRegister) error {
	return c.do(ctx, http.MethodPost, "/user", data, nil)
}

func (c *Client) GetUser(ctx context.Context, username string) (*schema.FullUserInfo, error) {
	var info schema.FullUserInfo
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(username), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) CreateNamespace(ctx context.Context, data schema.NamespaceCreate) error {
	return c.do(ctx, http.MethodPost, "/namespace", data, nil)
}

func (c *Client) GetNamespace(ctx context.Context, name string) (*schema.Namespace, error) {
	var ns schema.Namespace
	if err := c.do(ctx, http.MethodGet, "/namespace/"+url.PathEscape(name), nil, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (c *Client) EditNamespace(ctx context.Context, name string, data schema.NamespaceEdit) error {
	return c.do(ctx, http.MethodPost, "/namespace/"+url.PathEscape(name), data, nil)
}

func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/namespace/"+url.PathEscape(name), nil, nil)
}

func (c *Client) ListNamespaceUsers(ctx context.Context, name string) ([]schema.NamespaceUser, error) {
	var users []schema.NamespaceUser
	err := c.do(ctx, http.MethodGet, "/namespace/"+url.PathEscape(name)+"/user", nil, &users)
	return users, err
}

func (c *Client) AddNamespaceUser(ctx context.Context, name string, data schema.NamespaceUserCreate) error {
	return c.do(ctx, http.MethodPost, "/namespace/"+url.PathEscape(name)+"/user", data, nil)
}

func (c *Client) EditNamespaceUser(ctx context.Context, name, username string, data schema.NamespaceUserEdit) error {
	return c.do(ctx, http.MethodPost, "/namespace/"+url.PathEscape(name)+"/user/"+url.PathEscape(username), data, nil)
}

func (c *Client) RemoveNamespaceUser(ctx context.Context, name, username string) error {
	return c.do(ctx, http.MethodDelete, "/namespace/"+url.PathEscape(name)+"/user/"+url.PathEscape(username), nil, nil)
}

func (c *Client) ListNamespaceRoles(ctx context.Context, name string) ([]schema.NamespaceRole, error) {
	var roles []schema.NamespaceRole
	err := c.do(ctx, http.MethodGet, "/namespace/"+url.PathEscape(name)+"/role", nil, &roles)
	return roles, err
}

func (c *Client) CreateNamespaceRole(ctx context.Context, name string, data schema.NamespaceRoleCreate) error {
	return c.do(ctx, http.MethodPost, "/namespace/"+url.PathEscape(name)+"/role", data, nil)
}

func (c *Client) EditNamespaceRole(ctx context.Context, name, role string, data schema.NamespaceRoleEdit) error {
	return c.do(ctx, http.MethodPost, "/namespace/"+url.PathEscape(name)+"/role/"+url.PathEscape(role), data, nil)
}

func (c *Client) DeleteNamespaceRole(ctx context.Context, name, role string) error {
	return c.do(ctx, http.MethodDelete, "/namespace/"+url.PathEscape(name)+"/role/"+url.PathEscape(role), nil, nil)
}

func (c *Client) NamespacePackages(ctx context.Context, name string) ([]schema.PackageBasic, error) {
	var packages []schema.PackageBasic
	err := c.do(ctx, http.MethodGet, "/namespace/"+url.PathEscape(name)+"/package", nil, &packages)
	return packages, err
}

// ListPackages narrows the listing server-side when query is
// non-empty.
func (c *Client) ListPackages(ctx context.Context, query string) ([]schema.PackageBrief, error) {
	path := "/package"
	if query != "" {
		path += "?query=" + url.QueryEscape(query)
	}
	var packages []schema.PackageBrief
	err := c.do(ctx, http.MethodGet, path, nil, &packages)
	return packages, err
}

func (c *Client) GetPackage(ctx context.Context, name string) (*schema.Package, error) {
	var pkg schema.Package
	if err := c.do(ctx, http.MethodGet, "/package/"+url.PathEscape(name), nil, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (c *Client) CreatePackage(ctx context.Context, data schema.PackageCreate) error {
	return c.do(ctx, http.MethodPost, "/package", data, nil)
}

func (c *Client) EditPackage(ctx context.Context, name string, data schema.PackageEdit) error {
	return c.do(ctx, http.MethodPost, "/package/"+url.PathEscape(name), data, nil)
}

func (c *Client) DeletePackage(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/package/"+url.PathEscape(name), nil, nil)
}

func (c *Client) CreateVersion(ctx context.Context, pkg string, data schema.PackageVersionCreate) error {
	return c.do(ctx, http.MethodPost, "/package/"+url.PathEscape(pkg)+"/version", data, nil)
}

func (c *Client) GetVersion(ctx context.Context, pkg, version string) (*schema.PackageVersion, error) {
	var v schema.PackageVersion
	err := c.do(ctx, http.MethodGet, "/package/"+url.PathEscape(pkg)+"/version/"+url.PathEscape(version), nil, &v)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) EditVersion(ctx context.Context, pkg, version string, data schema.PackageVersionEdit) error {
	return c.do(ctx, http.MethodPost, "/package/"+url.PathEscape(pkg)+"/version/"+url.PathEscape(version), data, nil)
}

func (c *Client) DeleteVersion(ctx context.Context, pkg, version string) error {
	return c.do(ctx, http.MethodDelete, "/package/"+url.PathEscape(pkg)+"/version/"+url.PathEscape(version), nil, nil)
}

func (c *Client) CreateTag(ctx context.Context, pkg string, data schema.PackageTag) error {
	return c.do(ctx, http.MethodPost, "/package/"+url.PathEscape(pkg)+"/tag", data, nil)
}

func (c *Client) EditTag(ctx context.Context, pkg, tag, version string) error {
	return c.do(ctx, http.MethodPost, "/package/"+url.PathEscape(pkg)+"/tag/"+url.PathEscape(tag),
		schema.PackageTag{Name: tag, Version: version}, nil)
}

func (c *Client) DeleteTag(ctx context.Context, pkg, tag string) error {
	return c.do(ctx, http.MethodDelete, "/package/"+url.PathEscape(pkg)+"/tag/"+url.PathEscape(tag), nil, nil)
}

func (c *Client) Permissions(ctx context.Context) ([]schema.Permission, error) {
	var perms []schema.Permission
	err := c.do(ctx, http.MethodGet, "/permission", nil, &perms)
	return perms, err
}
