// Package drive implements remote.Store on top of the Google Drive v3 REST
// API. Snapshots live in one application folder created with the
// drive.file scope.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	Scope            = "https://www.googleapis.com/auth/drive.file"

	folderMimeType = "application/vnd.google-apps.folder"
	folderBaseName = "InvoiceApp"
)

// FolderNameFor returns the application folder for an environment:
// InvoiceApp in production, InvoiceApp-dev otherwise.
func FolderNameFor(env string) string {
	switch strings.ToLower(env) {
	case "", "prod", "production":
		return folderBaseName
	default:
		return folderBaseName + "-dev"
	}
}

// Credentials is the part of the credential manager the client needs.
type Credentials interface {
	// Token returns a usable access token, renewing proactively.
	Token(ctx context.Context) (string, error)
	// Authorize with interactive=false performs a silent renewal.
	Authorize(ctx context.Context, interactive bool) (auth.Credential, error)
	Invalidate(ctx context.Context) error
}

type Options struct {
	BaseURL    string
	UploadURL  string
	FolderName string
	HTTPClient *http.Client

	// MaxRetries bounds retries of 429/5xx and transport failures.
	MaxRetries uint64
	// RetryBase is the first exponential backoff step.
	RetryBase time.Duration
}

type Client struct {
	creds Credentials
	meta  metadata.Repository
	log   logging.Logger
	http  *http.Client
	opts  Options

	// resolveMu serializes folder resolution and is held across requests.
	// folderMu only guards folderID and folderGen, so ResetFolder can run
	// from an invalidation hook in the middle of a resolution.
	resolveMu sync.Mutex
	folderMu  sync.Mutex
	folderID  string
	folderGen uint64
}

var _ remote.Store = (*Client)(nil)

func New(creds Credentials, meta metadata.Repository, opts Options, log logging.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UploadURL == "" {
		opts.UploadURL = DefaultUploadURL
	}
	if opts.FolderName == "" {
		opts.FolderName = folderBaseName
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		creds: creds,
		meta:  meta,
		log:   log.With("backend", "drive"),
		http:  hc,
		opts:  opts,
	}
}

func (c *Client) FolderName() string { return c.opts.FolderName }

// ResetFolder forgets the cached folder id; the persisted one is kept and
// verified again on next use.
func (c *Client) ResetFolder() {
	c.folderMu.Lock()
	c.folderID = ""
	c.folderGen++
	c.folderMu.Unlock()
}

func (c *Client) cachedFolder() (string, uint64) {
	c.folderMu.Lock()
	defer c.folderMu.Unlock()
	return c.folderID, c.folderGen
}

// storeFolder caches id unless a reset happened since gen was read.
func (c *Client) storeFolder(id string, gen uint64) {
	c.folderMu.Lock()
	defer c.folderMu.Unlock()
	if c.folderGen == gen {
		c.folderID = id
	}
}

type fileJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Trashed      bool      `json:"trashed"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size,string"`
}

type fileListJSON struct {
	NextPageToken string     `json:"nextPageToken"`
	Files         []fileJSON `json:"files"`
}

func (c *Client) List(ctx context.Context) ([]remote.File, error) {
	folder, err := c.folder(ctx)
	if err != nil {
		return nil, err
	}

	var out []remote.File
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and trashed=false", folder))
		q.Set("fields", "nextPageToken,files(id,name,modifiedTime,size)")
		q.Set("orderBy", "modifiedTime desc")
		q.Set("pageSize", "100")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page fileListJSON
		if err := c.doJSON(ctx, request{method: http.MethodGet, url: c.opts.BaseURL + "/files?" + q.Encode()}, &page); err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		for _, f := range page.Files {
			out = append(out, remote.File{ID: f.ID, Name: f.Name, ModifiedAt: f.ModifiedTime, Size: f.Size})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	remote.SortNewestFirst(out)
	return out, nil
}

func (c *Client) Upload(ctx context.Context, name string, content []byte) (string, error) {
	folder, err := c.folder(ctx)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, err := json.Marshal(map[string]any{
		"name":     name,
		"parents":  []string{folder},
		"mimeType": "application/json",
	})
	if err != nil {
		return "", err
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	_, _ = part.Write(meta)

	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json"}})
	if err != nil {
		return "", err
	}
	_, _ = part.Write(content)
	if err := mw.Close(); err != nil {
		return "", err
	}

	var created fileJSON
	err = c.doJSON(ctx, request{
		method:      http.MethodPost,
		url:         c.opts.UploadURL + "/files?uploadType=multipart&fields=id",
		body:        body.Bytes(),
		contentType: "multipart/related; boundary=" + mw.Boundary(),
	}, &created)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	c.log.Debug(ctx, "file uploaded", "name", name, "id", created.ID, "bytes", len(content))
	return created.ID, nil
}

func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, url: c.fileURL(id) + "?alt=media"})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w: %v", id, common.ErrNetwork, err)
	}
	return b, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, request{method: http.MethodDelete, url: c.fileURL(id)})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	drain(resp)
	return nil
}

func (c *Client) fileURL(id string) string {
	return c.opts.BaseURL + "/files/" + url.PathEscape(id)
}

// folder resolves the application folder: cached id, then the persisted id
// (only if it still is our folder), then a search by name, then creation.
func (c *Client) folder(ctx context.Context) (string, error) {
	if id, _ := c.cachedFolder(); id != "" {
		return id, nil
	}

	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	id, gen := c.cachedFolder()
	if id != "" {
		return id, nil
	}

	saved, err := metadata.GetString(ctx, c.meta, common.MetaFolderID)
	if err != nil {
		return "", err
	}
	if saved != "" {
		ok, err := c.verifyFolder(ctx, saved)
		if err != nil {
			return "", err
		}
		if ok {
			c.storeFolder(saved, gen)
			return saved, nil
		}
		c.log.Info(ctx, "saved folder no longer resolves", "folder_id", saved)
		if err := c.meta.Delete(ctx, common.MetaFolderID); err != nil {
			return "", err
		}
	}

	id, err = c.findFolder(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		if id, err = c.createFolder(ctx); err != nil {
			return "", err
		}
		c.log.Info(ctx, "created folder", "folder", c.opts.FolderName, "folder_id", id)
	}

	if err := metadata.SetString(ctx, c.meta, common.MetaFolderID, id); err != nil {
		return "", err
	}
	c.storeFolder(id, gen)
	return id, nil
}

func (c *Client) verifyFolder(ctx context.Context, id string) (bool, error) {
	var f fileJSON
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    c.fileURL(id) + "?fields=id,name,mimeType,trashed",
	}, &f)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify folder: %w", err)
	}
	return f.MimeType == folderMimeType && !f.Trashed && f.Name == c.opts.FolderName, nil
}

func (c *Client) findFolder(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		strings.ReplaceAll(c.opts.FolderName, "'", `\'`), folderMimeType))
	q.Set("fields", "files(id,name)")
	q.Set("spaces", "drive")

	var res fileListJSON
	if err := c.doJSON(ctx, request{method: http.MethodGet, url: c.opts.BaseURL + "/files?" + q.Encode()}, &res); err != nil {
		return "", fmt.Errorf("find folder: %w", err)
	}
	if len(res.Files) == 0 {
		return "", nil
	}
	return res.Files[0].ID, nil
}

func (c *Client) createFolder(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"name": c.opts.FolderName, "mimeType": folderMimeType})
	if err != nil {
		return "", err
	}
	var f fileJSON
	err = c.doJSON(ctx, request{
		method:      http.MethodPost,
		url:         c.opts.BaseURL + "/files?fields=id",
		body:        body,
		contentType: "application/json",
	}, &f)
	if err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	if f.ID == "" {
		return "", errors.New("create folder: empty id")
	}
	return f.ID, nil
}

type request struct {
	method      string
	url         string
	body        []byte
	contentType string
}

func (c *Client) doJSON(ctx context.Context, r request, v any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do performs an authenticated request. On 401 it renews the credential
// silently and retries exactly once; a second 401 (or a failed renewal)
// invalidates the credential and yields common.ErrAuthRequired.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, r, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return checkStatus(resp)
	}
	drain(resp)

	c.log.Warn(ctx, "unauthorized response, renewing credential", "method", r.method)
	cred, err := c.creds.Authorize(ctx, false)
	if err == nil {
		resp, err = c.send(ctx, r, cred.AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return checkStatus(resp)
		}
		drain(resp)
	} else if errors.Is(err, common.ErrNetwork) {
		return nil, err
	}

	_ = c.creds.Invalidate(ctx)
	return nil, fmt.Errorf("%w: authorization expired, sign in again", common.ErrAuthRequired)
}

// send issues the request, retrying rate limiting, server errors and
// transport failures with exponential backoff.
func (c *Client) send(ctx context.Context, r request, token string) (*http.Response, error) {
	var out *http.Response
	backoff := retry.WithMaxRetries(c.opts.MaxRetries, retry.NewExponential(c.opts.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrNetwork, err))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			msg := apiMessage(resp)
			return retry.RetryableError(fmt.Errorf("%w: %s", common.ErrNetwork, msg))
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkStatus(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	msg := apiMessage(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, msg)
	}
	return nil, fmt.Errorf("drive api: %s", msg)
}

// apiMessage consumes and closes the body, returning the API error message
// or the status text.
func apiMessage(resp *http.Response) string {
	defer drain(resp)
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e); err == nil && e.Error.Message != "" {
		return fmt.Sprintf("%d %s", resp.StatusCode, e.Error.Message)
	}
	return resp.Status
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
