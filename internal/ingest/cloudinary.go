package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	cloudinaryAPIBase = "https://api.cloudinary.com/v1_1"

	// Uploads are capped to 512x512 and tagged for scheduled deletion so a
	// chat image never lingers at full resolution.
	uploadFolder         = "medical_chat"
	uploadTag            = "auto_delete_90days"
	uploadTransformation = "c_limit,h_512,w_512,q_auto:good"
)

// CloudinaryConfig holds the account credentials for signed uploads.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

// CloudinaryUploader uploads images through the Cloudinary REST API.
type CloudinaryUploader struct {
	cfg        CloudinaryConfig
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
}

type CloudinaryOption func(*CloudinaryUploader)

// WithBaseURL overrides the API endpoint; used by tests.
func WithBaseURL(baseURL string) CloudinaryOption {
	return func(u *CloudinaryUploader) {
		u.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func NewCloudinaryUploader(cfg CloudinaryConfig, opts ...CloudinaryOption) *CloudinaryUploader {
	u := &CloudinaryUploader{
		cfg:        cfg,
		httpClient: &http.Client{},
		baseURL:    cloudinaryAPIBase,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

func (u *CloudinaryUploader) Upload(ctx context.Context, data []byte, mime string) (string, error) {
	if mime == "" {
		mime = defaultMIME
	}

	params := url.Values{}
	params.Set("folder", uploadFolder)
	params.Set("tags", uploadTag)
	params.Set("transformation", uploadTransformation)
	params.Set("public_id", fmt.Sprintf("img_%d_%s", u.now().Unix(), uuid.NewString()[:8]))
	params.Set("timestamp", strconv.FormatInt(u.now().Unix(), 10))
	params.Set("signature", signParams(params, u.cfg.APISecret))
	params.Set("api_key", u.cfg.APIKey)
	params.Set("file", fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)))

	endpoint := fmt.Sprintf("%s/%s/image/upload", u.baseURL, u.cfg.CloudName)

	// The blob store is append-only and idempotent enough that one retry on a
	// transport failure is safe.
	raw, err := u.postForm(ctx, endpoint, params)
	if err != nil && ctx.Err() == nil {
		if _, isStatus := err.(*uploadStatusError); !isStatus {
			raw, err = u.postForm(ctx, endpoint, params)
		}
	}
	if err != nil {
		return "", err
	}

	var res uploadResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("cloudinary: decode response: %w", err)
	}
	if res.SecureURL != "" {
		return res.SecureURL, nil
	}
	if res.URL != "" {
		return res.URL, nil
	}
	return "", fmt.Errorf("cloudinary: response missing url")
}

type uploadStatusError struct {
	statusCode int
	body       string
}

func (e *uploadStatusError) Error() string {
	return fmt.Sprintf("cloudinary: unexpected status %d: %s", e.statusCode, e.body)
}

func (u *CloudinaryUploader) postForm(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("cloudinary: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &uploadStatusError{statusCode: res.StatusCode, body: string(body)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cloudinary: read response: %w", err)
	}
	return raw, nil
}

// signParams produces the Cloudinary request signature: all parameters except
// file, api_key and signature itself, sorted, joined with &, then hashed with
// the API secret appended.
func signParams(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		switch k {
		case "file", "api_key", "signature":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params.Get(k))
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
