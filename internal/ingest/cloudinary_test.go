package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloudinaryUploadSignsAndPosts(t *testing.T) {
	var gotForm url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/demo-cloud/image/upload", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"secure_url":"https://res.cloudinary.example/demo-cloud/img.jpg"}`)
	}))
	defer ts.Close()

	up := NewCloudinaryUploader(CloudinaryConfig{
		CloudName: "demo-cloud",
		APIKey:    "key123",
		APISecret: "secret456",
	}, WithBaseURL(ts.URL))

	gotURL, err := up.Upload(context.Background(), []byte("raw-image"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "https://res.cloudinary.example/demo-cloud/img.jpg", gotURL)

	require.Equal(t, "key123", gotForm.Get("api_key"))
	require.Equal(t, uploadFolder, gotForm.Get("folder"))
	require.Equal(t, uploadTag, gotForm.Get("tags"))
	require.Equal(t, uploadTransformation, gotForm.Get("transformation"))
	require.True(t, strings.HasPrefix(gotForm.Get("file"), "data:image/png;base64,"))

	// The signature covers everything except file, api_key and itself.
	expected := signParams(gotForm, "secret456")
	require.Equal(t, expected, gotForm.Get("signature"))
}

func TestCloudinaryUploadStatusErrorIsNotRetried(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, `{"error":{"message":"invalid signature"}}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	up := NewCloudinaryUploader(CloudinaryConfig{
		CloudName: "demo-cloud",
		APIKey:    "key123",
		APISecret: "wrong",
	}, WithBaseURL(ts.URL))

	_, err := up.Upload(context.Background(), []byte("raw-image"), "")
	require.Error(t, err)
	require.Equal(t, 1, requests, "a rejected upload must not be retried")
}

func TestCloudinaryUploadRejectsMissingURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer ts.Close()

	up := NewCloudinaryUploader(CloudinaryConfig{CloudName: "c", APIKey: "k", APISecret: "s"}, WithBaseURL(ts.URL))
	_, err := up.Upload(context.Background(), []byte("raw-image"), "")
	require.Error(t, err)
}
