package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seedBlob(t *testing.T, store Store, fileName, contentType, content string) *Metadata {
	t.Helper()
	result, err := store.Put(context.Background(), Upload{FileName: fileName, ContentType: contentType}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

func TestInMemoryBlobStore_Put(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := seedBlob(t, store, "xray.png", "image/png", "png-bytes")

	sum := sha256.Sum256([]byte("png-bytes"))
	if meta.Ref != Ref(hex.EncodeToString(sum[:])) {
		t.Errorf("expected sha256 ref, got %s", meta.Ref)
	}
	if meta.Size != int64(len("png-bytes")) {
		t.Errorf("expected size %d, got %d", len("png-bytes"), meta.Size)
	}
	if meta.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", meta.ContentType)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestInMemoryBlobStore_SameContentSameRef(t *testing.T) {
	store := NewInMemoryBlobStore()
	a := seedBlob(t, store, "first.pdf", "application/pdf", "identical")
	b := seedBlob(t, store, "second.pdf", "application/pdf", "identical")

	if a.Ref != b.Ref {
		t.Errorf("expected identical refs, got %s and %s", a.Ref, b.Ref)
	}
	if b.FileName != "first.pdf" {
		t.Errorf("expected first upload metadata to be kept, got %s", b.FileName)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 stored blob, got %d", store.Len())
	}

	c := seedBlob(t, store, "first.pdf", "application/pdf", "different")
	if c.Ref == a.Ref {
		t.Error("expected different content to produce a different ref")
	}
}

func TestInMemoryBlobStore_Get(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := seedBlob(t, store, "report.txt", "", "lab values")

	rc, got, err := store.Get(context.Background(), meta.Ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "lab values" {
		t.Errorf("unexpected content %q", data)
	}
	if got.ContentType != "application/octet-stream" {
		t.Errorf("expected default content type, got %s", got.ContentType)
	}
}

func TestInMemoryBlobStore_GetNotFound(t *testing.T) {
	store := NewInMemoryBlobStore()
	_, _, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Put_Validation(t *testing.T) {
	store := NewInMemoryBlobStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, Upload{}, strings.NewReader("x")); !errors.Is(err, ErrMissingFileName) {
		t.Errorf("expected ErrMissingFileName, got %v", err)
	}
	if _, err := store.Put(ctx, Upload{FileName: "a.txt"}, strings.NewReader("")); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestInMemoryBlobStore_Put_FileTooLarge(t *testing.T) {
	store := NewInMemoryBlobStore()
	big := io.LimitReader(zeroReader{}, MaxFileSize+1)
	_, err := store.Put(context.Background(), Upload{FileName: "huge.bin"}, big)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestIsInvalidUpload(t *testing.T) {
	for _, err := range []error{ErrMissingFileName, ErrEmptyContent, fmt.Errorf("wrapped: %w", ErrFileTooLarge)} {
		if !IsInvalidUpload(err) {
			t.Errorf("expected %v to be an invalid upload", err)
		}
	}
	if IsInvalidUpload(errors.New("pinata: 500")) {
		t.Error("backend failure must not count as invalid upload")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestInMemoryBlobStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	const goroutines = 50

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			// two goroutines share each payload
			content := fmt.Sprintf("content-%d", n/2)
			meta, err := store.Put(context.Background(), Upload{FileName: fmt.Sprintf("file-%d.txt", n)}, strings.NewReader(content))
			if err != nil {
				t.Errorf("put goroutine %d: %v", n, err)
				return
			}
			rc, _, err := store.Get(context.Background(), meta.Ref)
			if err != nil {
				t.Errorf("get goroutine %d: %v", n, err)
				return
			}
			rc.Close()
		}(i)
	}
	wg.Wait()

	if store.Len() != goroutines/2 {
		t.Errorf("expected %d blobs, got %d", goroutines/2, store.Len())
	}
}

// ---------------------------------------------------------------------------
// Pinata
// ---------------------------------------------------------------------------

func newPinataServer(t *testing.T, pinned map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pinning/pinFileToIPFS", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-jwt" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		cid := "Qm" + string(ContentRef(data))[:44]
		pinned[cid] = data
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"IpfsHash":%q,"PinSize":%d,"Timestamp":"2026-03-01T10:00:00Z"}`, cid, len(data))
	})
	mux.HandleFunc("/ipfs/", func(w http.ResponseWriter, r *http.Request) {
		data, ok := pinned[strings.TrimPrefix(r.URL.Path, "/ipfs/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPinataBlobStore_PutGet(t *testing.T) {
	srv := newPinataServer(t, map[string][]byte{})
	store := NewPinataBlobStore(PinataConfig{JWT: "test-jwt", APIURL: srv.URL, GatewayURL: srv.URL})

	meta := seedBlob(t, store, "bill.pdf", "application/pdf", "bill-content")
	if !strings.HasPrefix(string(meta.Ref), "Qm") {
		t.Errorf("expected CID ref, got %s", meta.Ref)
	}
	if meta.CreatedAt.Year() != 2026 {
		t.Errorf("expected pin timestamp to be used, got %v", meta.CreatedAt)
	}
	again := seedBlob(t, store, "bill-copy.pdf", "application/pdf", "bill-content")
	if again.Ref != meta.Ref {
		t.Errorf("expected same CID for identical content")
	}

	rc, got, err := store.Get(context.Background(), meta.Ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "bill-content" {
		t.Errorf("unexpected content %q", data)
	}
	if got.ContentType != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", got.ContentType)
	}
}

func TestPinataBlobStore_Unauthorized(t *testing.T) {
	srv := newPinataServer(t, map[string][]byte{})
	store := NewPinataBlobStore(PinataConfig{JWT: "wrong", APIURL: srv.URL, GatewayURL: srv.URL})

	_, err := store.Put(context.Background(), Upload{FileName: "a.pdf"}, strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("expected status 401 error, got %v", err)
	}
}

func TestPinataBlobStore_GetNotFound(t *testing.T) {
	srv := newPinataServer(t, map[string][]byte{})
	store := NewPinataBlobStore(PinataConfig{JWT: "test-jwt", APIURL: srv.URL, GatewayURL: srv.URL})

	if _, _, err := store.Get(context.Background(), "QmMissing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
	if _, _, err := store.Get(context.Background(), "../etc"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound for path-like ref, got %v", err)
	}
}

func TestRedisKeys(t *testing.T) {
	ref := ContentRef([]byte("x"))
	if redisContentKey(ref) != "attachment:"+string(ref) {
		t.Errorf("unexpected content key %s", redisContentKey(ref))
	}
	if redisMetaKey(ref) != "attachment:"+string(ref)+":meta" {
		t.Errorf("unexpected meta key %s", redisMetaKey(ref))
	}
	if !validHashRef(ref) || validHashRef("QmNotAHash") {
		t.Error("validHashRef misclassified refs")
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func newTestHandler() (*InMemoryBlobStore, *echo.Echo) {
	store := NewInMemoryBlobStore()
	e := echo.New()
	NewBlobHandler(store).RegisterRoutes(e.Group(""))
	return store, e
}

func TestBlobHandler_Download(t *testing.T) {
	store, e := newTestHandler()
	meta := seedBlob(t, store, "scan.pdf", "application/pdf", "scan-bytes")

	req := httptest.NewRequest(http.MethodGet, "/attachments/"+string(meta.Ref), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "scan-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "scan.pdf") {
		t.Errorf("expected file name in Content-Disposition, got %s", cd)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", ct)
	}
}

func TestBlobHandler_DownloadQuotedFileName(t *testing.T) {
	store, e := newTestHandler()
	name := `x"; filename="evil.exe`
	meta := seedBlob(t, store, name, "application/pdf", "quoted")

	req := httptest.NewRequest(http.MethodGet, "/attachments/"+string(meta.Ref), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("malformed Content-Disposition %q: %v", rec.Header().Get("Content-Disposition"), err)
	}
	if disposition != "attachment" {
		t.Errorf("expected attachment, got %s", disposition)
	}
	if params["filename"] != name {
		t.Errorf("expected filename %q, got %q", name, params["filename"])
	}
}

func TestBlobHandler_DownloadNotFound(t *testing.T) {
	_, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/attachments/missing", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestBlobHandler_NoUploadRoute(t *testing.T) {
	_, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/attachments/abc", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestOpenFormFile(t *testing.T) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("patient", "0xpatient")
	part, err := writer.CreateFormFile("file", "lab-results.pdf")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("pdf-content-bytes"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/records", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c := echo.New().NewContext(req, httptest.NewRecorder())

	ff, err := OpenFormFile(c, "file")
	if err != nil {
		t.Fatalf("OpenFormFile: %v", err)
	}
	defer ff.Content.Close()
	if ff.FileName != "lab-results.pdf" {
		t.Errorf("expected lab-results.pdf, got %s", ff.FileName)
	}
	data, _ := io.ReadAll(ff.Content)
	if string(data) != "pdf-content-bytes" {
		t.Errorf("unexpected content %q", data)
	}

	missing, err := OpenFormFile(c, "bill")
	if err != nil {
		t.Fatalf("expected no error for absent field, got %v", err)
	}
	if missing != nil {
		t.Error("expected nil for absent field")
	}
}
