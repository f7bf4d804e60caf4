package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPinataAPIURL     = "https://api.pinata.cloud"
	DefaultPinataGatewayURL = "https://gateway.pinata.cloud"
)

// PinataConfig configures the IPFS pinning backend.
type PinataConfig struct {
	JWT        string
	APIURL     string
	GatewayURL string
	HTTPClient *http.Client
}

// PinataBlobStore pins attachments to IPFS through the Pinata API. The ref
// is the IPFS CID, which is derived from content.
type PinataBlobStore struct {
	jwt     string
	api     string
	gateway string
	client  *http.Client
}

func NewPinataBlobStore(cfg PinataConfig) *PinataBlobStore {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultPinataAPIURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultPinataGatewayURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &PinataBlobStore{
		jwt:     cfg.JWT,
		api:     strings.TrimRight(cfg.APIURL, "/"),
		gateway: strings.TrimRight(cfg.GatewayURL, "/"),
		client:  cfg.HTTPClient,
	}
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (s *PinataBlobStore) Put(ctx context.Context, u Upload, content io.Reader) (*Metadata, error) {
	data, err := readContent(u, content)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", u.FileName)
	if err != nil {
		return nil, fmt.Errorf("build pin request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build pin request: %w", err)
	}
	pinMeta, _ := json.Marshal(map[string]string{"name": u.FileName})
	if err := mw.WriteField("pinataMetadata", string(pinMeta)); err != nil {
		return nil, fmt.Errorf("build pin request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.api+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.jwt)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pin file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pin file: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var pr pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode pin response: %w", err)
	}
	if pr.IpfsHash == "" {
		return nil, fmt.Errorf("pin file: empty IpfsHash in response")
	}

	created := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, pr.Timestamp); err == nil {
		created = ts.UTC()
	}
	return &Metadata{
		Ref:         Ref(pr.IpfsHash),
		FileName:    u.FileName,
		ContentType: contentTypeOrDefault(u.ContentType),
		Size:        int64(len(data)),
		CreatedAt:   created,
	}, nil
}

// Get fetches content through the IPFS gateway. The gateway does not know
// the original file name, so the CID stands in for it.
func (s *PinataBlobStore) Get(ctx context.Context, ref Ref) (io.ReadCloser, *Metadata, error) {
	if ref == "" || strings.ContainsAny(string(ref), "/?#") {
		return nil, nil, ErrBlobNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gateway+"/ipfs/"+string(ref), nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, nil, ErrBlobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	return resp.Body, &Metadata{
		Ref:         ref,
		FileName:    string(ref),
		ContentType: contentTypeOrDefault(resp.Header.Get("Content-Type")),
		Size:        resp.ContentLength,
	}, nil
}
