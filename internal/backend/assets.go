package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
	apperrors "github.com/casfos/registry/pkg/errors"
)

// Return conditions accepted by UpdateReturnCondition.
const (
	ConditionGood     = "Good"
	ConditionService  = "Service"
	ConditionDispose  = "Dispose"
	ConditionExchange = "Exchange"
)

// Stage names an inventory stage whose items can be listed by item keys.
type Stage string

const (
	StageStore    Stage = "store"
	StageReturned Stage = "returned"
	StageService  Stage = "service"
	StageDisposed Stage = "disposed"
)

var stagePaths = map[Stage]string{
	StageStore:    "/api/assets/getStoreItems",
	StageReturned: "/api/assets/getReturnedItems",
	StageService:  "/api/assets/getServicedItems",
	StageDisposed: "/api/assets/getDisposedItems",
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := stagePaths[st]; !ok {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown stage %q", s)
	}
	return st, nil
}

// ItemQuery selects items of one kind within a stage.
type ItemQuery struct {
	AssetType       string `json:"assetType,omitempty"`
	ItemType        string `json:"itemType,omitempty"`
	AssetCategory   string `json:"assetCategory,omitempty"`
	SubCategory     string `json:"subCategory,omitempty"`
	ItemDescription string `json:"itemDescription,omitempty"`
}

// PermanentAssets lists permanent purchase entries.
func (c *Client) PermanentAssets(ctx context.Context) ([]record.Doc, error) {
	return c.list(ctx, "assets.permanent", "/api/assets/permanent", nil)
}

// ConsumableAssets lists consumable purchase entries.
func (c *Client) ConsumableAssets(ctx context.Context) ([]record.Doc, error) {
	return c.list(ctx, "assets.consumable", "/api/assets/consumable", nil)
}

// AllAssets fetches permanent and consumable entries concurrently and
// returns them permanent first. Entries without an assetType get the type of
// the list they came from.
func (c *Client) AllAssets(ctx context.Context) ([]record.Doc, error) {
	var permanent, consumable []record.Doc
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		permanent, err = c.PermanentAssets(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		consumable, err = c.ConsumableAssets(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]record.Doc, 0, len(permanent)+len(consumable))
	out = append(out, tagType(permanent, record.AssetPermanent)...)
	out = append(out, tagType(consumable, record.AssetConsumable)...)
	return out, nil
}

func tagType(docs []record.Doc, assetType string) []record.Doc {
	for _, d := range docs {
		if _, ok := d["assetType"]; !ok {
			d["assetType"] = assetType
		}
	}
	return docs
}

// ReturnedForConditionChange lists returned assets awaiting a condition
// decision. Empty arguments are not sent.
func (c *Client) ReturnedForConditionChange(ctx context.Context, assetType, approved string) ([]record.Doc, error) {
	q := url.Values{}
	if assetType != "" {
		q.Set("assetType", assetType)
	}
	if approved != "" {
		q.Set("approved", approved)
	}
	return c.list(ctx, "assets.returned", "/api/assets/getReturnedForConditionChange", q)
}

// UpdateReturnCondition records the condition decision for a returned asset.
func (c *Client) UpdateReturnCondition(ctx context.Context, id, condition, assetType string) error {
	return c.mutate(ctx, request{
		op:     "assets.condition",
		method: http.MethodPost,
		path:   "/api/assets/updateReturnCondition/" + url.PathEscape(id),
		body:   map[string]string{"condition": condition, "assetType": assetType},
	})
}

// UpdateAsset replaces the editable fields of a purchase entry.
func (c *Client) UpdateAsset(ctx context.Context, assetType, id string, fields record.Doc) error {
	var kind string
	switch assetType {
	case record.AssetPermanent:
		kind = "permanent"
	case record.AssetConsumable:
		kind = "consumable"
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown asset type %q", assetType)
	}
	return c.mutate(ctx, request{
		op:     "assets.update",
		method: http.MethodPut,
		path:   "/api/assets/" + kind + "/" + url.PathEscape(id),
		body:   fields,
	})
}

// Items lists the items of one kind in a stage.
func (c *Client) Items(ctx context.Context, stage Stage, q ItemQuery) ([]record.Doc, error) {
	path, ok := stagePaths[stage]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown stage %q", stage)
	}
	data, err := c.do(ctx, request{op: "assets.stage." + string(stage), method: http.MethodPost, path: path, body: q})
	if err != nil {
		return nil, err
	}
	return remotefilter.Decode(data)
}

// UploadFile sends a file as multipart form field "file" and returns the
// server path of the stored file.
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return "", fmt.Errorf("creating upload part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("reading upload %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finishing upload: %w", err)
	}

	data, err := c.do(ctx, request{
		op:          "assets.upload",
		method:      http.MethodPost,
		path:        "/api/assets/uploadFile",
		raw:         &buf,
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	var reply struct {
		FileURL  string `json:"fileUrl"`
		FilePath string `json:"filePath"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("%w: decoding upload reply: %w", apperrors.ErrUpstreamUnavailable, err)
	}
	if reply.FileURL != "" {
		return reply.FileURL, nil
	}
	if reply.FilePath != "" {
		return reply.FilePath, nil
	}
	return "", apperrors.New(apperrors.ErrUpstreamRejected, http.StatusUnprocessableEntity, messageOf(data, "upload returned no file path"))
}

func (c *Client) list(ctx context.Context, op, path string, q url.Values) ([]record.Doc, error) {
	data, err := c.do(ctx, request{op: op, method: http.MethodGet, path: path, query: q})
	if err != nil {
		return nil, err
	}
	return remotefilter.Decode(data)
}
