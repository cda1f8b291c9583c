package fal

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultImageSize is the fal preset used when none is given
const DefaultImageSize = "landscape_16_9"

// ImageOptions tunes a single image generation
type ImageOptions struct {
	// FaceURL switches to the identity-conditioned model.
	FaceURL   string
	ImageSize string
}

// GenerateImage renders prompt and returns the URL of the first image.
func (c *Client) GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (string, error) {
	if err := c.checkKey(); err != nil {
		return "", err
	}

	size := orDefault(opts.ImageSize, DefaultImageSize)
	model := c.imageModel
	args := map[string]any{
		"prompt":     prompt,
		"image_size": size,
	}
	if opts.FaceURL != "" {
		model = c.faceImageModel
		args["reference_image_url"] = opts.FaceURL
		args["id_weight"] = 1
	}

	raw, err := c.subscribe(ctx, model, args)
	if err != nil {
		return "", err
	}
	return extractImageURL(raw)
}

// extractImageURL accepts images[0].url, images[0], image.url or image.
func extractImageURL(raw json.RawMessage) (string, error) {
	var resp struct {
		Images []json.RawMessage `json:"images"`
		Image  json.RawMessage   `json:"image"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}

	if len(resp.Images) > 0 {
		if url := urlOrString(resp.Images[0]); url != "" {
			return url, nil
		}
	}
	if url := urlOrString(resp.Image); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("could not extract image URL from response: %s", truncate(string(raw), 300))
}

// urlOrString reads either {"url": "..."} or a bare string.
func urlOrString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
