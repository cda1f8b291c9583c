package fal

import (
	"context"
	"encoding/json"
	"strconv"
)

// DefaultAspectRatio for image-to-video requests
const DefaultAspectRatio = "16:9"

// ImageToVideoRequest animates a still image
type ImageToVideoRequest struct {
	ImageURL    string
	Prompt      string
	Duration    int
	Model       string
	AspectRatio string
}

// IdentityReference conditions a video on a consistent character.
type IdentityReference struct {
	FrontalImageURL    string   `json:"frontal_image_url"`
	ReferenceImageURLs []string `json:"reference_image_urls"`
}

// ReferenceVideoRequest generates a video from identity elements and style images
type ReferenceVideoRequest struct {
	Elements  []IdentityReference
	ImageURLs []string
	Prompt    string
	Duration  int
	Model     string
}

// GenerateVideoFromImage returns the raw model response. The bucketed
// models take their duration as a string.
func (c *Client) GenerateVideoFromImage(ctx context.Context, req ImageToVideoRequest) (json.RawMessage, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}

	model := orDefault(req.Model, c.videoModel)
	args := map[string]any{
		"image_url":    req.ImageURL,
		"prompt":       req.Prompt,
		"duration":     strconv.Itoa(req.Duration),
		"aspect_ratio": orDefault(req.AspectRatio, DefaultAspectRatio),
	}

	c.logger.Debug().
		Str("model", model).
		Int("duration", req.Duration).
		Msg("image to video")
	return c.subscribe(ctx, model, args)
}

// GenerateVideoFromReference returns the raw model response.
func (c *Client) GenerateVideoFromReference(ctx context.Context, req ReferenceVideoRequest) (json.RawMessage, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}

	model := orDefault(req.Model, c.referenceModel)
	elements := append([]IdentityReference{}, req.Elements...)
	for i := range elements {
		if elements[i].ReferenceImageURLs == nil {
			elements[i].ReferenceImageURLs = []string{}
		}
	}
	imageURLs := req.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	args := map[string]any{
		"prompt":     req.Prompt,
		"elements":   elements,
		"image_urls": imageURLs,
		"duration":   req.Duration,
	}

	c.logger.Debug().
		Str("model", model).
		Int("duration", req.Duration).
		Int("elements", len(elements)).
		Msg("reference to video")
	return c.subscribe(ctx, model, args)
}
