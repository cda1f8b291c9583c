package pipeline

import (
	"encoding/json"
)

// ResponseShape names where a model put its video URL
type ResponseShape int

const (
	// ShapeNone means no URL could be found.
	ShapeNone ResponseShape = iota
	// ShapeObject is {"video": {"url": "..."}}.
	ShapeObject
	// ShapeString is {"video": "..."}.
	ShapeString
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeString:
		return "string"
	default:
		return "none"
	}
}

// VideoField is the video entry of a generation response
type VideoField struct {
	Shape ResponseShape
	URL   string
}

// ParseVideoField never fails; anything unrecognised is ShapeNone.
func ParseVideoField(raw json.RawMessage) VideoField {
	var resp struct {
		Video json.RawMessage `json:"video"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &resp) != nil || len(resp.Video) == 0 {
		return VideoField{Shape: ShapeNone}
	}

	var s string
	if err := json.Unmarshal(resp.Video, &s); err == nil {
		if s == "" {
			return VideoField{Shape: ShapeNone}
		}
		return VideoField{Shape: ShapeString, URL: s}
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Video, &obj); err == nil && obj.URL != "" {
		return VideoField{Shape: ShapeObject, URL: obj.URL}
	}
	return VideoField{Shape: ShapeNone}
}
