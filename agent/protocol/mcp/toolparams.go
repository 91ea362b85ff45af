package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// ToolName is the name of a remote tool.
type ToolName string

// Scene tools exposed by the execution endpoint.
const (
	ToolUpdateSceneDescription ToolName = "update_scene_description"
	ToolUpdateImagePrompt      ToolName = "update_image_prompt"
	ToolGenerateSceneImage     ToolName = "generate_scene_image"
	ToolCreateSceneVideo       ToolName = "create_scene_video"
	ToolGenerateSceneScript    ToolName = "generate_scene_script"
)

// KnownTools lists every tool with a typed parameter variant.
func KnownTools() []ToolName {
	return []ToolName{
		ToolUpdateSceneDescription,
		ToolUpdateImagePrompt,
		ToolGenerateSceneImage,
		ToolCreateSceneVideo,
		ToolGenerateSceneScript,
	}
}

// ToolParams is implemented by every typed parameter variant.
type ToolParams interface {
	Tool() ToolName
	Validate() error
}

// SceneDescriptionParams are the parameters of update_scene_description.
type SceneDescriptionParams struct {
	ProjectID     string `json:"projectId,omitempty"`
	SceneID       string `json:"sceneId"`
	ImageAnalysis bool   `json:"imageAnalysis"`
}

func (SceneDescriptionParams) Tool() ToolName { return ToolUpdateSceneDescription }

func (p SceneDescriptionParams) Validate() error { return requireScene(p.Tool(), p.SceneID) }

// ImagePromptParams are the parameters of update_image_prompt.
type ImagePromptParams struct {
	ProjectID      string `json:"projectId,omitempty"`
	SceneID        string `json:"sceneId"`
	UseDescription bool   `json:"useDescription"`
}

func (ImagePromptParams) Tool() ToolName { return ToolUpdateImagePrompt }

func (p ImagePromptParams) Validate() error { return requireScene(p.Tool(), p.SceneID) }

// SceneImageParams are the parameters of generate_scene_image.
type SceneImageParams struct {
	ProjectID          string `json:"projectId,omitempty"`
	SceneID            string `json:"sceneId"`
	ProductShotVersion string `json:"productShotVersion"`
}

func (SceneImageParams) Tool() ToolName { return ToolGenerateSceneImage }

func (p SceneImageParams) Validate() error {
	if err := requireScene(p.Tool(), p.SceneID); err != nil {
		return err
	}
	return oneOf(p.Tool(), "productShotVersion", p.ProductShotVersion, productShotVersions)
}

// SceneVideoParams are the parameters of create_scene_video.
type SceneVideoParams struct {
	ProjectID   string `json:"projectId,omitempty"`
	SceneID     string `json:"sceneId"`
	AspectRatio string `json:"aspectRatio"`
}

func (SceneVideoParams) Tool() ToolName { return ToolCreateSceneVideo }

func (p SceneVideoParams) Validate() error {
	if err := requireScene(p.Tool(), p.SceneID); err != nil {
		return err
	}
	return oneOf(p.Tool(), "aspectRatio", p.AspectRatio, aspectRatios)
}

// SceneScriptParams are the parameters of generate_scene_script.
type SceneScriptParams struct {
	ProjectID     string `json:"projectId,omitempty"`
	SceneID       string `json:"sceneId"`
	ContextPrompt string `json:"contextPrompt,omitempty"`
}

func (SceneScriptParams) Tool() ToolName { return ToolGenerateSceneScript }

func (p SceneScriptParams) Validate() error { return requireScene(p.Tool(), p.SceneID) }

var (
	productShotVersions = []string{"v1", "v2"}
	aspectRatios        = []string{"16:9", "9:16", "1:1", "4:5"}
)

// DecodeToolParams decodes and validates raw JSON parameters for the named
// tool. Unknown tools, unknown fields and invalid values are rejected with
// INVALID_REQUEST. Defaults are applied before validation.
func DecodeToolParams(name string, raw json.RawMessage) (ToolParams, error) {
	var p ToolParams
	switch ToolName(name) {
	case ToolUpdateSceneDescription:
		v := SceneDescriptionParams{ImageAnalysis: true}
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case ToolUpdateImagePrompt:
		v := ImagePromptParams{UseDescription: true}
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case ToolGenerateSceneImage:
		v := SceneImageParams{ProductShotVersion: "v2"}
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case ToolCreateSceneVideo:
		v := SceneVideoParams{AspectRatio: "16:9"}
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case ToolGenerateSceneScript:
		var v SceneScriptParams
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, types.NewInvalidRequestError(fmt.Sprintf("unknown tool %q", name))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func strictDecode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewInvalidRequestError("invalid tool parameters").WithCause(err)
	}
	return nil
}

func requireScene(tool ToolName, sceneID string) error {
	if sceneID == "" {
		return types.NewInvalidRequestError(fmt.Sprintf("%s: sceneId is required", tool))
	}
	return nil
}

func oneOf(tool ToolName, field, value string, allowed []string) error {
	if !slices.Contains(allowed, value) {
		return types.NewInvalidRequestError(fmt.Sprintf("%s: %s must be one of %v, got %q", tool, field, allowed, value))
	}
	return nil
}
