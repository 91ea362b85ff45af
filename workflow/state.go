package workflow

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// Status is the overall status of a workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Stage is one named step of a pipeline. Any non-empty name is a stage;
// the media production stages below form the default pipeline.
type Stage string

const (
	StageScriptGeneration Stage = "script_generation"
	StageSceneSplitting   Stage = "scene_splitting"
	StageImageGeneration  Stage = "image_generation"
	StageSceneDescription Stage = "scene_description"
	StageVideoGeneration  Stage = "video_generation"
	StageFinalAssembly    Stage = "final_assembly"
)

// maxStageLen matches the current_stage column width.
const maxStageLen = 64

var defaultPipeline = []Stage{
	StageScriptGeneration,
	StageSceneSplitting,
	StageImageGeneration,
	StageSceneDescription,
	StageVideoGeneration,
	StageFinalAssembly,
}

// Stages returns the default media production pipeline in order.
func Stages() []Stage {
	return slices.Clone(defaultPipeline)
}

// Valid reports whether s can name a stage.
func (s Stage) Valid() bool {
	return s != "" && len(s) <= maxStageLen && strings.TrimSpace(string(s)) == string(s)
}

// SceneStatus tracks one scene of the unit of work.
type SceneStatus struct {
	Status    Status          `json:"status"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// State is the workflow of one unit of work. Values handed out by the
// tracker are deep copies.
type State struct {
	UnitID          string                    `gorm:"column:unit_id;primaryKey" json:"unitId"`
	Status          Status                    `gorm:"column:status" json:"status"`
	CurrentStage    Stage                     `gorm:"column:current_stage" json:"currentStage"`
	Stages          []Stage                   `gorm:"column:stages;type:text;serializer:json" json:"stages"`
	StageResults    map[Stage]json.RawMessage `gorm:"column:stage_results;type:text;serializer:json" json:"stageResults"`
	CompletedStages []Stage                   `gorm:"column:completed_stages;type:text;serializer:json" json:"completedStages"`
	SceneStatuses   map[string]SceneStatus    `gorm:"column:scene_statuses;type:text;serializer:json" json:"sceneStatuses"`
	Progress        int                       `gorm:"column:progress" json:"progress"`
	ErrorMessage    string                    `gorm:"column:error_message" json:"errorMessage,omitempty"`
	StartedAt       *time.Time                `gorm:"column:started_at" json:"startedAt,omitempty"`
	CompletedAt     *time.Time                `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CreatedAt       time.Time                 `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time                 `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName implements gorm's tabler.
func (State) TableName() string {
	return "workflow_states"
}

// newState creates a pending workflow over stages, or over the default
// pipeline when stages is empty.
func newState(unitID string, now time.Time, stages []Stage) *State {
	if len(stages) == 0 {
		stages = defaultPipeline
	}
	return &State{
		UnitID:          unitID,
		Status:          StatusPending,
		CurrentStage:    stages[0],
		Stages:          slices.Clone(stages),
		StageResults:    make(map[Stage]json.RawMessage),
		CompletedStages: []Stage{},
		SceneStatuses:   make(map[string]SceneStatus),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.StageResults = make(map[Stage]json.RawMessage, len(s.StageResults))
	for k, v := range s.StageResults {
		cp.StageResults[k] = slices.Clone(v)
	}
	cp.Stages = slices.Clone(s.Stages)
	cp.CompletedStages = slices.Clone(s.CompletedStages)
	if cp.CompletedStages == nil {
		cp.CompletedStages = []Stage{}
	}
	cp.SceneStatuses = maps.Clone(s.SceneStatuses)
	if cp.SceneStatuses == nil {
		cp.SceneStatuses = make(map[string]SceneStatus)
	}
	for k, v := range cp.SceneStatuses {
		v.Data = slices.Clone(v.Data)
		cp.SceneStatuses[k] = v
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// HasCompleted reports whether stage is in CompletedStages.
func (s *State) HasCompleted(stage Stage) bool {
	return slices.Contains(s.CompletedStages, stage)
}

// pipeline returns the ordered stages of the workflow. Rows written before
// stages were stored use the default pipeline.
func (s *State) pipeline() []Stage {
	if len(s.Stages) == 0 {
		return defaultPipeline
	}
	return s.Stages
}

// ensureStage appends stage to the pipeline when it is not part of it and
// reports whether the pipeline changed.
func (s *State) ensureStage(stage Stage) bool {
	if slices.Contains(s.pipeline(), stage) {
		return false
	}
	s.Stages = append(slices.Clone(s.pipeline()), stage)
	return true
}

// nextOpenStage returns the first pipeline stage after stage not yet
// completed, or stage itself when none remain.
func (s *State) nextOpenStage(stage Stage) Stage {
	stages := s.pipeline()
	i := slices.Index(stages, stage)
	if i < 0 {
		return stage
	}
	for _, n := range stages[i+1:] {
		if !s.HasCompleted(n) {
			return n
		}
	}
	return stage
}

// markCompleted appends stage once.
func (s *State) markCompleted(stage Stage) {
	if !s.HasCompleted(stage) {
		s.CompletedStages = append(s.CompletedStages, stage)
	}
}

// recomputeProgress derives progress from scene statuses when scenes are
// tracked, otherwise from completed stages.
func (s *State) recomputeProgress() {
	if s.Status == StatusCompleted {
		s.Progress = 100
		return
	}
	if len(s.SceneStatuses) > 0 {
		done := 0
		for _, sc := range s.SceneStatuses {
			if sc.Status == StatusCompleted {
				done++
			}
		}
		s.Progress = percent(done, len(s.SceneStatuses))
		return
	}
	done := 0
	for _, stage := range s.pipeline() {
		if s.HasCompleted(stage) {
			done++
		}
	}
	s.Progress = percent(done, len(s.pipeline()))
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	// round half up
	return (part*200 + total) / (total * 2)
}
