package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// Goal context keys.
const (
	GoalContextDecomposition = "decomposition"
	GoalContextFailurePrefix = "failure_"
	GoalContextPausedReason  = "paused_reason"
)

type Goal struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	Priority        Priority             `json:"priority"`
	SuccessCriteria []string             `json:"success_criteria,omitempty"`
	Status          GoalStatus           `json:"status"`
	Decomposition   []DecompositionEntry `json:"decomposition,omitempty"`
	Context         map[string]any       `json:"context,omitempty"`
	TotalPlans      int                  `json:"total_plans"`
	CompletedPlans  int                  `json:"completed_plans"`
	FailedPlans     int                  `json:"failed_plans"`
	PlanIDs         []string             `json:"plan_ids,omitempty"`
	Source          string               `json:"source,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// DecompositionEntry is one planned sub-plan of a goal. PlanID links the entry
// to the plan it spawned once one exists.
type DecompositionEntry struct {
	Order       int    `json:"order"`
	Agent       string `json:"agent"`
	Intent      string `json:"intent"`
	Title       string `json:"title"`
	DependsOn   string `json:"depends_on,omitempty"`
	Description string `json:"description,omitempty"`
	PlanID      string `json:"plan_id,omitempty"`
}

// UnmarshalJSON accepts depends_on as a string, a number or null since model
// output is not consistent about it.
func (e *DecompositionEntry) UnmarshalJSON(data []byte) error {
	type alias DecompositionEntry
	aux := struct {
		*alias
		Order     any `json:"order"`
		DependsOn any `json:"depends_on"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Order = anyToInt(aux.Order)
	switch v := aux.DependsOn.(type) {
	case nil:
		e.DependsOn = ""
	case string:
		e.DependsOn = strings.TrimSpace(v)
	case float64:
		e.DependsOn = strconv.Itoa(int(v))
	default:
		e.DependsOn = fmt.Sprint(v)
	}
	return nil
}

func anyToInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	return 0
}

// Progress returns round(100 * completed / total), 0 for a goal with no plans.
func (g *Goal) Progress() int {
	if g.TotalPlans <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(g.CompletedPlans) / float64(g.TotalPlans)))
}

func (g *Goal) SetContext(key string, value any) {
	if g.Context == nil {
		g.Context = make(map[string]any)
	}
	g.Context[key] = value
}

// AttachPlan records planID against the decomposition entry with the given
// order. It returns false when no such entry exists.
func (g *Goal) AttachPlan(order int, planID string) bool {
	for i := range g.Decomposition {
		if g.Decomposition[i].Order == order {
			g.Decomposition[i].PlanID = planID
			g.addPlanID(planID)
			return true
		}
	}
	return false
}

func (g *Goal) addPlanID(planID string) {
	for _, id := range g.PlanIDs {
		if id == planID {
			return
		}
	}
	g.PlanIDs = append(g.PlanIDs, planID)
}

// HasPlan reports whether the plan belongs to this goal.
func (g *Goal) HasPlan(planID string) bool {
	for _, id := range g.PlanIDs {
		if id == planID {
			return true
		}
	}
	return false
}

// LinkPlan adds a plan to the goal without a decomposition entry.
func (g *Goal) LinkPlan(planID string) {
	g.addPlanID(planID)
}
