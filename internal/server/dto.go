package server

import (
	"signoff/internal/domain"
	"signoff/internal/engine"
)

// Request payloads

type CreateWorkflowStageRequest struct {
	GroupID  string `json:"group_id"`
	Order    int    `json:"order"`
	Optional bool   `json:"optional,omitempty"`
}

type CreateWorkflowRequest struct {
	Name    string                       `json:"name"`
	Default bool                         `json:"default,omitempty"`
	Stages  []CreateWorkflowStageRequest `json:"stages,omitempty"`
}

type CreatePageRequest struct {
	Slug     string  `json:"slug"`
	ParentID *string `json:"parent_id,omitempty"`
}

type CreateTitleRequest struct {
	Language string `json:"language"`
	Text     string `json:"text,omitempty"`
}

type BindWorkflowRequest struct {
	WorkflowID  string `json:"workflow_id"`
	Descendants bool   `json:"descendants,omitempty"`
}

type ModerationActionRequest struct {
	Message string `json:"message,omitempty"`
	Editor  string `json:"editor,omitempty"`
}

type PublishedHookRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type StageResponse struct {
	ID       string `json:"id"`
	GroupID  string `json:"group_id"`
	Order    int    `json:"order"`
	Optional bool   `json:"optional"`
}

type WorkflowResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Default   bool            `json:"default"`
	Stages    []StageResponse `json:"stages"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

type PageResponse struct {
	ID        string  `json:"id"`
	SiteID    string  `json:"site_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Depth     int     `json:"depth"`
	Slug      string  `json:"slug"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type TitleResponse struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	Language  string `json:"language"`
	Text      string `json:"text,omitempty"`
	Draft     bool   `json:"draft"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type BindingResponse struct {
	TitleID     string `json:"title_id"`
	WorkflowID  string `json:"workflow_id"`
	Descendants bool   `json:"descendants"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ActionResponse struct {
	ID         string  `json:"id"`
	TitleID    string  `json:"title_id"`
	WorkflowID string  `json:"workflow_id"`
	StageID    *string `json:"stage_id,omitempty"`
	GroupID    *string `json:"group_id,omitempty"`
	ParentID   *string `json:"parent_id,omitempty"`
	Depth      int     `json:"depth"`
	Kind       string  `json:"kind" enum:"request,approve,reject,cancel,publish"`
	UserID     *string `json:"user_id,omitempty"`
	Message    string  `json:"message,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type TitleStatusResponse struct {
	TitleID      string           `json:"title_id"`
	WorkflowID   string           `json:"workflow_id,omitempty"`
	WorkflowName string           `json:"workflow_name,omitempty"`
	Status       string           `json:"status,omitempty"`
	Open         bool             `json:"open"`
	Publishable  bool             `json:"publishable"`
	Editable     bool             `json:"editable"`
	Chain        []ActionResponse `json:"chain,omitempty"`
}

type GroupResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SiteID     string `json:"site_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func workflowResponse(w domain.Workflow) WorkflowResponse {
	stages := []StageResponse{}
	for _, s := range w.Stages {
		stages = append(stages, StageResponse{ID: s.ID, GroupID: s.GroupID, Order: s.Order, Optional: s.Optional})
	}
	return WorkflowResponse{
		ID:        w.ID,
		Name:      w.Name,
		Default:   w.Default,
		Stages:    stages,
		CreatedAt: w.CreatedAt,
	}
}

func mapWorkflows(items []domain.Workflow) []WorkflowResponse {
	res := []WorkflowResponse{}
	for _, w := range items {
		res = append(res, workflowResponse(w))
	}
	return res
}

func pageResponse(p domain.Page) PageResponse {
	return PageResponse{ID: p.ID, SiteID: p.SiteID, ParentID: p.ParentID, Depth: p.Depth, Slug: p.Slug, CreatedAt: p.CreatedAt}
}

func titleResponse(t domain.Title) TitleResponse {
	return TitleResponse{ID: t.ID, PageID: t.PageID, Language: t.Language, Text: t.Text, Draft: t.Draft, CreatedAt: t.CreatedAt}
}

func bindingResponse(b domain.Binding) BindingResponse {
	return BindingResponse{TitleID: b.TitleID, WorkflowID: b.WorkflowID, Descendants: b.Descendants, CreatedAt: b.CreatedAt}
}

func actionResponse(a domain.Action) ActionResponse {
	return ActionResponse{
		ID:         a.ID,
		TitleID:    a.TitleID,
		WorkflowID: a.WorkflowID,
		StageID:    a.StageID,
		GroupID:    a.GroupID,
		ParentID:   a.ParentID,
		Depth:      a.Depth,
		Kind:       a.Kind,
		UserID:     a.UserID,
		Message:    a.Message,
		CreatedAt:  a.CreatedAt,
	}
}

func mapActions(items []domain.Action) []ActionResponse {
	res := []ActionResponse{}
	for _, a := range items {
		res = append(res, actionResponse(a))
	}
	return res
}

func statusResponse(st engine.TitleStatus) TitleStatusResponse {
	return TitleStatusResponse{
		TitleID:      st.TitleID,
		WorkflowID:   st.WorkflowID,
		WorkflowName: st.WorkflowName,
		Status:       st.Status,
		Open:         st.Open,
		Publishable:  st.Publishable,
		Editable:     st.Editable,
		Chain:        mapActions(st.Chain),
	}
}

func groupResponse(g domain.Group) GroupResponse {
	return GroupResponse{ID: g.ID, Name: g.Name, CreatedAt: g.CreatedAt}
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SiteID:     e.SiteID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
