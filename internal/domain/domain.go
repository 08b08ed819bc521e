package domain

// Action kinds. A chain is a tree of actions rooted at a request; approvals
// are appended as children and a reject, cancel, or publish closes the chain.
const (
	KindRequest = "request"
	KindApprove = "approve"
	KindReject  = "reject"
	KindCancel  = "cancel"
	KindPublish = "publish"
)

// Chain statuses derived from the last action of a chain.
const (
	StatusRequested = "requested"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusPublished = "published"
)

type Site struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BaseURL   string `json:"base_url,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Page struct {
	ID        string  `json:"id"`
	SiteID    string  `json:"site_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Depth     int     `json:"depth"`
	Slug      string  `json:"slug"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Title is the per-language record of a page. All moderation state attaches
// to titles, never to pages, so each translation moves through its workflow
// independently.
type Title struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	Language  string `json:"language"`
	Text      string `json:"text"`
	Draft     bool   `json:"draft"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Workflow struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Default   bool    `json:"default"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	Stages    []Stage `json:"stages,omitempty"`
}

// Stage is one step of a workflow. Only members of the stage's group may
// approve or reject at it. Orders need not be contiguous and equal orders
// are legal.
type Stage struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	GroupID    string `json:"group_id"`
	Order      int    `json:"order"`
	Optional   bool   `json:"optional"`
}

// Binding attaches a workflow to a title. Descendants extends the binding
// to same-language titles of descendant pages that lack their own.
type Binding struct {
	TitleID     string `json:"title_id"`
	WorkflowID  string `json:"workflow_id"`
	Descendants bool   `json:"descendants"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Action is one node of an approval chain. Workflow, stage, and group are
// snapshotted at creation so later configuration edits never rewrite
// history; stage, group, and user become null if the referenced row is
// deleted afterwards.
type Action struct {
	ID         string  `json:"id"`
	TitleID    string  `json:"title_id"`
	WorkflowID string  `json:"workflow_id"`
	StageID    *string `json:"stage_id,omitempty"`
	GroupID    *string `json:"group_id,omitempty"`
	RootID     string  `json:"root_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	Depth      int     `json:"depth"`
	Kind       string  `json:"kind" enum:"request,approve,reject,cancel,publish"`
	UserID     *string `json:"user_id,omitempty"`
	Message    string  `json:"message,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// DeliveryIntent is what notification dispatch hands to the mailer. The
// engine decides who gets told; delivery belongs to the mail service.
type DeliveryIntent struct {
	Audience    string         `json:"audience" enum:"author,editor"`
	TemplateKey string         `json:"template_key"`
	Recipients  []string       `json:"recipients"`
	Context     map[string]any `json:"context,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SiteID     string `json:"site_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
