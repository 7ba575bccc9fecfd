package sitemap

import "time"

type IssueType string

const (
	IssueCompliance IssueType = "compliance"
	IssuePower      IssueType = "power"
	IssueCapacity   IssueType = "capacity"
	IssueSafety     IssueType = "safety"
	IssueCustom     IssueType = "custom"
)

type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

// MapIssue tracks a soft violation, or a manually reported problem, on one
// entity. Rule-raised issues are keyed by EntityID and RuleID.
type MapIssue struct {
	ID          string        `json:"id"`
	SiteMapID   string        `json:"siteMapId"`
	EntityID    string        `json:"entityId"`
	EntityType  Kind          `json:"entityType"`
	RuleID      string        `json:"ruleId,omitempty"`
	Type        IssueType     `json:"type"`
	Severity    IssueSeverity `json:"severity"`
	Status      IssueStatus   `json:"status"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	ReportedBy  string        `json:"reportedBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy  string        `json:"resolvedBy,omitempty"`
}

func (i MapIssue) Clone() MapIssue {
	i.ResolvedAt = cloneTime(i.ResolvedAt)
	return i
}
