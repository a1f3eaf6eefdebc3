package models

import (
	"time"

	"github.com/punchamoorthee/quotaops/internal/quota"
)

// Argument bundles and results for the engine call table. Batch calls
// report per-item rejections and succeed for the rest.

type CreateEntityItem struct {
	Entity   string `json:"entity"`
	Owner    string `json:"owner"`
	Key      string `json:"key"`
	OwnerKey string `json:"ownerkey"`
}

type CreateEntityArgs struct {
	Entities []CreateEntityItem `json:"entities"`
}

// CreateEntityResult lists indices of rejected items.
type CreateEntityResult struct {
	Rejected []int `json:"rejected"`
}

type SetEntityKeyItem struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
	NewKey string `json:"newkey"`
}

type SetEntityKeyArgs struct {
	Entities []SetEntityKeyItem `json:"entities"`
}

type SetEntityKeyResult struct {
	Rejected []string `json:"rejected"`
}

type EntityKeyItem struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
}

type GetEntityArgs struct {
	Entities []EntityKeyItem `json:"entities"`
}

type EntityOwner struct {
	Entity string `json:"entity"`
	Owner  string `json:"owner"`
}

type GetEntityResult struct {
	Entities []EntityOwner `json:"entities"`
}

type ListEntitiesArgs struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
}

type ListEntitiesResult struct {
	Entities []string `json:"entities"`
}

type ReleaseEntityArgs struct {
	Entities []EntityKeyItem `json:"entities"`
}

type ReleaseEntityResult struct {
	Rejected []string `json:"rejected"`
}

type SetQuotaItem struct {
	Entity      string      `json:"entity"`
	Resource    string      `json:"resource"`
	Key         string      `json:"key"`
	Quantity    quota.Limit `json:"quantity"`
	Capacity    quota.Limit `json:"capacity"`
	ImportLimit quota.Limit `json:"import_limit"`
	ExportLimit quota.Limit `json:"export_limit"`
	Flags       int64       `json:"flags"`
}

type SetQuotaArgs struct {
	Quotas []SetQuotaItem `json:"quotas"`
}

type RejectedQuota struct {
	Entity   string `json:"entity"`
	Resource string `json:"resource"`
	Code     string `json:"code"`
}

type SetQuotaResult struct {
	Rejected []RejectedQuota `json:"rejected"`
}

// AddQuotaItem carries signed deltas applied to each finite limit of the
// holding's current policy. Unlimited limits absorb any delta.
type AddQuotaItem struct {
	Entity      string `json:"entity"`
	Resource    string `json:"resource"`
	Key         string `json:"key"`
	Quantity    int64  `json:"quantity"`
	Capacity    int64  `json:"capacity"`
	ImportLimit int64  `json:"import_limit"`
	ExportLimit int64  `json:"export_limit"`
}

type AddQuotaArgs struct {
	ClientKey string         `json:"clientkey,omitempty"`
	Serial    *int64         `json:"serial,omitempty"`
	Quotas    []AddQuotaItem `json:"quotas"`
}

type AddQuotaResult struct {
	Rejected []RejectedQuota `json:"rejected"`
}

type AckSerialsArgs struct {
	ClientKey string  `json:"clientkey"`
	Serials   []int64 `json:"serials"`
}

type AckedSerial struct {
	Serial int64        `json:"serial"`
	Args   *AddQuotaArgs `json:"args,omitempty"`
}

type AckSerialsResult struct {
	Acked []AckedSerial `json:"acked"`
}

type HoldingKeyItem struct {
	Entity   string `json:"entity"`
	Resource string `json:"resource"`
	Key      string `json:"key"`
}

type GetQuotaArgs struct {
	Holdings []HoldingKeyItem `json:"holdings"`
}

// QuotaView is the settled quota tuple returned by get_quota.
type QuotaView struct {
	Entity      string      `json:"entity"`
	Resource    string      `json:"resource"`
	Quantity    quota.Limit `json:"quantity"`
	Capacity    quota.Limit `json:"capacity"`
	ImportLimit quota.Limit `json:"import_limit"`
	ExportLimit quota.Limit `json:"export_limit"`
	// ActualQuantity is the settled balance. When Quantity is
	// unlimited (null) no finite balance exists and the field holds
	// the net settled counter sum instead:
	// imported + returned - exported - released.
	ActualQuantity int64 `json:"actual_quantity"`
	Flags          int64 `json:"flags"`
}

type GetQuotaResult struct {
	Quotas []QuotaView `json:"quotas"`
}

// HoldingView is the full holding+policy tuple returned by get_holding.
type HoldingView struct {
	QuotaView
	Imported  int64 `json:"imported"`
	Importing int64 `json:"importing"`
	Exported  int64 `json:"exported"`
	Exporting int64 `json:"exporting"`
	Returned  int64 `json:"returned"`
	Returning int64 `json:"returning"`
	Released  int64 `json:"released"`
	Releasing int64 `json:"releasing"`
}

type GetHoldingResult struct {
	Holdings []HoldingView `json:"holdings"`
}

type ListHoldingsArgs struct {
	Entities []EntityKeyItem `json:"entities"`
}

type EntityHoldings struct {
	Entity    string   `json:"entity"`
	Resources []string `json:"resources"`
}

type ListHoldingsResult struct {
	Holdings []EntityHoldings `json:"holdings"`
	Rejected []string         `json:"rejected"`
}

type ReleaseHoldingArgs struct {
	Holdings []HoldingKeyItem `json:"holdings"`
}

type ReleaseHoldingResult struct {
	Rejected []RejectedQuota `json:"rejected"`
}

type ProvisionItem struct {
	Entity   string `json:"entity"`
	Resource string `json:"resource"`
	Quantity int64  `json:"quantity"`
}

type IssueCommissionArgs struct {
	ClientKey  string          `json:"clientkey"`
	Target     string          `json:"target"`
	Key        string          `json:"key"`
	Name       string          `json:"name"`
	Provisions []ProvisionItem `json:"provisions"`
}

type IssueCommissionResult struct {
	Serial int64 `json:"serial"`
}

type ResolveCommissionsArgs struct {
	ClientKey string  `json:"clientkey"`
	Serials   []int64 `json:"serials"`
	Reason    string  `json:"reason"`
}

type GetPendingCommissionsArgs struct {
	ClientKey string `json:"clientkey"`
}

type GetPendingCommissionsResult struct {
	Serials []int64 `json:"serials"`
}

type ResolvePendingCommissionsArgs struct {
	ClientKey string  `json:"clientkey"`
	MaxSerial int64   `json:"max_serial"`
	Accept    []int64 `json:"accept"`
	Reason    string  `json:"reason"`
}

type GetTimelineArgs struct {
	After    time.Time        `json:"after"`
	Before   time.Time        `json:"before"`
	Holdings []HoldingKeyItem `json:"holdings"`
}

// TimelineSide carries the six derived quantities for one side of a
// settled provision, computed from the frozen after-image counters.
type TimelineSide struct {
	Entity           string `json:"entity"`
	Allocated        int64  `json:"allocated"`
	AllocatedThrough int64  `json:"allocated_through"`
	Inbound          int64  `json:"inbound"`
	InboundThrough   int64  `json:"inbound_through"`
	Outbound         int64  `json:"outbound"`
	OutboundThrough  int64  `json:"outbound_through"`
}

type TimelineEntry struct {
	Serial    int64        `json:"serial"`
	Name      string       `json:"name"`
	Resource  string       `json:"resource"`
	Quantity  int64        `json:"delta_quantity"`
	Source    TimelineSide `json:"source"`
	Target    TimelineSide `json:"target"`
	IssueTime time.Time    `json:"issue_time"`
	LogTime   time.Time    `json:"log_time"`
	Reason    string       `json:"reason"`
}

type GetTimelineResult struct {
	Entries []TimelineEntry `json:"entries"`
}
