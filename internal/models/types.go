package models

import (
	"encoding/json"
	"time"

	"github.com/punchamoorthee/quotaops/internal/quota"
)

// Entity is an account-like principal that can hold quota. Entities form
// a tree through Owner; the root entity owns itself.
type Entity struct {
	Name  string `json:"entity"`
	Owner string `json:"owner"`
	Key   string `json:"-"`
}

// Policy is an immutable set of limits shared by reference from holdings.
// Changing a holding's limits mints a new Policy and repoints the holding;
// the old record is dropped once its reference count reaches zero.
type Policy struct {
	Name        string      `json:"policy"`
	Quantity    quota.Limit `json:"quantity"`
	Capacity    quota.Limit `json:"capacity"`
	ImportLimit quota.Limit `json:"import_limit"`
	ExportLimit quota.Limit `json:"export_limit"`
	RefCount    int         `json:"-"`
}

// Holding is the per (entity, resource) balance record. The four
// settled/pending counter pairs are non-negative by construction.
type Holding struct {
	Entity   string `json:"entity"`
	Resource string `json:"resource"`
	Policy   string `json:"policy"`
	Flags    int64  `json:"flags"`

	Imported  int64 `json:"imported"`
	Importing int64 `json:"importing"`
	Exported  int64 `json:"exported"`
	Exporting int64 `json:"exporting"`
	Returned  int64 `json:"returned"`
	Returning int64 `json:"returning"`
	Released  int64 `json:"released"`
	Releasing int64 `json:"releasing"`
}

// Pending reports whether the holding carries any unresolved reservation.
func (h *Holding) Pending() bool {
	return h.Importing != 0 || h.Exporting != 0 || h.Returning != 0 || h.Releasing != 0
}

// Counters returns the settled counter snapshot frozen into log rows.
func (h *Holding) Counters() quota.Counters {
	return quota.Counters{
		Imported: h.Imported,
		Exported: h.Exported,
		Returned: h.Returned,
		Released: h.Released,
	}
}

// Commission is a pending atomic transfer awaiting accept or reject.
type Commission struct {
	Serial    int64     `json:"serial"`
	Target    string    `json:"target"`
	ClientKey string    `json:"clientkey"`
	Name      string    `json:"name"`
	IssueTime time.Time `json:"issue_time"`
}

// Provision is one (source, resource, signed quantity) leg of a
// Commission. Positive quantity moves from source into the commission
// target; negative quantity moves back from target to source.
type Provision struct {
	Serial   int64  `json:"serial"`
	Source   string `json:"entity"`
	Resource string `json:"resource"`
	Quantity int64  `json:"quantity"`
}

// HoldingImage is the frozen state of one side of a settled provision.
type HoldingImage struct {
	Entity      string         `json:"entity"`
	Quantity    quota.Limit    `json:"quantity"`
	Capacity    quota.Limit    `json:"capacity"`
	ImportLimit quota.Limit    `json:"import_limit"`
	ExportLimit quota.Limit    `json:"export_limit"`
	Before      quota.Counters `json:"before"`
	After       quota.Counters `json:"after"`
}

// ProvisionLog is the append-only audit row written when a provision
// settles. Never updated or deleted.
type ProvisionLog struct {
	ID        int64        `json:"id"`
	Serial    int64        `json:"serial"`
	Name      string       `json:"name"`
	Resource  string       `json:"resource"`
	Quantity  int64        `json:"delta_quantity"`
	Source    HoldingImage `json:"source"`
	Target    HoldingImage `json:"target"`
	IssueTime time.Time    `json:"issue_time"`
	LogTime   time.Time    `json:"log_time"`
	Reason    string       `json:"reason"`
}

// CallSerial records an applied (clientkey, serial) add_quota call so a
// retried call is rejected instead of re-applied.
type CallSerial struct {
	ClientKey string          `json:"clientkey"`
	Serial    int64           `json:"serial"`
	Args      json.RawMessage `json:"args"`
	Applied   time.Time       `json:"applied"`
}
