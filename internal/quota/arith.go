package quota

// Counters is the settled side of a holding's ledger state, frozen into
// audit rows at settlement time.
type Counters struct {
	Imported int64 `json:"imported"`
	Exported int64 `json:"exported"`
	Returned int64 `json:"returned"`
	Released int64 `json:"released"`
}

// Inbound is the settled amount received from the owner.
func (c Counters) Inbound() int64 { return c.Imported }

// InboundThrough folds reversal traffic into the inbound total.
func (c Counters) InboundThrough() int64 { return c.Imported + c.Returned }

// Outbound is the settled amount sent onward.
func (c Counters) Outbound() int64 { return c.Exported }

// OutboundThrough folds reversal traffic into the outbound total.
func (c Counters) OutboundThrough() int64 { return c.Exported + c.Released }

// Allocated is the net settled inbound position excluding reversals.
func (c Counters) Allocated() int64 { return c.Imported - c.Exported }

// AllocatedThrough is the net settled position including reversals.
func (c Counters) AllocatedThrough() int64 {
	return c.Imported + c.Returned - c.Exported - c.Released
}

// View is the full arithmetic state of one holding: its policy limits
// plus settled and pending counters. All reserve-time checks are pure
// functions of a View.
type View struct {
	Quantity    Limit
	Capacity    Limit
	ImportLimit Limit
	ExportLimit Limit

	Imported  int64
	Importing int64
	Exported  int64
	Exporting int64
	Returned  int64
	Returning int64
	Released  int64
	Releasing int64
}

// ActualQuantity is the settled balance:
// quantity + imported + returned - exported - released.
// Unlimited quantity reports ok=false.
func (v View) ActualQuantity() (n int64, ok bool) {
	if !v.Quantity.Valid {
		return 0, false
	}
	return v.Quantity.Value + v.Imported + v.Returned - v.Exported - v.Released, true
}

// Available is the realizable outbound amount while reservations are
// pending: the settled balance minus everything currently reserved for
// export or release. Unlimited quantity reports ok=false.
func (v View) Available() (n int64, ok bool) {
	actual, ok := v.ActualQuantity()
	if !ok {
		return 0, false
	}
	return actual - v.Exporting - v.Releasing, true
}

// Headroom is the realizable inbound capacity: the capacity minus the
// net settled inbound minus everything currently reserved inbound.
// Unlimited capacity reports ok=false.
func (v View) Headroom() (n int64, ok bool) {
	if !v.Capacity.Valid {
		return 0, false
	}
	net := v.Imported + v.Returned - v.Exported - v.Released
	return v.Capacity.Value - net - v.Importing - v.Returning, true
}

// CheckOutbound verifies that n more units can be reserved outbound:
// exporting for forward flows, releasing for reversals. The reversal
// flag selects which running totals count against the export limit.
func (v View) CheckOutbound(n int64, reversal bool) error {
	if avail, ok := v.Available(); ok && avail < n {
		return NoQuantity("available %d < requested %d", avail, n)
	}
	if reversal {
		if !v.ExportLimit.Allows(v.Released + v.Releasing + n) {
			return ExportLimit("releasing %d over export limit %s",
				v.Released+v.Releasing+n, v.ExportLimit)
		}
		return nil
	}
	if !v.ExportLimit.Allows(v.Exported + v.Exporting + n) {
		return ExportLimit("exporting %d over export limit %s",
			v.Exported+v.Exporting+n, v.ExportLimit)
	}
	return nil
}

// CheckInbound verifies that n more units can be reserved inbound
// (importing for forward flows, returning for reversals).
func (v View) CheckInbound(n int64, reversal bool) error {
	if room, ok := v.Headroom(); ok && room < n {
		return NoCapacity("headroom %d < requested %d", room, n)
	}
	if reversal {
		if !v.ImportLimit.Allows(v.Returned + v.Returning + n) {
			return ImportLimit("returning %d over import limit %s",
				v.Returned+v.Returning+n, v.ImportLimit)
		}
		return nil
	}
	if !v.ImportLimit.Allows(v.Imported + v.Importing + n) {
		return ImportLimit("importing %d over import limit %s",
			v.Imported+v.Importing+n, v.ImportLimit)
	}
	return nil
}
