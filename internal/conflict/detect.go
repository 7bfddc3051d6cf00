// Package conflict detects and resolves conflicting SyncEvents. Detection
// and resolution are pure functions over in-memory values — no I/O, so
// none of this package may block or yield.
package conflict

import (
	"time"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// concurrentUpdateWindow is the maximum |incoming.updated-at -
// stored.updated-at| delta that still counts as a concurrent write.
const concurrentUpdateWindow = time.Second

// Detection is the outcome of checking an incoming event against the
// entity's last known version and payload.
type Detection struct {
	Conflicted bool
	Kind       syncmodel.ConflictKind
	Detail     string
}

// Detect compares an incoming event against the entity's last recorded
// version and current stored payload, in priority order: version, then
// concurrent-update, then data-inconsistency on the entity type's
// critical fields, then schema-mismatch. criticalFields comes from the
// entity type's EntitySyncConfig.
func Detect(incoming *syncmodel.SyncEvent, latestVersion int64, existing syncmodel.Payload, criticalFields []string) Detection {
	if incoming.Version != 0 && latestVersion != 0 && incoming.Version < latestVersion {
		return Detection{
			Conflicted: true,
			Kind:       syncmodel.ConflictVersion,
			Detail:     "incoming event's base version is behind the latest recorded version",
		}
	}

	if existing == nil || incoming.Payload == nil {
		return Detection{}
	}

	if delta, ok := updatedAtDelta(existing, incoming.Payload); ok && delta < concurrentUpdateWindow {
		return Detection{
			Conflicted: true,
			Kind:       syncmodel.ConflictConcurrentUpdate,
			Detail:     "incoming and existing updated-at timestamps are within 1s of each other",
		}
	}

	if field, differs := criticalFieldDiffers(incoming.Payload, existing, criticalFields); differs {
		return Detection{
			Conflicted: true,
			Kind:       syncmodel.ConflictDataInconsistency,
			Detail:     "critical field \"" + field + "\" differs between incoming and existing payload",
		}
	}

	if keySetsDiffer(incoming.Payload, existing) {
		return Detection{
			Conflicted: true,
			Kind:       syncmodel.ConflictSchemaMismatch,
			Detail:     "incoming and existing payloads have differing key sets",
		}
	}

	return Detection{}
}

// updatedAtDelta returns |a.updated-at - b.updated-at|, or false if
// either side lacks a comparable updated-at field.
func updatedAtDelta(a, b syncmodel.Payload) (time.Duration, bool) {
	at, aok := a.TimeField(syncmodel.UpdatedAtField)
	bt, bok := b.TimeField(syncmodel.UpdatedAtField)
	if !aok || !bok {
		return 0, false
	}
	d := bt.Sub(at)
	if d < 0 {
		d = -d
	}
	return d, true
}

// criticalFieldDiffers returns the first critical field whose presence or
// value differs between incoming and existing, or "" if none do.
func criticalFieldDiffers(incoming, existing syncmodel.Payload, criticalFields []string) (string, bool) {
	for _, f := range criticalFields {
		iv, iok := incoming[f]
		ev, eok := existing[f]
		if iok != eok {
			return f, true
		}
		if iok && eok && !iv.Equal(ev) {
			return f, true
		}
	}
	return "", false
}

// keySetsDiffer reports whether a and b have different field-name sets.
func keySetsDiffer(a, b syncmodel.Payload) bool {
	ak, bk := a.Keys(), b.Keys()
	if len(ak) != len(bk) {
		return true
	}
	for k := range ak {
		if _, ok := bk[k]; !ok {
			return true
		}
	}
	return false
}
