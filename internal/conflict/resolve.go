package conflict

import (
	"fmt"
	"time"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// CustomResolver merges incoming and existing payloads under
// caller-supplied, entity-type-specific rules. Registered per entity type
// via Resolver.RegisterCustom.
type CustomResolver func(incoming, existing syncmodel.Payload) (syncmodel.Payload, error)

// Resolver applies a ConflictRecord's strategy to produce a resolved
// payload. It never performs I/O: manual-strategy conflicts come back
// unresolved (State stays ConflictDetected) for an operator to resolve
// out of band via ResolveManually, and a custom resolver's failure comes
// back as a ConflictFailed record carrying the reason.
type Resolver struct {
	custom map[string]CustomResolver
}

// NewResolver returns a Resolver with no custom strategies registered.
func NewResolver() *Resolver {
	return &Resolver{custom: make(map[string]CustomResolver)}
}

// RegisterCustom associates a CustomResolver with an entity type, used
// when that entity type's EntitySyncConfig.Strategy is StrategyCustom.
func (r *Resolver) RegisterCustom(entityType string, fn CustomResolver) {
	r.custom[entityType] = fn
}

// Resolve builds a ConflictRecord from a Detection and applies cfg's
// conflict strategy to it. detectedAt supplies the record's DetectedAt
// timestamp; pass nil to use time.Now, or a fixed clock for deterministic
// tests. The record is always returned so the caller can persist it; the
// error is non-nil only when the strategy left it unresolved
// (StrategyManual, a failed or unregistered custom resolver, or an
// unknown strategy) and the caller must fail the triggering event.
func (r *Resolver) Resolve(incoming *syncmodel.SyncEvent, existing syncmodel.Payload, det Detection, cfg syncmodel.EntitySyncConfig, detectedAt func() time.Time) (*syncmodel.ConflictRecord, error) {
	if detectedAt == nil {
		detectedAt = func() time.Time { return time.Now().UTC() }
	}

	rec := &syncmodel.ConflictRecord{
		EventID:         incoming.ID,
		EntityType:      incoming.EntityType,
		EntityID:        incoming.EntityID,
		Kind:            det.Kind,
		Strategy:        cfg.Strategy,
		State:           syncmodel.ConflictDetected,
		IncomingPayload: incoming.Payload,
		ExistingPayload: existing,
		Detail:          det.Detail,
		DetectedAt:      detectedAt(),
	}

	var resolveErr error

	switch cfg.Strategy {
	case syncmodel.StrategyLastWriteWins:
		rec.ResolvedPayload = lastWriteWins(existing, incoming.Payload)
		rec.State = syncmodel.ConflictResolved
	case syncmodel.StrategyFirstWriteWins:
		rec.ResolvedPayload = firstWriteWins(existing, incoming.Payload)
		rec.State = syncmodel.ConflictResolved
	case syncmodel.StrategyMerge:
		rec.ResolvedPayload = mergePayloads(existing, incoming.Payload, cfg.MergeFields, cfg.IgnoreFields)
		rec.State = syncmodel.ConflictResolved
	case syncmodel.StrategyCustom:
		fn, ok := r.custom[incoming.EntityType]
		if !ok {
			resolveErr = fmt.Errorf("conflict: no custom resolver registered for entity type %q", incoming.EntityType)
			break
		}
		resolved, err := fn(incoming.Payload, existing)
		if err != nil {
			resolveErr = fmt.Errorf("conflict: custom resolver for %q: %w", incoming.EntityType, err)
			break
		}
		rec.ResolvedPayload = resolved
		rec.State = syncmodel.ConflictResolved
	case syncmodel.StrategyManual:
		resolveErr = fmt.Errorf("conflict %s requires manual resolution", incoming.ID)
	default:
		resolveErr = fmt.Errorf("conflict: unknown resolution strategy %q", cfg.Strategy)
	}

	// StrategyManual leaves the record in ConflictDetected for an operator
	// to pick up via ResolveManually. Every other failure (an erroring or
	// unregistered custom resolver, an unknown strategy) is a dead end:
	// the record is marked ConflictFailed and carries the reason.
	if resolveErr != nil && cfg.Strategy != syncmodel.StrategyManual {
		rec.State = syncmodel.ConflictFailed
		rec.Detail = resolveErr.Error()
	}

	if rec.State == syncmodel.ConflictResolved {
		rec.ResolvedAt = rec.DetectedAt
	}

	return rec, resolveErr
}

// ResolveManually applies an operator-supplied payload to an open,
// manual-strategy conflict.
func ResolveManually(rec *syncmodel.ConflictRecord, resolved syncmodel.Payload) error {
	if rec.State == syncmodel.ConflictResolved {
		return fmt.Errorf("conflict: record %s already resolved", rec.ID)
	}
	rec.ResolvedPayload = resolved
	rec.State = syncmodel.ConflictResolved
	rec.ResolvedAt = time.Now().UTC()
	return nil
}

// compareTimeField compares existing and incoming on field, returning 1
// if incoming is later, -1 if earlier, 0 if equal, and ok=false if either
// side lacks the field.
func compareTimeField(existing, incoming syncmodel.Payload, field string) (cmp int, ok bool) {
	et, eok := existing.TimeField(field)
	it, iok := incoming.TimeField(field)
	if !eok || !iok {
		return 0, false
	}
	switch {
	case it.After(et):
		return 1, true
	case it.Before(et):
		return -1, true
	default:
		return 0, true
	}
}

// lastWriteWins chooses the candidate with the greatest updated-at,
// falling back to created-at when updated-at can't be compared on both
// sides, and defaulting to incoming when neither timestamp is comparable.
func lastWriteWins(existing, incoming syncmodel.Payload) syncmodel.Payload {
	if cmp, ok := compareTimeField(existing, incoming, syncmodel.UpdatedAtField); ok {
		if cmp > 0 {
			return incoming
		}
		return existing
	}
	if cmp, ok := compareTimeField(existing, incoming, syncmodel.CreatedAtField); ok {
		if cmp > 0 {
			return incoming
		}
		return existing
	}
	return incoming
}

// firstWriteWins chooses the candidate with the smallest created-at,
// defaulting to existing when created-at can't be compared on both sides.
func firstWriteWins(existing, incoming syncmodel.Payload) syncmodel.Payload {
	if cmp, ok := compareTimeField(existing, incoming, syncmodel.CreatedAtField); ok {
		if cmp < 0 {
			return incoming
		}
		return existing
	}
	return existing
}

// mergePayloads starts from existing (candidate A) and, for each field in
// incoming (candidate B): skips fields in ignoreFields, takes incoming's
// value for fields in mergeFields or absent from existing, and otherwise
// — when the values differ — takes whichever candidate has the greater
// updated-at.
func mergePayloads(existing, incoming syncmodel.Payload, mergeFields, ignoreFields []string) syncmodel.Payload {
	ignore := toFieldSet(ignoreFields)
	alwaysIncoming := toFieldSet(mergeFields)

	out := make(syncmodel.Payload, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}

	for k, iv := range incoming {
		if _, skip := ignore[k]; skip {
			continue
		}
		ev, existsInA := out[k]
		if _, forceB := alwaysIncoming[k]; forceB || !existsInA {
			out[k] = iv
			continue
		}
		if ev.Equal(iv) {
			continue
		}
		if cmp, ok := compareTimeField(existing, incoming, syncmodel.UpdatedAtField); ok && cmp > 0 {
			out[k] = iv
		}
		// cmp <= 0, or updated-at isn't comparable: keep existing's value.
	}
	return out
}

func toFieldSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
