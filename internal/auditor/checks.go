package auditor

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

const maxDetails = 50

func appendDetail(details []string, format string, args ...any) []string {
	if len(details) >= maxDetails {
		return details
	}
	return append(details, fmt.Sprintf(format, args...))
}

// consistency reads every sampled id from each readable source and diffs
// it, field by field, against the first source (the entity type's system
// of record). Every field difference, or a missing row on a non-primary
// source, marks that id inconsistent.
func (a *Auditor) consistency(ctx context.Context, cfg syncmodel.EntitySyncConfig, ids []string, sources []namedReader) (sampled, discrepancies int, ratio float64, details []string) {
	if len(sources) < 2 {
		return 0, 0, 1, nil
	}
	primary := sources[0]

	for _, id := range ids {
		base, err := primary.Read(ctx, cfg.EntityType, id)
		if err != nil {
			if errors.Is(err, adapter.ErrNotFound) {
				continue
			}
			continue
		}
		sampled++

		mismatched := false
		for _, src := range sources[1:] {
			other, err := src.Read(ctx, cfg.EntityType, id)
			if err != nil {
				if errors.Is(err, adapter.ErrNotFound) {
					mismatched = true
					details = appendDetail(details, "%s: present in %s, missing from %s", id, primary.Name(), src.Name())
				}
				continue
			}
			if diff := base.Diff(other); len(diff) > 0 {
				mismatched = true
				details = appendDetail(details, "%s: fields %v differ between %s and %s", id, diff, primary.Name(), src.Name())
			}
		}
		if mismatched {
			discrepancies++
		}
	}

	if sampled == 0 {
		return 0, 0, 1, details
	}
	return sampled, discrepancies, 1 - float64(discrepancies)/float64(sampled), details
}

// completeness flags any sampled id absent from one or more readable
// sources. The id universe is the recently-active sample rather than a
// full per-source listing: none of the adapter kinds expose a list-ids
// capability, and the recently-touched set is what the hourly cadence
// actually needs to catch a dropped write.
func (a *Auditor) completeness(ctx context.Context, cfg syncmodel.EntitySyncConfig, ids []string, sources []namedReader) (sampled, discrepancies int, ratio float64, details []string) {
	if len(sources) == 0 {
		return 0, 0, 0, nil
	}

	for _, id := range ids {
		sampled++
		var missingFrom []string
		for _, src := range sources {
			if _, err := src.Read(ctx, cfg.EntityType, id); err != nil {
				if errors.Is(err, adapter.ErrNotFound) {
					missingFrom = append(missingFrom, src.Name())
				}
			}
		}
		if len(missingFrom) > 0 {
			discrepancies++
			details = appendDetail(details, "%s: missing from %v", id, missingFrom)
		}
	}

	if sampled == 0 {
		return 0, 0, 0, nil
	}
	return sampled, discrepancies, float64(discrepancies) / float64(sampled), details
}

// referentialIntegrity checks each configured reference field against the
// source holding the referenced entity type, preferring a source with the
// same name as the one the referencing record was read from (the same
// physical store), falling back to whichever readable source is
// registered for that entity type.
func (a *Auditor) referentialIntegrity(ctx context.Context, cfg syncmodel.EntitySyncConfig, ids []string, sources []namedReader) (sampled, discrepancies int, ratio float64, details []string) {
	if len(sources) == 0 || len(cfg.Schema.References) == 0 {
		return 0, 0, 0, nil
	}
	primary := sources[0]

	for _, id := range ids {
		payload, err := primary.Read(ctx, cfg.EntityType, id)
		if err != nil {
			continue
		}

		for field, targetType := range cfg.Schema.References {
			refID, ok := payload.StringField(field)
			if !ok || refID == "" {
				continue
			}
			sampled++

			target := a.sourceNamed(targetType, primary.Name())
			if target == nil {
				continue
			}
			if _, err := target.Read(ctx, targetType, refID); err != nil {
				if errors.Is(err, adapter.ErrNotFound) {
					discrepancies++
					details = appendDetail(details, "%s.%s -> %s/%s: not found", id, field, targetType, refID)
				}
			}
		}
	}

	if sampled == 0 {
		return 0, 0, 0, nil
	}
	return sampled, discrepancies, float64(discrepancies) / float64(sampled), details
}

func (a *Auditor) sourceNamed(entityType, preferredName string) namedReader {
	candidates := a.readableSources(entityType)
	for _, src := range candidates {
		if src.Name() == preferredName {
			return src
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}

// schemaValidation checks each sampled record's payload against the
// entity type's configured required fields and field kinds.
func (a *Auditor) schemaValidation(ctx context.Context, cfg syncmodel.EntitySyncConfig, ids []string, sources []namedReader) (sampled, discrepancies int, ratio float64, details []string) {
	if len(sources) == 0 || (len(cfg.Schema.RequiredFields) == 0 && len(cfg.Schema.FieldTypes) == 0) {
		return 0, 0, 0, nil
	}
	primary := sources[0]

	for _, id := range ids {
		payload, err := primary.Read(ctx, cfg.EntityType, id)
		if err != nil {
			continue
		}
		sampled++

		var violations []string
		for _, field := range cfg.Schema.RequiredFields {
			if _, ok := payload[field]; !ok {
				violations = append(violations, "missing "+field)
			}
		}
		for field, wantKind := range cfg.Schema.FieldTypes {
			if v, ok := payload[field]; ok && v.Kind != wantKind {
				violations = append(violations, fmt.Sprintf("%s has wrong type", field))
			}
		}

		if len(violations) > 0 {
			discrepancies++
			details = appendDetail(details, "%s: %v", id, violations)
		}
	}

	if sampled == 0 {
		return 0, 0, 0, nil
	}
	return sampled, discrepancies, float64(discrepancies) / float64(sampled), details
}
